//go:build !wasm
// +build !wasm

package gae

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/datastore"
	"google.golang.org/api/iterator"

	ta "github.com/panyam/trackauth"
)

// Kind constants for Datastore entities
const (
	KindCredential = "Credential"
	KindEmail      = "CredentialEmail"
)

// CredentialStore implements ta.CredentialStore using Google Cloud Datastore
type CredentialStore struct {
	client    *datastore.Client
	namespace string
}

// NewCredentialStore creates a new Datastore-backed CredentialStore
func NewCredentialStore(client *datastore.Client, namespace string) *CredentialStore {
	return &CredentialStore{client: client, namespace: namespace}
}

func (s *CredentialStore) namespacedKey(kind, name string) *datastore.Key {
	key := datastore.NameKey(kind, name, nil)
	key.Namespace = s.namespace
	return key
}

// Create reserves the email and writes the identity in one transaction, so
// a concurrent registration of the same email aborts one of the two.
func (s *CredentialStore) Create(ctx context.Context, identity *ta.UserIdentity) error {
	if identity.ID == "" {
		return errors.New("identity id is required")
	}
	if identity.Version == 0 {
		identity.Version = 1
	}
	email := ta.NormalizeEmail(identity.Email)
	emailKey := s.namespacedKey(KindEmail, email)
	userKey := s.namespacedKey(KindCredential, identity.ID)

	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var existing EmailEntity
		err := tx.Get(emailKey, &existing)
		if err == nil {
			return ta.ErrDuplicateEmail
		}
		if !errors.Is(err, datastore.ErrNoSuchEntity) {
			return err
		}
		if _, err := tx.Put(emailKey, &EmailEntity{UserID: identity.ID, CreatedAt: identity.CreatedAt}); err != nil {
			return err
		}
		_, err = tx.Put(userKey, IdentityToEntity(identity, userKey))
		return err
	})
	if err != nil {
		// Only a competing registration writes the same email key.
		if errors.Is(err, ta.ErrDuplicateEmail) || errors.Is(err, datastore.ErrConcurrentTransaction) {
			return ta.ErrDuplicateEmail
		}
		return fmt.Errorf("failed to create identity: %w", err)
	}
	identity.Email = email
	return nil
}

func (s *CredentialStore) FindByEmail(ctx context.Context, email string) (*ta.UserIdentity, error) {
	var idx EmailEntity
	if err := s.client.Get(ctx, s.namespacedKey(KindEmail, ta.NormalizeEmail(email)), &idx); err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return nil, ta.ErrNotFound
		}
		return nil, err
	}
	return s.FindByID(ctx, idx.UserID)
}

func (s *CredentialStore) FindByID(ctx context.Context, id string) (*ta.UserIdentity, error) {
	if id == "" {
		return nil, ta.ErrNotFound
	}
	var entity CredentialEntity
	if err := s.client.Get(ctx, s.namespacedKey(KindCredential, id), &entity); err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return nil, ta.ErrNotFound
		}
		return nil, err
	}
	return entity.ToIdentity(), nil
}

func (s *CredentialStore) FindByTokenHash(ctx context.Context, kind ta.TokenKind, hash string) (*ta.UserIdentity, error) {
	var field string
	switch kind {
	case ta.TokenKindVerification:
		field = "verification_token_hash"
	case ta.TokenKindPasswordReset:
		field = "password_reset_token_hash"
	}
	if field == "" || hash == "" {
		return nil, ta.ErrNotFound
	}

	query := datastore.NewQuery(KindCredential).
		Namespace(s.namespace).
		FilterField(field, "=", hash).
		Limit(1)
	it := s.client.Run(ctx, query)
	var entity CredentialEntity
	_, err := it.Next(&entity)
	if errors.Is(err, iterator.Done) {
		return nil, ta.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return entity.ToIdentity(), nil
}

// Save compares versions and writes inside a transaction.
func (s *CredentialStore) Save(ctx context.Context, identity *ta.UserIdentity) error {
	key := s.namespacedKey(KindCredential, identity.ID)
	next := identity.Version + 1
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var current CredentialEntity
		if err := tx.Get(key, &current); err != nil {
			if errors.Is(err, datastore.ErrNoSuchEntity) {
				return ta.ErrNotFound
			}
			return err
		}
		if current.Version != identity.Version {
			return ta.ErrConflict
		}
		entity := IdentityToEntity(identity, key)
		entity.Email = current.Email
		entity.CreatedAt = current.CreatedAt
		entity.Version = next
		_, err := tx.Put(key, entity)
		return err
	})
	if err != nil {
		if errors.Is(err, ta.ErrNotFound) || errors.Is(err, ta.ErrConflict) {
			return err
		}
		if errors.Is(err, datastore.ErrConcurrentTransaction) {
			return ta.ErrConflict
		}
		return fmt.Errorf("failed to save identity: %w", err)
	}
	identity.Version = next
	return nil
}
