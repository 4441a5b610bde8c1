// Package fs stores credentials as JSON files under a directory. It suits
// development and single-process deployments.
//
// Layout:
//
//	<root>/users/<id>.json      one identity per file
//	<root>/emails/<sha256>      email index, created exclusively
//
// Email uniqueness holds across processes (O_EXCL on the index file);
// Save's version check is serialized within one process only.
package fs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	ta "github.com/panyam/trackauth"
)

// CredentialStore implements trackauth.CredentialStore on the filesystem.
type CredentialStore struct {
	StoragePath string
	mu          sync.Mutex
}

func NewCredentialStore(storagePath string) *CredentialStore {
	return &CredentialStore{StoragePath: storagePath}
}

func (s *CredentialStore) usersDir() string  { return filepath.Join(s.StoragePath, "users") }
func (s *CredentialStore) emailsDir() string { return filepath.Join(s.StoragePath, "emails") }

func (s *CredentialStore) userPath(id string) string {
	// filepath.Base prevents path traversal through crafted ids
	return filepath.Join(s.usersDir(), filepath.Base(id)+".json")
}

func (s *CredentialStore) emailPath(email string) string {
	return filepath.Join(s.emailsDir(), safeName(ta.NormalizeEmail(email)))
}

func (s *CredentialStore) ensureDirs() error {
	for _, dir := range []string{s.usersDir(), s.emailsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}

func (s *CredentialStore) Create(_ context.Context, identity *ta.UserIdentity) error {
	if identity.ID == "" {
		return errors.New("identity id is required")
	}
	if err := s.ensureDirs(); err != nil {
		return err
	}
	identity.Email = ta.NormalizeEmail(identity.Email)
	if identity.Version == 0 {
		identity.Version = 1
	}

	indexPath := s.emailPath(identity.Email)
	if err := createExclusive(indexPath, []byte(identity.ID)); err != nil {
		if errors.Is(err, os.ErrExist) {
			return ta.ErrDuplicateEmail
		}
		return fmt.Errorf("failed to reserve email: %w", err)
	}

	if err := s.write(identity); err != nil {
		os.Remove(indexPath)
		return err
	}
	return nil
}

func (s *CredentialStore) FindByEmail(_ context.Context, email string) (*ta.UserIdentity, error) {
	id, err := os.ReadFile(s.emailPath(email))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ta.ErrNotFound
		}
		return nil, err
	}
	return s.read(string(id))
}

func (s *CredentialStore) FindByID(_ context.Context, id string) (*ta.UserIdentity, error) {
	if id == "" {
		return nil, ta.ErrNotFound
	}
	return s.read(id)
}

func (s *CredentialStore) FindByTokenHash(_ context.Context, kind ta.TokenKind, hash string) (*ta.UserIdentity, error) {
	if hash == "" {
		return nil, ta.ErrNotFound
	}
	entries, err := os.ReadDir(s.usersDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ta.ErrNotFound
		}
		return nil, err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		identity, err := s.readFile(filepath.Join(s.usersDir(), entry.Name()))
		if err != nil {
			continue
		}
		if stored, _ := identity.TokenHash(kind); stored == hash {
			return identity, nil
		}
	}
	return nil, ta.ErrNotFound
}

func (s *CredentialStore) Save(_ context.Context, identity *ta.UserIdentity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.read(identity.ID)
	if err != nil {
		return err
	}
	if current.Version != identity.Version {
		return ta.ErrConflict
	}
	// Email and creation time are immutable.
	identity.Email = current.Email
	identity.CreatedAt = current.CreatedAt
	identity.Version++
	if err := s.write(identity); err != nil {
		identity.Version--
		return err
	}
	return nil
}

func (s *CredentialStore) read(id string) (*ta.UserIdentity, error) {
	return s.readFile(s.userPath(id))
}

func (s *CredentialStore) readFile(path string) (*ta.UserIdentity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ta.ErrNotFound
		}
		return nil, err
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("corrupt identity file %s: %w", filepath.Base(path), err)
	}
	return rec.identity(), nil
}

func (s *CredentialStore) write(identity *ta.UserIdentity) error {
	data, err := json.MarshalIndent(newRecord(identity), "", "  ")
	if err != nil {
		return err
	}
	return writeAtomicFile(s.userPath(identity.ID), data)
}
