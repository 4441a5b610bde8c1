//go:build !wasm
// +build !wasm

package gae

import (
	"time"

	"cloud.google.com/go/datastore"
	ta "github.com/panyam/trackauth"
)

// CredentialEntity is the Datastore entity for user identities.
// Key name: the identity id.
type CredentialEntity struct {
	Key                     *datastore.Key `datastore:"__key__"`
	Email                   string         `datastore:"email"`
	PasswordHash            string         `datastore:"password_hash,noindex"`
	IsVerified              bool           `datastore:"is_verified"`
	VerificationTokenHash   string         `datastore:"verification_token_hash"`
	VerificationTokenExpiry time.Time      `datastore:"verification_token_expiry,noindex"`
	PasswordResetTokenHash  string         `datastore:"password_reset_token_hash"`
	PasswordResetExpiry     time.Time      `datastore:"password_reset_expiry,noindex"`
	CreatedAt               time.Time      `datastore:"created_at"`
	UpdatedAt               time.Time      `datastore:"updated_at"`
	Version                 int            `datastore:"version"`
}

// EmailEntity reserves a normalized email for one identity.
// Key name: the normalized email.
type EmailEntity struct {
	UserID    string    `datastore:"user_id"`
	CreatedAt time.Time `datastore:"created_at"`
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func timeOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func (e *CredentialEntity) ToIdentity() *ta.UserIdentity {
	return &ta.UserIdentity{
		ID:                      e.Key.Name,
		Email:                   e.Email,
		PasswordHash:            e.PasswordHash,
		IsVerified:              e.IsVerified,
		VerificationTokenHash:   e.VerificationTokenHash,
		VerificationTokenExpiry: optionalTime(e.VerificationTokenExpiry),
		PasswordResetTokenHash:  e.PasswordResetTokenHash,
		PasswordResetExpiry:     optionalTime(e.PasswordResetExpiry),
		CreatedAt:               e.CreatedAt,
		UpdatedAt:               e.UpdatedAt,
		Version:                 e.Version,
	}
}

func IdentityToEntity(u *ta.UserIdentity, key *datastore.Key) *CredentialEntity {
	return &CredentialEntity{
		Key:                     key,
		Email:                   ta.NormalizeEmail(u.Email),
		PasswordHash:            u.PasswordHash,
		IsVerified:              u.IsVerified,
		VerificationTokenHash:   u.VerificationTokenHash,
		VerificationTokenExpiry: timeOrZero(u.VerificationTokenExpiry),
		PasswordResetTokenHash:  u.PasswordResetTokenHash,
		PasswordResetExpiry:     timeOrZero(u.PasswordResetExpiry),
		CreatedAt:               u.CreatedAt,
		UpdatedAt:               u.UpdatedAt,
		Version:                 u.Version,
	}
}
