package trackauth

import (
	"context"
	"strings"
	"time"
)

// TokenKind distinguishes the two single-use tokens an identity can carry.
type TokenKind string

const (
	TokenKindVerification  TokenKind = "verification"
	TokenKindPasswordReset TokenKind = "password_reset"
)

// UserIdentity is the credential record for one account.
// Secret material is never serialized.
type UserIdentity struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	IsVerified   bool      `json:"isVerified"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`

	VerificationTokenHash   string     `json:"-"`
	VerificationTokenExpiry *time.Time `json:"-"`
	PasswordResetTokenHash  string     `json:"-"`
	PasswordResetExpiry     *time.Time `json:"-"`

	// Version is the optimistic locking counter checked by CredentialStore.Save.
	Version int `json:"-"`
}

// TokenHash returns the stored hash and expiry for the given kind.
func (u *UserIdentity) TokenHash(kind TokenKind) (string, *time.Time) {
	switch kind {
	case TokenKindVerification:
		return u.VerificationTokenHash, u.VerificationTokenExpiry
	case TokenKindPasswordReset:
		return u.PasswordResetTokenHash, u.PasswordResetExpiry
	}
	return "", nil
}

// setToken replaces the hash/expiry pair for kind. An empty hash clears it.
func (u *UserIdentity) setToken(kind TokenKind, hash string, expiry *time.Time) {
	if hash == "" {
		expiry = nil
	}
	switch kind {
	case TokenKindVerification:
		u.VerificationTokenHash, u.VerificationTokenExpiry = hash, expiry
	case TokenKindPasswordReset:
		u.PasswordResetTokenHash, u.PasswordResetExpiry = hash, expiry
	}
}

// Clone returns a deep copy, so stores never hand out shared pointers.
func (u *UserIdentity) Clone() *UserIdentity {
	if u == nil {
		return nil
	}
	out := *u
	if u.VerificationTokenExpiry != nil {
		t := *u.VerificationTokenExpiry
		out.VerificationTokenExpiry = &t
	}
	if u.PasswordResetExpiry != nil {
		t := *u.PasswordResetExpiry
		out.PasswordResetExpiry = &t
	}
	return &out
}

// NormalizeEmail is the canonical form used for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CredentialStore persists user identities.
//
// Implementations must enforce email uniqueness atomically; two concurrent
// Create calls for the same normalized email must not both succeed.
type CredentialStore interface {
	// Create inserts a new identity. Returns ErrDuplicateEmail if the
	// normalized email is already registered.
	Create(ctx context.Context, identity *UserIdentity) error

	// FindByEmail looks up an identity by email, case-insensitively.
	// Returns ErrNotFound if absent.
	FindByEmail(ctx context.Context, email string) (*UserIdentity, error)

	// FindByID looks up an identity by id. Returns ErrNotFound if absent.
	FindByID(ctx context.Context, id string) (*UserIdentity, error)

	// FindByTokenHash finds the identity whose outstanding token of the given
	// kind hashes to hash. Returns ErrNotFound if none does.
	FindByTokenHash(ctx context.Context, kind TokenKind, hash string) (*UserIdentity, error)

	// Save persists changes to an existing identity. It succeeds only when the
	// stored Version equals identity.Version, then increments both.
	// Returns ErrNotFound if the identity is absent and ErrConflict if it was
	// modified concurrently.
	Save(ctx context.Context, identity *UserIdentity) error
}
