package trackauth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"time"
)

// Default token lifetimes
const (
	TokenExpiryEmailVerification = 24 * time.Hour
	TokenExpiryPasswordReset     = 10 * time.Minute
)

// IssuedToken is a freshly minted single-use token. Plaintext goes to the
// user out of band; only Hash is persisted.
type IssuedToken struct {
	Plaintext string
	Hash      string
	ExpiresAt time.Time
}

// GenerateSecureToken generates a cryptographically secure random token
func GenerateSecureToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// HashToken is the one-way digest stored in place of a token.
func HashToken(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// VerificationTokenManager issues and consumes the email verification and
// password reset tokens carried on a UserIdentity.
type VerificationTokenManager struct {
	// Now defaults to time.Now.
	Now func() time.Time
}

func NewVerificationTokenManager() *VerificationTokenManager {
	return &VerificationTokenManager{Now: time.Now}
}

func (m *VerificationTokenManager) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

// Issue mints a token that expires after ttl.
func (m *VerificationTokenManager) Issue(ttl time.Duration) (*IssuedToken, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("token ttl must be positive, got %s", ttl)
	}
	plaintext, err := GenerateSecureToken()
	if err != nil {
		return nil, err
	}
	return &IssuedToken{
		Plaintext: plaintext,
		Hash:      HashToken(plaintext),
		ExpiresAt: m.now().Add(ttl),
	}, nil
}

// Attach records tok as the outstanding token of kind, superseding any
// previous one.
func (m *VerificationTokenManager) Attach(identity *UserIdentity, kind TokenKind, tok *IssuedToken) {
	expires := tok.ExpiresAt
	identity.setToken(kind, tok.Hash, &expires)
}

// Consume checks plaintext against the outstanding token of kind and, when
// it matches and has not expired, clears it from identity. The caller must
// save identity in the same write that applies the token's effect.
func (m *VerificationTokenManager) Consume(identity *UserIdentity, kind TokenKind, plaintext string) error {
	stored, expiry := identity.TokenHash(kind)
	if stored == "" || expiry == nil || plaintext == "" {
		return newError(KindInvalidOrExpired, nil)
	}
	if subtle.ConstantTimeCompare([]byte(HashToken(plaintext)), []byte(stored)) != 1 {
		return newError(KindInvalidOrExpired, nil)
	}
	if m.now().After(*expiry) {
		return newError(KindInvalidOrExpired, nil)
	}
	identity.setToken(kind, "", nil)
	return nil
}
