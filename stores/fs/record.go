package fs

import (
	"time"

	ta "github.com/panyam/trackauth"
)

// record is the on-disk form of an identity. UserIdentity hides its secrets
// from JSON, so the file format spells them out.
type record struct {
	ID                      string     `json:"id"`
	Email                   string     `json:"email"`
	PasswordHash            string     `json:"password_hash"`
	IsVerified              bool       `json:"is_verified"`
	VerificationTokenHash   string     `json:"verification_token_hash,omitempty"`
	VerificationTokenExpiry *time.Time `json:"verification_token_expiry,omitempty"`
	PasswordResetTokenHash  string     `json:"password_reset_token_hash,omitempty"`
	PasswordResetExpiry     *time.Time `json:"password_reset_expiry,omitempty"`
	CreatedAt               time.Time  `json:"created_at"`
	UpdatedAt               time.Time  `json:"updated_at"`
	Version                 int        `json:"version"`
}

func newRecord(u *ta.UserIdentity) *record {
	return &record{
		ID:                      u.ID,
		Email:                   u.Email,
		PasswordHash:            u.PasswordHash,
		IsVerified:              u.IsVerified,
		VerificationTokenHash:   u.VerificationTokenHash,
		VerificationTokenExpiry: u.VerificationTokenExpiry,
		PasswordResetTokenHash:  u.PasswordResetTokenHash,
		PasswordResetExpiry:     u.PasswordResetExpiry,
		CreatedAt:               u.CreatedAt,
		UpdatedAt:               u.UpdatedAt,
		Version:                 u.Version,
	}
}

func (r *record) identity() *ta.UserIdentity {
	return &ta.UserIdentity{
		ID:                      r.ID,
		Email:                   r.Email,
		PasswordHash:            r.PasswordHash,
		IsVerified:              r.IsVerified,
		VerificationTokenHash:   r.VerificationTokenHash,
		VerificationTokenExpiry: r.VerificationTokenExpiry,
		PasswordResetTokenHash:  r.PasswordResetTokenHash,
		PasswordResetExpiry:     r.PasswordResetExpiry,
		CreatedAt:               r.CreatedAt,
		UpdatedAt:               r.UpdatedAt,
		Version:                 r.Version,
	}
}
