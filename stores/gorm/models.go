//go:build !wasm
// +build !wasm

package gorm

import (
	"time"

	ta "github.com/panyam/trackauth"
)

// CredentialModel is the GORM model for user identities
type CredentialModel struct {
	ID                      string `gorm:"primaryKey;size:64"`
	Email                   string `gorm:"size:320;not null;uniqueIndex"`
	PasswordHash            string `gorm:"size:255;not null"`
	IsVerified              bool   `gorm:"not null;default:false"`
	VerificationTokenHash   string `gorm:"size:64;index"`
	VerificationTokenExpiry *time.Time
	PasswordResetTokenHash  string `gorm:"size:64;index"`
	PasswordResetExpiry     *time.Time
	CreatedAt               time.Time
	UpdatedAt               time.Time
	Version                 int `gorm:"not null;default:1"`
}

func (CredentialModel) TableName() string {
	return "credentials"
}

func (m *CredentialModel) ToIdentity() *ta.UserIdentity {
	return &ta.UserIdentity{
		ID:                      m.ID,
		Email:                   m.Email,
		PasswordHash:            m.PasswordHash,
		IsVerified:              m.IsVerified,
		VerificationTokenHash:   m.VerificationTokenHash,
		VerificationTokenExpiry: m.VerificationTokenExpiry,
		PasswordResetTokenHash:  m.PasswordResetTokenHash,
		PasswordResetExpiry:     m.PasswordResetExpiry,
		CreatedAt:               m.CreatedAt,
		UpdatedAt:               m.UpdatedAt,
		Version:                 m.Version,
	}
}

func IdentityToModel(u *ta.UserIdentity) *CredentialModel {
	return &CredentialModel{
		ID:                      u.ID,
		Email:                   ta.NormalizeEmail(u.Email),
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

// tokenColumn maps a token kind to the column holding its hash.
func tokenColumn(kind ta.TokenKind) string {
	switch kind {
	case ta.TokenKindVerification:
		return "verification_token_hash"
	case ta.TokenKindPasswordReset:
		return "password_reset_token_hash"
	}
	return ""
}
