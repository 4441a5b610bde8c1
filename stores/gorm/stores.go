//go:build !wasm
// +build !wasm

package gorm

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	ta "github.com/panyam/trackauth"
)

// AutoMigrate runs database migrations for the credentials table
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&CredentialModel{})
}

// CredentialStore implements ta.CredentialStore using GORM
type CredentialStore struct {
	db *gorm.DB
}

func NewCredentialStore(db *gorm.DB) *CredentialStore {
	return &CredentialStore{db: db}
}

func (s *CredentialStore) Create(ctx context.Context, identity *ta.UserIdentity) error {
	if identity.Version == 0 {
		identity.Version = 1
	}
	model := IdentityToModel(identity)
	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		if isUniqueViolation(err) {
			return ta.ErrDuplicateEmail
		}
		return err
	}
	identity.Email = model.Email
	return nil
}

func (s *CredentialStore) FindByEmail(ctx context.Context, email string) (*ta.UserIdentity, error) {
	return s.first(ctx, "email = ?", ta.NormalizeEmail(email))
}

func (s *CredentialStore) FindByID(ctx context.Context, id string) (*ta.UserIdentity, error) {
	return s.first(ctx, "id = ?", id)
}

func (s *CredentialStore) FindByTokenHash(ctx context.Context, kind ta.TokenKind, hash string) (*ta.UserIdentity, error) {
	column := tokenColumn(kind)
	if column == "" || hash == "" {
		return nil, ta.ErrNotFound
	}
	return s.first(ctx, column+" = ?", hash)
}

func (s *CredentialStore) first(ctx context.Context, query string, args ...any) (*ta.UserIdentity, error) {
	var model CredentialModel
	if err := s.db.WithContext(ctx).Where(query, args...).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ta.ErrNotFound
		}
		return nil, err
	}
	return model.ToIdentity(), nil
}

// Save updates every mutable column, guarded by the version column.
func (s *CredentialStore) Save(ctx context.Context, identity *ta.UserIdentity) error {
	next := identity.Version + 1
	res := s.db.WithContext(ctx).
		Model(&CredentialModel{}).
		Where("id = ? AND version = ?", identity.ID, identity.Version).
		Updates(map[string]any{
			"password_hash":             identity.PasswordHash,
			"is_verified":               identity.IsVerified,
			"verification_token_hash":   identity.VerificationTokenHash,
			"verification_token_expiry": identity.VerificationTokenExpiry,
			"password_reset_token_hash": identity.PasswordResetTokenHash,
			"password_reset_expiry":     identity.PasswordResetExpiry,
			"updated_at":                identity.UpdatedAt,
			"version":                   next,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := s.db.WithContext(ctx).Model(&CredentialModel{}).Where("id = ?", identity.ID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ta.ErrNotFound
		}
		return ta.ErrConflict
	}
	identity.Version = next
	return nil
}

// isUniqueViolation recognizes duplicate-key errors whether or not the
// dialector translates them.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.UniqueViolation
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "Duplicate entry")
}
