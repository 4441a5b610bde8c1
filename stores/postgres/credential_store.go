// Package postgres implements trackauth.CredentialStore on PostgreSQL via pgx.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"

	ta "github.com/panyam/trackauth"
)

// querier is the subset of *pgxpool.Pool the store needs. pgxmock pools
// satisfy it too.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// CredentialStore implements ta.CredentialStore using PostgreSQL.
type CredentialStore struct {
	pool querier
}

// NewCredentialStore creates a store over pool, usually a *pgxpool.Pool.
func NewCredentialStore(pool querier) *CredentialStore {
	return &CredentialStore{pool: pool}
}

const selectColumns = `SELECT id, email, password_hash, is_verified,
	verification_token_hash, verification_token_expiry,
	password_reset_token_hash, password_reset_expiry,
	created_at, updated_at, version
	FROM credentials `

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Create inserts identity. The unique index on LOWER(email) rejects duplicates.
func (s *CredentialStore) Create(ctx context.Context, identity *ta.UserIdentity) error {
	if identity.Version == 0 {
		identity.Version = 1
	}
	identity.Email = ta.NormalizeEmail(identity.Email)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO credentials (
			id, email, password_hash, is_verified,
			verification_token_hash, verification_token_expiry,
			password_reset_token_hash, password_reset_expiry,
			created_at, updated_at, version
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		identity.ID,
		identity.Email,
		identity.PasswordHash,
		identity.IsVerified,
		nullIfEmpty(identity.VerificationTokenHash),
		identity.VerificationTokenExpiry,
		nullIfEmpty(identity.PasswordResetTokenHash),
		identity.PasswordResetExpiry,
		identity.CreatedAt,
		identity.UpdatedAt,
		identity.Version,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return ta.ErrDuplicateEmail
		}
		return oops.Code("CREDENTIAL_CREATE_FAILED").
			With("operation", "insert credential").
			With("id", identity.ID).
			Wrap(err)
	}
	return nil
}

func (s *CredentialStore) FindByEmail(ctx context.Context, email string) (*ta.UserIdentity, error) {
	return s.queryOne(ctx, "find by email", selectColumns+`WHERE LOWER(email) = LOWER($1)`, ta.NormalizeEmail(email))
}

func (s *CredentialStore) FindByID(ctx context.Context, id string) (*ta.UserIdentity, error) {
	return s.queryOne(ctx, "find by id", selectColumns+`WHERE id = $1`, id)
}

func (s *CredentialStore) FindByTokenHash(ctx context.Context, kind ta.TokenKind, hash string) (*ta.UserIdentity, error) {
	if hash == "" {
		return nil, ta.ErrNotFound
	}
	switch kind {
	case ta.TokenKindVerification:
		return s.queryOne(ctx, "find by verification token", selectColumns+`WHERE verification_token_hash = $1`, hash)
	case ta.TokenKindPasswordReset:
		return s.queryOne(ctx, "find by reset token", selectColumns+`WHERE password_reset_token_hash = $1`, hash)
	}
	return nil, ta.ErrNotFound
}

func (s *CredentialStore) queryOne(ctx context.Context, op, sql string, arg any) (*ta.UserIdentity, error) {
	var (
		u           ta.UserIdentity
		verifyHash  *string
		verifyExp   *time.Time
		resetHash   *string
		resetExpiry *time.Time
	)
	err := s.pool.QueryRow(ctx, sql, arg).Scan(
		&u.ID, &u.Email, &u.PasswordHash, &u.IsVerified,
		&verifyHash, &verifyExp,
		&resetHash, &resetExpiry,
		&u.CreatedAt, &u.UpdatedAt, &u.Version,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ta.ErrNotFound
	}
	if err != nil {
		return nil, oops.Code("CREDENTIAL_QUERY_FAILED").With("operation", op).Wrap(err)
	}
	if verifyHash != nil {
		u.VerificationTokenHash = *verifyHash
		u.VerificationTokenExpiry = verifyExp
	}
	if resetHash != nil {
		u.PasswordResetTokenHash = *resetHash
		u.PasswordResetExpiry = resetExpiry
	}
	return &u, nil
}

// Save writes the mutable columns if the row still has identity.Version.
func (s *CredentialStore) Save(ctx context.Context, identity *ta.UserIdentity) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE credentials SET
			password_hash = $2,
			is_verified = $3,
			verification_token_hash = $4,
			verification_token_expiry = $5,
			password_reset_token_hash = $6,
			password_reset_expiry = $7,
			updated_at = $8,
			version = version + 1
		WHERE id = $1 AND version = $9
	`,
		identity.ID,
		identity.PasswordHash,
		identity.IsVerified,
		nullIfEmpty(identity.VerificationTokenHash),
		identity.VerificationTokenExpiry,
		nullIfEmpty(identity.PasswordResetTokenHash),
		identity.PasswordResetExpiry,
		identity.UpdatedAt,
		identity.Version,
	)
	if err != nil {
		return oops.Code("CREDENTIAL_SAVE_FAILED").
			With("operation", "update credential").
			With("id", identity.ID).
			Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM credentials WHERE id = $1)`, identity.ID).Scan(&exists); err != nil {
			return oops.Code("CREDENTIAL_SAVE_FAILED").With("operation", "check existence").Wrap(err)
		}
		if !exists {
			return ta.ErrNotFound
		}
		return ta.ErrConflict
	}
	identity.Version++
	return nil
}
