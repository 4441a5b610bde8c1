package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ta "github.com/panyam/trackauth"
)

var credentialColumns = []string{
	"id", "email", "password_hash", "is_verified",
	"verification_token_hash", "verification_token_expiry",
	"password_reset_token_hash", "password_reset_expiry",
	"created_at", "updated_at", "version",
}

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err, "failed to create mock")
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		mock.Close()
	})
	return mock
}

func testIdentity() *ta.UserIdentity {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return &ta.UserIdentity{
		ID:           "01HV0000000000000000000000",
		Email:        "Alice@Example.com",
		PasswordHash: "hash",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestCredentialStore_Create(t *testing.T) {
	tests := []struct {
		name    string
		execErr error
		wantErr error
		anyErr  bool
	}{
		{name: "inserted"},
		{
			name:    "duplicate email",
			execErr: &pgconn.PgError{Code: pgerrcode.UniqueViolation},
			wantErr: ta.ErrDuplicateEmail,
		},
		{
			name:    "connection failure",
			execErr: errors.New("connection refused"),
			anyErr:  true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := newMock(t)
			identity := testIdentity()

			exp := mock.ExpectExec(`INSERT INTO credentials`).
				WithArgs(identity.ID, "alice@example.com", "hash", false,
					(*string)(nil), (*time.Time)(nil), (*string)(nil), (*time.Time)(nil),
					identity.CreatedAt, identity.UpdatedAt, 1)
			if tt.execErr != nil {
				exp.WillReturnError(tt.execErr)
			} else {
				exp.WillReturnResult(pgxmock.NewResult("INSERT", 1))
			}

			err := NewCredentialStore(mock).Create(context.Background(), identity)
			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			case tt.anyErr:
				require.Error(t, err)
				assert.Contains(t, err.Error(), "connection refused")
				assert.NotErrorIs(t, err, ta.ErrDuplicateEmail)
			default:
				require.NoError(t, err)
				assert.Equal(t, "alice@example.com", identity.Email)
				assert.Equal(t, 1, identity.Version)
			}
		})
	}
}

func TestCredentialStore_FindByEmail(t *testing.T) {
	mock := newMock(t)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	expiry := now.Add(time.Hour)
	hash := "abc123"

	mock.ExpectQuery(`FROM credentials WHERE LOWER\(email\) = LOWER\(\$1\)`).
		WithArgs("alice@example.com").
		WillReturnRows(pgxmock.NewRows(credentialColumns).AddRow(
			"u1", "alice@example.com", "hash", false,
			&hash, &expiry, (*string)(nil), (*time.Time)(nil),
			now, now, 3,
		))

	got, err := NewCredentialStore(mock).FindByEmail(context.Background(), "ALICE@example.com")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.ID)
	assert.Equal(t, "abc123", got.VerificationTokenHash)
	require.NotNil(t, got.VerificationTokenExpiry)
	assert.True(t, expiry.Equal(*got.VerificationTokenExpiry))
	assert.Empty(t, got.PasswordResetTokenHash)
	assert.Nil(t, got.PasswordResetExpiry)
	assert.Equal(t, 3, got.Version)
}

func TestCredentialStore_FindNotFound(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(`FROM credentials WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := NewCredentialStore(mock).FindByID(context.Background(), "missing")
	assert.ErrorIs(t, err, ta.ErrNotFound)
}

func TestCredentialStore_FindByTokenHash(t *testing.T) {
	mock := newMock(t)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	hash := "reset-hash"

	mock.ExpectQuery(`WHERE password_reset_token_hash = \$1`).
		WithArgs(hash).
		WillReturnRows(pgxmock.NewRows(credentialColumns).AddRow(
			"u2", "bob@example.com", "hash", true,
			(*string)(nil), (*time.Time)(nil), &hash, &now,
			now, now, 1,
		))

	store := NewCredentialStore(mock)
	got, err := store.FindByTokenHash(context.Background(), ta.TokenKindPasswordReset, hash)
	require.NoError(t, err)
	assert.Equal(t, "u2", got.ID)
	assert.Equal(t, hash, got.PasswordResetTokenHash)

	// Empty hashes and unknown kinds never reach the database.
	_, err = store.FindByTokenHash(context.Background(), ta.TokenKindVerification, "")
	assert.ErrorIs(t, err, ta.ErrNotFound)
	_, err = store.FindByTokenHash(context.Background(), ta.TokenKind("other"), "x")
	assert.ErrorIs(t, err, ta.ErrNotFound)
}

func TestCredentialStore_Save(t *testing.T) {
	tests := []struct {
		name        string
		affected    int64
		exists      bool
		wantErr     error
		wantVersion int
	}{
		{name: "updated", affected: 1, wantVersion: 3},
		{name: "stale version", affected: 0, exists: true, wantErr: ta.ErrConflict, wantVersion: 2},
		{name: "deleted row", affected: 0, exists: false, wantErr: ta.ErrNotFound, wantVersion: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := newMock(t)
			identity := testIdentity()
			identity.Version = 2
			identity.IsVerified = true

			mock.ExpectExec(`UPDATE credentials SET`).
				WithArgs(identity.ID, "hash", true,
					(*string)(nil), (*time.Time)(nil), (*string)(nil), (*time.Time)(nil),
					identity.UpdatedAt, 2).
				WillReturnResult(pgxmock.NewResult("UPDATE", tt.affected))
			if tt.affected == 0 {
				mock.ExpectQuery(`SELECT EXISTS`).
					WithArgs(identity.ID).
					WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(tt.exists))
			}

			err := NewCredentialStore(mock).Save(context.Background(), identity)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantVersion, identity.Version)
		})
	}
}

func TestMigrateURL(t *testing.T) {
	tests := map[string]string{
		"postgres://u:p@localhost:5432/db":   "pgx5://u:p@localhost:5432/db",
		"postgresql://u:p@localhost:5432/db": "pgx5://u:p@localhost:5432/db",
		"pgx5://u:p@localhost:5432/db":       "pgx5://u:p@localhost:5432/db",
	}
	for in, want := range tests {
		assert.Equal(t, want, migrateURL(in), in)
	}
}
