// Package storetest holds the behaviour every trackauth.CredentialStore must
// share. Store packages run it against their own backend.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ta "github.com/panyam/trackauth"
)

// Factory returns an empty store. It is called once per subtest.
type Factory func(t *testing.T) ta.CredentialStore

// NewIdentity returns an unsaved identity for email with second-precision
// timestamps, which every backend round-trips exactly.
func NewIdentity(email string) *ta.UserIdentity {
	now := time.Now().UTC().Truncate(time.Second)
	return &ta.UserIdentity{
		ID:           ulid.Make().String(),
		Email:        email,
		PasswordHash: "$2a$04$abcdefghijklmnopqrstuv",
		CreatedAt:    now,
		UpdatedAt:    now,
		Version:      1,
	}
}

// RunCredentialStoreTests exercises the CredentialStore contract.
func RunCredentialStoreTests(t *testing.T, newStore Factory) {
	t.Run("CreateAndFind", func(t *testing.T) { testCreateAndFind(t, newStore(t)) })
	t.Run("DuplicateEmail", func(t *testing.T) { testDuplicateEmail(t, newStore(t)) })
	t.Run("ConcurrentCreate", func(t *testing.T) { testConcurrentCreate(t, newStore(t)) })
	t.Run("NotFound", func(t *testing.T) { testNotFound(t, newStore(t)) })
	t.Run("TokenLookup", func(t *testing.T) { testTokenLookup(t, newStore(t)) })
	t.Run("SaveVersioning", func(t *testing.T) { testSaveVersioning(t, newStore(t)) })
}

func testCreateAndFind(t *testing.T, store ta.CredentialStore) {
	ctx := context.Background()
	identity := NewIdentity("Alice@Example.com")
	require.NoError(t, store.Create(ctx, identity))

	byEmail, err := store.FindByEmail(ctx, "ALICE@example.COM")
	require.NoError(t, err)
	assert.Equal(t, identity.ID, byEmail.ID)
	assert.Equal(t, "alice@example.com", byEmail.Email)
	assert.Equal(t, identity.PasswordHash, byEmail.PasswordHash)
	assert.False(t, byEmail.IsVerified)
	assert.Equal(t, 1, byEmail.Version)
	assert.WithinDuration(t, identity.CreatedAt, byEmail.CreatedAt, time.Second)

	byID, err := store.FindByID(ctx, identity.ID)
	require.NoError(t, err)
	assert.Equal(t, byEmail.Email, byID.Email)
}

func testDuplicateEmail(t *testing.T, store ta.CredentialStore) {
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, NewIdentity("bob@example.com")))

	err := store.Create(ctx, NewIdentity("BOB@example.com"))
	assert.ErrorIs(t, err, ta.ErrDuplicateEmail)
}

func testConcurrentCreate(t *testing.T, store ta.CredentialStore) {
	ctx := context.Background()
	const n = 8
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = store.Create(ctx, NewIdentity("race@example.com"))
		}(i)
	}
	wg.Wait()

	created := 0
	for _, err := range errs {
		if err == nil {
			created++
		} else {
			assert.ErrorIs(t, err, ta.ErrDuplicateEmail)
		}
	}
	assert.Equal(t, 1, created)
}

func testNotFound(t *testing.T, store ta.CredentialStore) {
	ctx := context.Background()
	_, err := store.FindByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, ta.ErrNotFound)

	_, err = store.FindByID(ctx, ulid.Make().String())
	assert.ErrorIs(t, err, ta.ErrNotFound)

	_, err = store.FindByTokenHash(ctx, ta.TokenKindVerification, ta.HashToken("missing"))
	assert.ErrorIs(t, err, ta.ErrNotFound)

	_, err = store.FindByTokenHash(ctx, ta.TokenKindPasswordReset, "")
	assert.ErrorIs(t, err, ta.ErrNotFound)
}

func testTokenLookup(t *testing.T, store ta.CredentialStore) {
	ctx := context.Background()
	expiry := time.Now().UTC().Add(time.Hour).Truncate(time.Second)

	identity := NewIdentity("carol@example.com")
	identity.VerificationTokenHash = ta.HashToken("verify-me")
	identity.VerificationTokenExpiry = &expiry
	require.NoError(t, store.Create(ctx, identity))

	found, err := store.FindByTokenHash(ctx, ta.TokenKindVerification, ta.HashToken("verify-me"))
	require.NoError(t, err)
	assert.Equal(t, identity.ID, found.ID)
	require.NotNil(t, found.VerificationTokenExpiry)
	assert.WithinDuration(t, expiry, *found.VerificationTokenExpiry, time.Second)

	// The same hash under the other kind does not match.
	_, err = store.FindByTokenHash(ctx, ta.TokenKindPasswordReset, ta.HashToken("verify-me"))
	assert.ErrorIs(t, err, ta.ErrNotFound)

	// Move from a verification token to a reset token.
	found.VerificationTokenHash = ""
	found.VerificationTokenExpiry = nil
	found.IsVerified = true
	found.PasswordResetTokenHash = ta.HashToken("reset-me")
	found.PasswordResetExpiry = &expiry
	require.NoError(t, store.Save(ctx, found))

	_, err = store.FindByTokenHash(ctx, ta.TokenKindVerification, ta.HashToken("verify-me"))
	assert.ErrorIs(t, err, ta.ErrNotFound)

	reset, err := store.FindByTokenHash(ctx, ta.TokenKindPasswordReset, ta.HashToken("reset-me"))
	require.NoError(t, err)
	assert.True(t, reset.IsVerified)
	assert.Empty(t, reset.VerificationTokenHash)
	assert.Nil(t, reset.VerificationTokenExpiry)
}

func testSaveVersioning(t *testing.T, store ta.CredentialStore) {
	ctx := context.Background()
	identity := NewIdentity("dave@example.com")
	require.NoError(t, store.Create(ctx, identity))

	first, err := store.FindByID(ctx, identity.ID)
	require.NoError(t, err)
	second, err := store.FindByID(ctx, identity.ID)
	require.NoError(t, err)

	first.PasswordHash = "first-writer"
	require.NoError(t, store.Save(ctx, first))
	assert.Equal(t, 2, first.Version)

	second.PasswordHash = "second-writer"
	assert.ErrorIs(t, store.Save(ctx, second), ta.ErrConflict)

	stored, err := store.FindByID(ctx, identity.ID)
	require.NoError(t, err)
	assert.Equal(t, "first-writer", stored.PasswordHash)
	assert.Equal(t, 2, stored.Version)

	ghost := NewIdentity("ghost@example.com")
	assert.ErrorIs(t, store.Save(ctx, ghost), ta.ErrNotFound)
}
