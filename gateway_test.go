package trackauth_test

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ta "github.com/panyam/trackauth"
)

func TestRegister_StartsUnverifiedAndSendsLink(t *testing.T) {
	env := newGatewayEnv(t, nil)
	ctx := context.Background()

	identity, err := env.Gateway.Register(ctx, "  Alice@Example.COM ", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", identity.Email)
	assert.False(t, identity.IsVerified)
	assert.NotEmpty(t, identity.ID)
	assert.NotEqual(t, "secret1", identity.PasswordHash)

	env.Gateway.Close()
	emails := env.Sender.emails()
	require.Len(t, emails, 1)
	assert.Equal(t, "verification", emails[0].Kind)
	assert.True(t, strings.HasPrefix(emails[0].Link, "http://tracker.test/verify/"), emails[0].Link)

	token := env.Sender.lastToken(t, "verification", "alice@example.com")
	stored, err := env.Store.FindByID(ctx, identity.ID)
	require.NoError(t, err)
	hash, expiry := stored.TokenHash(ta.TokenKindVerification)
	assert.Equal(t, ta.HashToken(token), hash, "only the token hash is stored")
	require.NotNil(t, expiry)
	assert.True(t, env.Clock.Now().Add(ta.TokenExpiryEmailVerification).Equal(*expiry), "expiry = %v", *expiry)
}

func TestRegister_Validation(t *testing.T) {
	env := newGatewayEnv(t, nil)

	tests := []struct {
		name      string
		email     string
		password  string
		wantField string
	}{
		{"missing email", "", "secret1", "email"},
		{"malformed email", "not-an-email", "secret1", "email"},
		{"missing password", "bob@example.com", "", "password"},
		{"short password", "bob@example.com", "12345", "password"},
		{"long password", "bob@example.com", strings.Repeat("x", 73), "password"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.Gateway.Register(context.Background(), tt.email, tt.password)
			requireKind(t, err, ta.KindValidation)
			var ae *ta.Error
			require.ErrorAs(t, err, &ae)
			assert.Equal(t, tt.wantField, ae.Field)
		})
	}
	env.Gateway.Close()
	assert.Empty(t, env.Sender.emails())
}

func TestRegister_DuplicateEmailIsCaseInsensitive(t *testing.T) {
	env := newGatewayEnv(t, nil)
	ctx := context.Background()

	_, err := env.Gateway.Register(ctx, "carol@example.com", "secret1")
	require.NoError(t, err)

	_, err = env.Gateway.Register(ctx, "CAROL@example.com", "another1")
	requireKind(t, err, ta.KindDuplicateEmail)
}

func TestRegister_ConcurrentDuplicates(t *testing.T) {
	env := newGatewayEnv(t, nil)

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.Gateway.Register(context.Background(), "race@example.com", "secret1")
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.Equal(t, ta.KindDuplicateEmail, ta.KindOf(err))
	}
	assert.Equal(t, 1, succeeded)
}

func TestRegister_VerificationDisabled(t *testing.T) {
	env := newGatewayEnv(t, func(c *ta.Config) { c.RequireEmailVerification = false })
	ctx := context.Background()

	identity, err := env.Gateway.Register(ctx, "dev@example.com", "secret1")
	require.NoError(t, err)
	assert.True(t, identity.IsVerified)

	session, err := env.Gateway.Login(ctx, "dev@example.com", "secret1", false)
	require.NoError(t, err)
	assert.Equal(t, identity.ID, session.UserID)

	require.NoError(t, env.Gateway.ResendVerification(ctx, "dev@example.com"))
	env.Gateway.Close()
	assert.Empty(t, env.Sender.emails())
}

func TestLogin_RequiresVerification(t *testing.T) {
	env := newGatewayEnv(t, nil)
	ctx := context.Background()

	_, err := env.Gateway.Register(ctx, "dave@example.com", "secret1")
	require.NoError(t, err)

	_, err = env.Gateway.Login(ctx, "dave@example.com", "secret1", false)
	requireKind(t, err, ta.KindUnverifiedAccount)
}

func TestLogin_Failures(t *testing.T) {
	env := newGatewayEnv(t, nil)
	env.registerVerified(t, "erin@example.com", "secret1")
	ctx := context.Background()

	_, err := env.Gateway.Login(ctx, "erin@example.com", "wrong-password", false)
	requireKind(t, err, ta.KindInvalidCredentials)

	_, err = env.Gateway.Login(ctx, "nobody@example.com", "secret1", false)
	requireKind(t, err, ta.KindInvalidCredentials)

	_, err = env.Gateway.Login(ctx, "", "secret1", false)
	requireKind(t, err, ta.KindValidation)

	_, err = env.Gateway.Login(ctx, "erin@example.com", "", false)
	requireKind(t, err, ta.KindValidation)
}

func TestLogin_SessionLifetime(t *testing.T) {
	env := newGatewayEnv(t, nil)
	identity := env.registerVerified(t, "frank@example.com", "secret1")
	ctx := context.Background()

	session, err := env.Gateway.Login(ctx, "FRANK@example.com", "secret1", false)
	require.NoError(t, err)
	assert.Equal(t, identity.ID, session.UserID)
	assert.Equal(t, "frank@example.com", session.Email)
	assert.True(t, env.Clock.Now().Add(time.Hour).Equal(session.ExpiresAt), "expiresAt = %v", session.ExpiresAt)

	env.Clock.Advance(59 * time.Minute)
	userID, err := env.Issuer.Verify(session.Token)
	require.NoError(t, err)
	assert.Equal(t, identity.ID, userID)

	env.Clock.Advance(2 * time.Minute)
	_, err = env.Issuer.Verify(session.Token)
	assert.ErrorIs(t, err, ta.ErrExpiredToken)

	remembered, err := env.Gateway.Login(ctx, "frank@example.com", "secret1", true)
	require.NoError(t, err)
	assert.True(t, env.Clock.Now().Add(ta.DefaultExtendedSessionTTL).Equal(remembered.ExpiresAt))
}

func TestConfirmEmail_TokenIsSingleUse(t *testing.T) {
	env := newGatewayEnv(t, nil)
	ctx := context.Background()

	_, err := env.Gateway.Register(ctx, "gina@example.com", "secret1")
	require.NoError(t, err)
	env.Gateway.Close()
	token := env.Sender.lastToken(t, "verification", "gina@example.com")

	require.NoError(t, env.Gateway.ConfirmEmail(ctx, token))
	requireKind(t, env.Gateway.ConfirmEmail(ctx, token), ta.KindInvalidOrExpired)

	_, err = env.Gateway.Login(ctx, "gina@example.com", "secret1", false)
	require.NoError(t, err)
}

func TestConfirmEmail_InvalidTokens(t *testing.T) {
	env := newGatewayEnv(t, nil)
	ctx := context.Background()

	requireKind(t, env.Gateway.ConfirmEmail(ctx, ""), ta.KindInvalidOrExpired)
	requireKind(t, env.Gateway.ConfirmEmail(ctx, "deadbeef"), ta.KindInvalidOrExpired)
}

func TestConfirmEmail_Expired(t *testing.T) {
	env := newGatewayEnv(t, nil)
	ctx := context.Background()

	_, err := env.Gateway.Register(ctx, "hank@example.com", "secret1")
	require.NoError(t, err)
	env.Gateway.Close()
	token := env.Sender.lastToken(t, "verification", "hank@example.com")

	env.Clock.Advance(ta.TokenExpiryEmailVerification + time.Second)
	requireKind(t, env.Gateway.ConfirmEmail(ctx, token), ta.KindInvalidOrExpired)
}

func TestConfirmEmail_ConcurrentConsumers(t *testing.T) {
	env := newGatewayEnv(t, nil)
	ctx := context.Background()

	_, err := env.Gateway.Register(ctx, "ivy@example.com", "secret1")
	require.NoError(t, err)
	env.Gateway.Close()
	token := env.Sender.lastToken(t, "verification", "ivy@example.com")

	const n = 6
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = env.Gateway.ConfirmEmail(ctx, token)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.Equal(t, ta.KindInvalidOrExpired, ta.KindOf(err))
	}
	assert.Equal(t, 1, succeeded)
}

func TestForgotPassword_UniformForUnknownEmail(t *testing.T) {
	env := newGatewayEnv(t, nil)
	ctx := context.Background()

	assert.NoError(t, env.Gateway.ForgotPassword(ctx, "ghost@example.com"))
	assert.NoError(t, env.Gateway.ForgotPassword(ctx, "not-an-email"))
	assert.NoError(t, env.Gateway.ForgotPassword(ctx, ""))
	env.Gateway.Close()
	assert.Empty(t, env.Sender.emails())
}

func TestResetPassword_Flow(t *testing.T) {
	env := newGatewayEnv(t, nil)
	env.registerVerified(t, "jack@example.com", "secret1")
	ctx := context.Background()

	require.NoError(t, env.Gateway.ForgotPassword(ctx, "Jack@Example.com"))
	env.Gateway.Close()
	token := env.Sender.lastToken(t, "password_reset", "jack@example.com")

	// Policy is checked before the token is touched.
	requireKind(t, env.Gateway.ResetPassword(ctx, token, "123"), ta.KindValidation)

	require.NoError(t, env.Gateway.ResetPassword(ctx, token, "brand-new"))
	requireKind(t, env.Gateway.ResetPassword(ctx, token, "another-one"), ta.KindInvalidOrExpired)

	_, err := env.Gateway.Login(ctx, "jack@example.com", "secret1", false)
	requireKind(t, err, ta.KindInvalidCredentials)
	_, err = env.Gateway.Login(ctx, "jack@example.com", "brand-new", false)
	require.NoError(t, err)
}

func TestResetPassword_Expired(t *testing.T) {
	env := newGatewayEnv(t, nil)
	env.registerVerified(t, "kate@example.com", "secret1")
	ctx := context.Background()

	require.NoError(t, env.Gateway.ForgotPassword(ctx, "kate@example.com"))
	env.Gateway.Close()
	token := env.Sender.lastToken(t, "password_reset", "kate@example.com")

	env.Clock.Advance(ta.TokenExpiryPasswordReset + time.Second)
	requireKind(t, env.Gateway.ResetPassword(ctx, token, "brand-new"), ta.KindInvalidOrExpired)
}

func TestForgotPassword_NewTokenSupersedesOld(t *testing.T) {
	env := newGatewayEnv(t, nil)
	env.registerVerified(t, "liam@example.com", "secret1")
	ctx := context.Background()

	require.NoError(t, env.Gateway.ForgotPassword(ctx, "liam@example.com"))
	env.Gateway.Close()
	first := env.Sender.lastToken(t, "password_reset", "liam@example.com")

	require.NoError(t, env.Gateway.ForgotPassword(ctx, "liam@example.com"))
	env.Gateway.Close()
	second := env.Sender.lastToken(t, "password_reset", "liam@example.com")
	require.NotEqual(t, first, second)

	requireKind(t, env.Gateway.ResetPassword(ctx, first, "brand-new"), ta.KindInvalidOrExpired)
	require.NoError(t, env.Gateway.ResetPassword(ctx, second, "brand-new"))
}

func TestChangePassword(t *testing.T) {
	env := newGatewayEnv(t, nil)
	registered := env.registerVerified(t, "mia@example.com", "secret1")
	ctx := context.Background()

	require.NoError(t, env.Gateway.ForgotPassword(ctx, "mia@example.com"))
	env.Gateway.Close()
	resetToken := env.Sender.lastToken(t, "password_reset", "mia@example.com")

	identity, err := env.Gateway.Profile(ctx, registered.ID)
	require.NoError(t, err)
	requireKind(t, env.Gateway.ChangePassword(ctx, identity, "abc"), ta.KindValidation)

	require.NoError(t, env.Gateway.ChangePassword(ctx, identity, "changed-pw"))

	_, err = env.Gateway.Login(ctx, "mia@example.com", "changed-pw", false)
	require.NoError(t, err)
	_, err = env.Gateway.Login(ctx, "mia@example.com", "secret1", false)
	requireKind(t, err, ta.KindInvalidCredentials)

	// The outstanding reset link died with the change.
	requireKind(t, env.Gateway.ResetPassword(ctx, resetToken, "hijacked"), ta.KindInvalidOrExpired)
}

func TestChangePassword_StaleIdentity(t *testing.T) {
	env := newGatewayEnv(t, nil)
	registered := env.registerVerified(t, "noah@example.com", "secret1")
	ctx := context.Background()

	a, err := env.Gateway.Profile(ctx, registered.ID)
	require.NoError(t, err)
	b, err := env.Gateway.Profile(ctx, registered.ID)
	require.NoError(t, err)

	require.NoError(t, env.Gateway.ChangePassword(ctx, a, "first-change"))
	// b is one version behind; the change is reapplied on the fresh record.
	require.NoError(t, env.Gateway.ChangePassword(ctx, b, "second-change"))
	assert.Equal(t, a.Version+1, b.Version)

	_, err = env.Gateway.Login(ctx, "noah@example.com", "second-change", false)
	require.NoError(t, err)
	_, err = env.Gateway.Login(ctx, "noah@example.com", "first-change", false)
	requireKind(t, err, ta.KindInvalidCredentials)
}

// conflictingStore loses every save race.
type conflictingStore struct {
	ta.CredentialStore
}

func (conflictingStore) Save(context.Context, *ta.UserIdentity) error {
	return ta.ErrConflict
}

func TestChangePassword_PersistentConflict(t *testing.T) {
	env := newGatewayEnv(t, nil)
	registered := env.registerVerified(t, "nora@example.com", "secret1")
	ctx := context.Background()

	g := ta.NewAuthGateway(testConfig(), conflictingStore{env.Store}, ta.NewBcryptHasher(4), env.Issuer, nil,
		ta.WithLogger(discardLogger()))
	identity, err := env.Store.FindByID(ctx, registered.ID)
	require.NoError(t, err)

	err = g.ChangePassword(ctx, identity, "never-saved")
	requireKind(t, err, ta.KindConflict)
	assert.ErrorIs(t, err, ta.ErrConflict)
	assert.Equal(t, http.StatusConflict, ta.KindOf(err).Status())
}

func TestResendVerification(t *testing.T) {
	env := newGatewayEnv(t, nil)
	ctx := context.Background()

	_, err := env.Gateway.Register(ctx, "olga@example.com", "secret1")
	require.NoError(t, err)
	env.Gateway.Close()
	first := env.Sender.lastToken(t, "verification", "olga@example.com")

	require.NoError(t, env.Gateway.ResendVerification(ctx, "olga@example.com"))
	env.Gateway.Close()
	second := env.Sender.lastToken(t, "verification", "olga@example.com")
	require.NotEqual(t, first, second)

	requireKind(t, env.Gateway.ConfirmEmail(ctx, first), ta.KindInvalidOrExpired)
	require.NoError(t, env.Gateway.ConfirmEmail(ctx, second))

	// Verified and unknown accounts get nothing, silently.
	before := len(env.Sender.emails())
	require.NoError(t, env.Gateway.ResendVerification(ctx, "olga@example.com"))
	require.NoError(t, env.Gateway.ResendVerification(ctx, "ghost@example.com"))
	env.Gateway.Close()
	assert.Len(t, env.Sender.emails(), before)
}

func TestProfile(t *testing.T) {
	env := newGatewayEnv(t, nil)
	registered := env.registerVerified(t, "pat@example.com", "secret1")
	ctx := context.Background()

	identity, err := env.Gateway.Profile(ctx, registered.ID)
	require.NoError(t, err)
	assert.Equal(t, "pat@example.com", identity.Email)
	assert.True(t, identity.IsVerified)

	_, err = env.Gateway.Profile(ctx, "missing")
	requireKind(t, err, ta.KindNotFound)
}
