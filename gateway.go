package trackauth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Session is the result of a successful login.
type Session struct {
	Token     string    `json:"token"`
	UserID    string    `json:"userId"`
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// AuthGateway orchestrates the account lifecycle: registration, email
// verification, login and password maintenance. It is safe for concurrent
// use; all shared state lives in the CredentialStore.
type AuthGateway struct {
	cfg      Config
	policy   PasswordPolicy
	store    CredentialStore
	hasher   PasswordHasher
	tokens   *VerificationTokenManager
	sessions *SessionTokenIssuer
	notifier *Notifier

	logger  *slog.Logger
	metrics *Metrics
	tracer  trace.Tracer
	clock   func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

// GatewayOption customizes an AuthGateway.
type GatewayOption func(*AuthGateway)

func WithLogger(logger *slog.Logger) GatewayOption {
	return func(g *AuthGateway) { g.logger = logger }
}

func WithMetrics(m *Metrics) GatewayOption {
	return func(g *AuthGateway) { g.metrics = m }
}

func WithTracer(t trace.Tracer) GatewayOption {
	return func(g *AuthGateway) { g.tracer = t }
}

// WithClock replaces time.Now for token expiry decisions.
func WithClock(now func() time.Time) GatewayOption {
	return func(g *AuthGateway) { g.clock = now }
}

// WithNotifier replaces the notifier built from the sender.
func WithNotifier(n *Notifier) GatewayOption {
	return func(g *AuthGateway) { g.notifier = n }
}

// NewAuthGateway wires the gateway. sender may be nil, in which case no
// emails are sent.
func NewAuthGateway(cfg Config, store CredentialStore, hasher PasswordHasher, sessions *SessionTokenIssuer, sender NotificationSender, opts ...GatewayOption) *AuthGateway {
	g := &AuthGateway{
		cfg:      cfg,
		policy:   PasswordPolicy{MinLength: cfg.MinPasswordLength},
		store:    store,
		hasher:   hasher,
		sessions: sessions,
		logger:   slog.Default(),
		tracer:   noop.NewTracerProvider().Tracer("trackauth"),
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.notifier == nil && sender != nil {
		g.notifier = NewNotifier(sender, g.logger, cfg.NotificationAttempts)
	}
	g.tokens = &VerificationTokenManager{Now: g.now}
	return g
}

func (g *AuthGateway) now() time.Time { return g.clock() }

// Close waits for in-flight notifications.
func (g *AuthGateway) Close() {
	g.notifier.Wait()
}

func (g *AuthGateway) start(ctx context.Context, op string) (context.Context, trace.Span) {
	return g.tracer.Start(ctx, "trackauth."+op)
}

func (g *AuthGateway) finish(span trace.Span, op string, err error) {
	g.metrics.observe(op, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(KindOf(err)))
	}
	span.End()
}

// internal logs err and returns the opaque error that crosses the boundary.
func (g *AuthGateway) internal(op, what string, err error) error {
	wrapped := oops.Code("AUTH_INTERNAL").With("operation", op).With("step", what).Wrap(err)
	logError(g.logger, op+" failed", wrapped)
	return newError(KindInternal, wrapped)
}

func (g *AuthGateway) link(path, token string) string {
	return strings.TrimRight(g.cfg.BaseURL, "/") + "/" + path + "/" + token
}

// Register creates an account. Depending on the configured policy the
// account starts unverified with a verification email on its way, or is
// verified immediately.
func (g *AuthGateway) Register(ctx context.Context, email, password string) (_ *UserIdentity, err error) {
	ctx, span := g.start(ctx, "Register")
	defer func() { g.finish(span, "register", err) }()

	if err := g.policy.ValidateCredentials(Credentials{Email: email, Password: password}); err != nil {
		return nil, err
	}
	hash, err := g.hasher.Hash(ctx, password)
	if err != nil {
		return nil, g.internal("register", "hash password", err)
	}

	now := g.now()
	identity := &UserIdentity{
		ID:           ulid.Make().String(),
		Email:        NormalizeEmail(email),
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
		Version:      1,
	}

	var tok *IssuedToken
	if g.cfg.RequireEmailVerification {
		tok, err = g.tokens.Issue(g.cfg.VerificationTTL)
		if err != nil {
			return nil, g.internal("register", "issue verification token", err)
		}
		g.tokens.Attach(identity, TokenKindVerification, tok)
	} else {
		identity.IsVerified = true
	}

	if err := g.store.Create(ctx, identity); err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			return nil, newError(KindDuplicateEmail, err)
		}
		return nil, g.internal("register", "create identity", err)
	}

	if tok != nil {
		g.notifier.VerificationEmail(identity.Email, g.link("verify", tok.Plaintext))
	}
	g.logger.Info("user registered", "user_id", identity.ID, "email", identity.Email, "verified", identity.IsVerified)
	return identity.Clone(), nil
}

// ConfirmEmail marks the account owning token as verified and burns the token.
func (g *AuthGateway) ConfirmEmail(ctx context.Context, token string) (err error) {
	ctx, span := g.start(ctx, "ConfirmEmail")
	defer func() { g.finish(span, "confirm_email", err) }()

	identity, err := g.consume(ctx, "confirm_email", TokenKindVerification, token)
	if err != nil {
		return err
	}
	identity.IsVerified = true
	identity.UpdatedAt = g.now()
	if err := g.saveConsumed(ctx, "confirm_email", identity); err != nil {
		return err
	}
	g.logger.Info("email verified", "user_id", identity.ID)
	return nil
}

// Login checks credentials and issues a session token. remember selects the
// extended session lifetime.
func (g *AuthGateway) Login(ctx context.Context, email, password string, remember bool) (_ *Session, err error) {
	ctx, span := g.start(ctx, "Login")
	defer func() { g.finish(span, "login", err) }()

	if strings.TrimSpace(email) == "" || password == "" {
		return nil, validationError("", "Email and password are required")
	}

	identity, err := g.store.FindByEmail(ctx, NormalizeEmail(email))
	if errors.Is(err, ErrNotFound) {
		g.burnDummyHash(ctx, password)
		return nil, newError(KindInvalidCredentials, nil)
	}
	if err != nil {
		return nil, g.internal("login", "find identity", err)
	}
	if !identity.IsVerified {
		return nil, newError(KindUnverifiedAccount, nil)
	}

	ok, err := g.hasher.Verify(ctx, password, identity.PasswordHash)
	if err != nil {
		return nil, g.internal("login", "verify password", err)
	}
	if !ok {
		return nil, newError(KindInvalidCredentials, nil)
	}

	ttl := g.cfg.SessionTTL
	if remember && g.cfg.ExtendedSessionTTL > 0 {
		ttl = g.cfg.ExtendedSessionTTL
	}
	token, expiresAt, err := g.sessions.Issue(identity.ID, ttl)
	if err != nil {
		return nil, g.internal("login", "issue session", err)
	}
	return &Session{Token: token, UserID: identity.ID, Email: identity.Email, ExpiresAt: expiresAt}, nil
}

// burnDummyHash spends the same hashing work a real password check would, so
// unknown emails are not distinguishable by response time.
func (g *AuthGateway) burnDummyHash(ctx context.Context, password string) {
	g.dummyOnce.Do(func() {
		seed, err := GenerateSecureToken()
		if err != nil {
			return
		}
		g.dummyHash, _ = g.hasher.Hash(ctx, seed)
	})
	if g.dummyHash != "" {
		_, _ = g.hasher.Verify(ctx, password, g.dummyHash)
	}
}

// ChangePassword replaces the password of an authenticated identity. Any
// outstanding reset token is discarded.
func (g *AuthGateway) ChangePassword(ctx context.Context, identity *UserIdentity, newPassword string) (err error) {
	ctx, span := g.start(ctx, "ChangePassword")
	defer func() { g.finish(span, "change_password", err) }()

	if err := g.policy.Validate(newPassword); err != nil {
		return err
	}
	hash, err := g.hasher.Hash(ctx, newPassword)
	if err != nil {
		return g.internal("change_password", "hash password", err)
	}
	apply := func(u *UserIdentity) error {
		u.PasswordHash = hash
		u.setToken(TokenKindPasswordReset, "", nil)
		u.UpdatedAt = g.now()
		return g.store.Save(ctx, u)
	}
	err = apply(identity)
	if errors.Is(err, ErrConflict) {
		// Another write got in first; reapply once on the fresh record.
		fresh, ferr := g.store.FindByID(ctx, identity.ID)
		if ferr != nil {
			err = ferr
		} else if err = apply(fresh); err == nil {
			*identity = *fresh
		}
	}
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			return newError(KindNotFound, err)
		case errors.Is(err, ErrConflict):
			return newError(KindConflict, err)
		}
		return g.internal("change_password", "save identity", err)
	}
	g.logger.Info("password changed", "user_id", identity.ID)
	return nil
}

// ForgotPassword starts a reset for email if such an account exists. The
// result is the same whether or not it does.
func (g *AuthGateway) ForgotPassword(ctx context.Context, email string) (err error) {
	ctx, span := g.start(ctx, "ForgotPassword")
	defer func() { g.finish(span, "forgot_password", err) }()

	identity, err := g.lookupForMail(ctx, "forgot_password", email)
	if identity == nil || err != nil {
		return err
	}

	tok, err := g.tokens.Issue(g.cfg.ResetTTL)
	if err != nil {
		return g.internal("forgot_password", "issue reset token", err)
	}
	g.tokens.Attach(identity, TokenKindPasswordReset, tok)
	identity.UpdatedAt = g.now()
	if err := g.store.Save(ctx, identity); err != nil {
		if errors.Is(err, ErrConflict) || errors.Is(err, ErrNotFound) {
			g.logger.Warn("reset request lost a concurrent update", "user_id", identity.ID, "error", err)
			return nil
		}
		return g.internal("forgot_password", "save identity", err)
	}
	g.notifier.PasswordResetEmail(identity.Email, g.link("reset-password", tok.Plaintext))
	return nil
}

// ResendVerification issues a fresh verification token for an unverified
// account. Like ForgotPassword it never reveals whether the email exists.
func (g *AuthGateway) ResendVerification(ctx context.Context, email string) (err error) {
	ctx, span := g.start(ctx, "ResendVerification")
	defer func() { g.finish(span, "resend_verification", err) }()

	if !g.cfg.RequireEmailVerification {
		return nil
	}
	identity, err := g.lookupForMail(ctx, "resend_verification", email)
	if identity == nil || err != nil || identity.IsVerified {
		return err
	}

	tok, err := g.tokens.Issue(g.cfg.VerificationTTL)
	if err != nil {
		return g.internal("resend_verification", "issue verification token", err)
	}
	g.tokens.Attach(identity, TokenKindVerification, tok)
	identity.UpdatedAt = g.now()
	if err := g.store.Save(ctx, identity); err != nil {
		if errors.Is(err, ErrConflict) || errors.Is(err, ErrNotFound) {
			return nil
		}
		return g.internal("resend_verification", "save identity", err)
	}
	g.notifier.VerificationEmail(identity.Email, g.link("verify", tok.Plaintext))
	return nil
}

// lookupForMail returns (nil, nil) for malformed or unknown addresses.
func (g *AuthGateway) lookupForMail(ctx context.Context, op, email string) (*UserIdentity, error) {
	if ValidateEmail(email) != nil {
		return nil, nil
	}
	identity, err := g.store.FindByEmail(ctx, NormalizeEmail(email))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, g.internal(op, "find identity", err)
	}
	return identity, nil
}

// ResetPassword sets a new password using a reset token and burns the token.
func (g *AuthGateway) ResetPassword(ctx context.Context, token, newPassword string) (err error) {
	ctx, span := g.start(ctx, "ResetPassword")
	defer func() { g.finish(span, "reset_password", err) }()

	if err := g.policy.Validate(newPassword); err != nil {
		return err
	}
	identity, err := g.consume(ctx, "reset_password", TokenKindPasswordReset, token)
	if err != nil {
		return err
	}
	hash, err := g.hasher.Hash(ctx, newPassword)
	if err != nil {
		return g.internal("reset_password", "hash password", err)
	}
	identity.PasswordHash = hash
	identity.UpdatedAt = g.now()
	if err := g.saveConsumed(ctx, "reset_password", identity); err != nil {
		return err
	}
	g.logger.Info("password reset", "user_id", identity.ID)
	return nil
}

// Profile returns the identity for an authenticated user id.
func (g *AuthGateway) Profile(ctx context.Context, userID string) (_ *UserIdentity, err error) {
	ctx, span := g.start(ctx, "Profile")
	defer func() { g.finish(span, "profile", err) }()

	identity, err := g.store.FindByID(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return nil, newError(KindNotFound, err)
	}
	if err != nil {
		return nil, g.internal("profile", "find identity", err)
	}
	return identity, nil
}

// consume loads the identity holding token and clears the token in memory.
func (g *AuthGateway) consume(ctx context.Context, op string, kind TokenKind, token string) (*UserIdentity, error) {
	if token == "" {
		return nil, newError(KindInvalidOrExpired, nil)
	}
	identity, err := g.store.FindByTokenHash(ctx, kind, HashToken(token))
	if errors.Is(err, ErrNotFound) {
		return nil, newError(KindInvalidOrExpired, nil)
	}
	if err != nil {
		return nil, g.internal(op, "find token", err)
	}
	if err := g.tokens.Consume(identity, kind, token); err != nil {
		return nil, err
	}
	return identity, nil
}

// saveConsumed persists a token-consuming change. Losing a race to another
// consumer of the same token is reported as an invalid token.
func (g *AuthGateway) saveConsumed(ctx context.Context, op string, identity *UserIdentity) error {
	err := g.store.Save(ctx, identity)
	if errors.Is(err, ErrConflict) || errors.Is(err, ErrNotFound) {
		return newError(KindInvalidOrExpired, err)
	}
	if err != nil {
		return g.internal(op, "save identity", err)
	}
	return nil
}
