package trackauth

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel/trace"
)

// TrackAuth bundles the components behind the HTTP surface.
type TrackAuth struct {
	Config   Config
	Gateway  *AuthGateway
	Sessions *SessionTokenIssuer
	Guard    *AccessGuard
	Limiter  LoginRateLimiter
	Metrics  *Metrics
	Logger   *slog.Logger
}

// Deps are the collaborators injected into New. Only Store is required.
type Deps struct {
	Store   CredentialStore
	Sender  NotificationSender
	Limiter LoginRateLimiter
	Logger  *slog.Logger
	Metrics *Metrics
	Tracer  trace.Tracer
	Clock   func() time.Time
}

// New validates cfg and wires the components. Limiter defaults to an
// in-process FixedWindowLimiter.
func New(cfg Config, deps Deps) (*TrackAuth, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Store == nil {
		return nil, errors.New("credential store is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	sessions, err := NewSessionTokenIssuer([]byte(cfg.SessionSecret), cfg.SessionIssuer)
	if err != nil {
		return nil, err
	}
	sessions.Logger = logger
	hasher, err := NewPasswordHasher(cfg.HashAlgorithm, cfg.HashWorkers)
	if err != nil {
		return nil, err
	}
	limiter := deps.Limiter
	if limiter == nil {
		fw := NewFixedWindowLimiter(cfg.LoginRateLimit, cfg.LoginRateWindow)
		if deps.Clock != nil {
			fw.Now = deps.Clock
		}
		limiter = fw
	}

	opts := []GatewayOption{WithLogger(logger), WithMetrics(deps.Metrics)}
	if deps.Tracer != nil {
		opts = append(opts, WithTracer(deps.Tracer))
	}
	if deps.Clock != nil {
		sessions.Now = deps.Clock
		opts = append(opts, WithClock(deps.Clock))
	}

	a := &TrackAuth{
		Config:   cfg,
		Gateway:  NewAuthGateway(cfg, deps.Store, hasher, sessions, deps.Sender, opts...),
		Sessions: sessions,
		Guard:    NewAccessGuard(sessions, logger),
		Limiter:  limiter,
		Metrics:  deps.Metrics,
		Logger:   logger,
	}
	if !cfg.RequireEmailVerification {
		logger.Warn("email verification disabled: new accounts are verified on creation")
	}
	return a, nil
}

// Handler returns the routes mounted at the root.
func (a *TrackAuth) Handler() http.Handler {
	r := mux.NewRouter()
	a.Mount(r)
	return r
}

// Mount registers the routes on r, which may be a prefixed subrouter.
func (a *TrackAuth) Mount(r *mux.Router) {
	h := &Handlers{
		Gateway:           a.Gateway,
		Guard:             a.Guard,
		Limiter:           a.Limiter,
		Metrics:           a.Metrics,
		Logger:            a.Logger,
		TrustProxyHeaders: a.Config.TrustProxyHeaders,
	}

	r.HandleFunc("/register", h.HandleRegister).Methods(http.MethodPost)
	r.HandleFunc("/verify/{token}", h.HandleVerifyEmail).Methods(http.MethodGet)
	// Older frontends link to /confirm.
	r.HandleFunc("/confirm/{token}", h.HandleVerifyEmail).Methods(http.MethodGet)
	r.HandleFunc("/login", h.HandleLogin).Methods(http.MethodPost)
	r.HandleFunc("/forgot-password", h.HandleForgotPassword).Methods(http.MethodPost)
	r.HandleFunc("/resend-verification", h.HandleResendVerification).Methods(http.MethodPost)
	r.HandleFunc("/reset-password/{token}", h.HandleResetPassword).Methods(http.MethodPatch)
	r.Handle("/change-password", a.Guard.Require(http.HandlerFunc(h.HandleChangePassword))).Methods(http.MethodPut)
	r.Handle("/profile", a.Guard.Require(http.HandlerFunc(h.HandleProfile))).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
}

// Close waits for background work such as pending notifications.
func (a *TrackAuth) Close() {
	a.Gateway.Close()
}
