// Package trackauth is the credential core of the expense and todo tracker
// services: registration, email verification, login, password change and
// reset, and bearer-token access to protected routes.
//
// # Architecture
//
// CredentialStore: persists UserIdentity records. Implementations live under
// stores/ (filesystem, GORM, PostgreSQL, Cloud Datastore) and must enforce
// email uniqueness atomically.
//
// AuthGateway: the account lifecycle. It validates input, hashes passwords,
// issues and consumes single-use verification and reset tokens, and mints
// session tokens. Only fixed messages ever leave it; storage failures are
// logged and surfaced as Internal.
//
// SessionTokenIssuer and AccessGuard: stateless HS256 bearer tokens and the
// middleware that requires them.
//
// LoginRateLimiter: per-client-address throttling of login attempts, in
// process (FixedWindowLimiter) or shared through Redis (stores/redis).
//
// # Basic Usage
//
//	store := fs.NewCredentialStore("/var/lib/trackauth")
//	cfg := trackauth.DefaultConfig()
//	cfg.SessionSecret = os.Getenv("SESSION_SECRET")
//
//	auth, err := trackauth.New(cfg, trackauth.Deps{
//	    Store:  store,
//	    Sender: &trackauth.ConsoleEmailSender{},
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer auth.Close()
//
//	router := mux.NewRouter()
//	auth.Mount(router.PathPrefix("/api/auth").Subrouter())
//	http.ListenAndServe(":8080", router)
//
// Protect application routes with the same guard:
//
//	router.Handle("/api/expenses", auth.Guard.Require(expensesHandler))
//
// and read the caller inside the handler with UserIDFromContext.
//
// # Registration Policy
//
// Config.RequireEmailVerification (default true) makes new accounts start
// unverified and emails a verification link; login is refused until the link
// is followed. Setting it to false verifies accounts on creation, which is
// meant for development only.
package trackauth
