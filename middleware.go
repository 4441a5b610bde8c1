package trackauth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
)

type userIDContextKey struct{}

// UserIDFromContext returns the authenticated user id set by AccessGuard,
// or "" when the request was not authenticated.
func UserIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(userIDContextKey{}).(string)
	return v
}

// ContextWithUserID returns ctx carrying userID as the authenticated user.
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey{}, userID)
}

// SessionVerifier validates a bearer token and returns its subject.
// *SessionTokenIssuer implements it.
type SessionVerifier interface {
	Verify(token string) (userID string, err error)
}

// AccessGuard admits only requests carrying a valid bearer session token.
type AccessGuard struct {
	Verifier SessionVerifier
	Logger   *slog.Logger
}

func NewAccessGuard(verifier SessionVerifier, logger *slog.Logger) *AccessGuard {
	if logger == nil {
		logger = slog.Default()
	}
	return &AccessGuard{Verifier: verifier, Logger: logger}
}

// Require wraps next so it only runs for authenticated requests. The user id
// is available downstream through UserIDFromContext.
func (g *AccessGuard) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := g.Authenticate(r.Header.Get("Authorization"))
		if err != nil {
			if errors.Is(err, ErrExpiredToken) {
				w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token", error_description="token expired"`)
			} else {
				w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
			}
			writeError(w, newError(KindUnauthorized, err))
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithUserID(r.Context(), userID)))
	})
}

// Authenticate resolves an Authorization header value to a user id.
func (g *AccessGuard) Authenticate(header string) (string, error) {
	token, ok := BearerToken(header)
	if !ok {
		return "", ErrInvalidToken
	}
	userID, err := g.Verifier.Verify(token)
	if err != nil {
		g.Logger.Debug("bearer token rejected", "error", err)
		return "", err
	}
	return userID, nil
}

// BearerToken extracts the token from a "Bearer <token>" header value.
func BearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", false
	}
	return token, true
}
