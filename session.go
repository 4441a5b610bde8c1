package trackauth

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
)

// Default session lifetimes
const (
	DefaultSessionTTL         = time.Hour
	DefaultExtendedSessionTTL = 7 * 24 * time.Hour
)

// SessionTokenIssuer mints and verifies HS256-signed bearer tokens.
// It holds no per-session state.
type SessionTokenIssuer struct {
	secret []byte
	issuer string

	// Now defaults to time.Now. Used both for iat/exp and for validation.
	Now    func() time.Time
	Logger *slog.Logger
}

// NewSessionTokenIssuer creates an issuer signing with secret. issuer, when
// set, is written to and required in the iss claim.
func NewSessionTokenIssuer(secret []byte, issuer string) (*SessionTokenIssuer, error) {
	if len(secret) == 0 {
		return nil, errors.New("session secret must not be empty")
	}
	return &SessionTokenIssuer{secret: secret, issuer: issuer, Now: time.Now}, nil
}

func (s *SessionTokenIssuer) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *SessionTokenIssuer) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// Issue returns a token for userID valid for ttl, and its expiry.
func (s *SessionTokenIssuer) Issue(userID string, ttl time.Duration) (string, time.Time, error) {
	if userID == "" {
		return "", time.Time{}, errors.New("session subject must not be empty")
	}
	if ttl <= 0 {
		return "", time.Time{}, fmt.Errorf("session ttl must be positive, got %s", ttl)
	}
	now := s.now()
	expiresAt := now.Add(ttl)
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    s.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		ID:        ulid.Make().String(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify checks signature then expiry and returns the subject.
// Expired tokens yield ErrExpiredToken; every other failure ErrInvalidToken.
func (s *SessionTokenIssuer) Verify(tokenString string) (string, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) && !errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			return "", ErrExpiredToken
		}
		s.logger().Debug("session token rejected", "error", err)
		return "", ErrInvalidToken
	}
	if claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}
