package trackauth

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config holds the tunables of the credential core. Field tags follow the
// daemon's configuration file layout.
type Config struct {
	// BaseURL prefixes the links sent in verification and reset emails.
	BaseURL string `koanf:"base_url"`

	// RequireEmailVerification selects the registration policy. When false,
	// accounts are created already verified and no token is sent (dev mode).
	RequireEmailVerification bool `koanf:"require_email_verification"`

	SessionSecret      string        `koanf:"session_secret"`
	SessionIssuer      string        `koanf:"session_issuer"`
	SessionTTL         time.Duration `koanf:"session_ttl"`
	ExtendedSessionTTL time.Duration `koanf:"extended_session_ttl"`

	VerificationTTL time.Duration `koanf:"verification_ttl"`
	ResetTTL        time.Duration `koanf:"reset_ttl"`

	MinPasswordLength int    `koanf:"min_password_length"`
	HashAlgorithm     string `koanf:"hash_algorithm"`
	HashWorkers       int    `koanf:"hash_workers"`

	LoginRateLimit  int           `koanf:"login_rate_limit"`
	LoginRateWindow time.Duration `koanf:"login_rate_window"`

	// TrustProxyHeaders makes the rate limiter key on X-Forwarded-For.
	// Only enable behind a proxy that overwrites the header.
	TrustProxyHeaders bool `koanf:"trust_proxy_headers"`

	NotificationAttempts int `koanf:"notification_attempts"`
}

// DefaultConfig returns the production defaults. SessionSecret has no default.
func DefaultConfig() Config {
	return Config{
		BaseURL:                  "http://localhost:8080",
		RequireEmailVerification: true,
		SessionTTL:               DefaultSessionTTL,
		ExtendedSessionTTL:       DefaultExtendedSessionTTL,
		VerificationTTL:          TokenExpiryEmailVerification,
		ResetTTL:                 TokenExpiryPasswordReset,
		MinPasswordLength:        DefaultMinPasswordLength,
		HashAlgorithm:            HashBcrypt,
		HashWorkers:              4,
		LoginRateLimit:           DefaultLoginLimit,
		LoginRateWindow:          DefaultLoginWindow,
		NotificationAttempts:     3,
	}
}

// MinSessionSecretLength is the shortest accepted HS256 secret, in bytes.
const MinSessionSecretLength = 32

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if len(c.SessionSecret) < MinSessionSecretLength {
		errs = append(errs, fmt.Errorf("session_secret must be at least %d bytes", MinSessionSecretLength))
	}
	if c.SessionTTL <= 0 {
		errs = append(errs, errors.New("session_ttl must be positive"))
	}
	if c.ExtendedSessionTTL < c.SessionTTL {
		errs = append(errs, errors.New("extended_session_ttl must not be shorter than session_ttl"))
	}
	if c.VerificationTTL <= 0 {
		errs = append(errs, errors.New("verification_ttl must be positive"))
	}
	if c.ResetTTL <= 0 {
		errs = append(errs, errors.New("reset_ttl must be positive"))
	}
	if c.LoginRateLimit <= 0 || c.LoginRateWindow <= 0 {
		errs = append(errs, errors.New("login_rate_limit and login_rate_window must be positive"))
	}
	switch c.HashAlgorithm {
	case HashBcrypt, HashArgon2id:
	default:
		errs = append(errs, fmt.Errorf("hash_algorithm must be %s or %s", HashBcrypt, HashArgon2id))
	}
	if !strings.HasPrefix(c.BaseURL, "http://") && !strings.HasPrefix(c.BaseURL, "https://") {
		errs = append(errs, errors.New("base_url must be an http(s) URL"))
	}
	return errors.Join(errs...)
}
