package client

import (
	"net/http"
)

// AuthTransport wraps an http.RoundTripper to add Authorization headers.
// TokenFunc is consulted on every request; an empty token sends none.
type AuthTransport struct {
	Base      http.RoundTripper
	TokenFunc func() string
}

// RoundTrip implements http.RoundTripper
func (t *AuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.TokenFunc != nil {
		if token := t.TokenFunc(); token != "" {
			// Clone the request to avoid mutating the original
			req2 := req.Clone(req.Context())
			req2.Header.Set("Authorization", "Bearer "+token)
			req = req2
		}
	}

	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}

// NewAuthTransport creates an AuthTransport that always sends token
func NewAuthTransport(token string) *AuthTransport {
	return &AuthTransport{
		Base:      http.DefaultTransport,
		TokenFunc: func() string { return token },
	}
}
