package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("trackauth: HTTP %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("trackauth: HTTP %d: %s", e.Status, e.Message)
}

// Profile is the account view returned by GET /profile
type Profile struct {
	ID         string    `json:"id"`
	Email      string    `json:"email"`
	IsVerified bool      `json:"isVerified"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// AuthClient talks to a trackauth server and remembers its session
type AuthClient struct {
	serverURL     string
	basePath      string
	store         SessionStore
	httpClient    *http.Client
	baseTransport http.RoundTripper
}

// ClientOption configures an AuthClient
type ClientOption func(*AuthClient)

// WithBasePath sets the prefix the auth routes are mounted under, e.g. "/api/auth"
func WithBasePath(path string) ClientOption {
	return func(c *AuthClient) {
		c.basePath = "/" + strings.Trim(path, "/")
		if c.basePath == "/" {
			c.basePath = ""
		}
	}
}

// WithHTTPClient copies timeout, redirect policy and transport from client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *AuthClient) {
		if client == nil {
			return
		}
		if client.Transport != nil {
			c.baseTransport = client.Transport
		}
		c.httpClient.Timeout = client.Timeout
		c.httpClient.CheckRedirect = client.CheckRedirect
	}
}

// WithTransport sets a custom base transport (for connection pooling, proxies, etc.)
func WithTransport(transport http.RoundTripper) ClientOption {
	return func(c *AuthClient) {
		c.baseTransport = transport
	}
}

// NewAuthClient creates a client for serverURL. store may be nil, in which
// case sessions are kept in memory.
func NewAuthClient(serverURL string, store SessionStore, opts ...ClientOption) *AuthClient {
	if store == nil {
		store = NewMemorySessionStore()
	}
	c := &AuthClient{
		serverURL:     ServerKey(serverURL),
		store:         store,
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		baseTransport: http.DefaultTransport,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.httpClient.Transport = &AuthTransport{Base: c.baseTransport, TokenFunc: c.Token}
	return c
}

// HTTPClient returns a client that authenticates requests to any URL with
// the current session. Use it for the application's protected routes.
func (c *AuthClient) HTTPClient() *http.Client {
	return c.httpClient
}

// ServerURL returns the server URL this client is configured for
func (c *AuthClient) ServerURL() string {
	return c.serverURL
}

// Token returns the current session token, or "" if there is none or it expired.
func (c *AuthClient) Token() string {
	s, err := c.store.GetSession(c.serverURL)
	if err != nil || s == nil || s.IsExpired() {
		return ""
	}
	return s.Token
}

// IsLoggedIn returns true if there is a valid (non-expired) session
func (c *AuthClient) IsLoggedIn() bool {
	return c.Token() != ""
}

// Register creates an account and returns its user id.
func (c *AuthClient) Register(ctx context.Context, email, password string) (string, error) {
	var out struct {
		Message string `json:"message"`
		UserID  string `json:"userId"`
	}
	err := c.do(ctx, http.MethodPost, "/register", map[string]string{"email": email, "password": password}, &out)
	return out.UserID, err
}

// Confirm follows a verification link's token.
func (c *AuthClient) Confirm(ctx context.Context, token string) error {
	return c.do(ctx, http.MethodGet, "/verify/"+url.PathEscape(token), nil, nil)
}

// Login authenticates and stores the session.
func (c *AuthClient) Login(ctx context.Context, email, password string, remember bool) (*Session, error) {
	var session Session
	body := map[string]any{"email": email, "password": password, "remember": remember}
	if err := c.do(ctx, http.MethodPost, "/login", body, &session); err != nil {
		return nil, err
	}
	if err := c.store.SetSession(c.serverURL, &session); err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}
	return &session, nil
}

// Logout forgets the stored session. Tokens are stateless, so the server is
// not contacted.
func (c *AuthClient) Logout() error {
	return c.store.RemoveSession(c.serverURL)
}

// Profile fetches the logged-in account.
func (c *AuthClient) Profile(ctx context.Context) (*Profile, error) {
	var p Profile
	if err := c.do(ctx, http.MethodGet, "/profile", nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ChangePassword sets a new password for the logged-in account.
func (c *AuthClient) ChangePassword(ctx context.Context, newPassword string) error {
	return c.do(ctx, http.MethodPut, "/change-password", map[string]string{"newPassword": newPassword}, nil)
}

// ForgotPassword requests a reset email.
func (c *AuthClient) ForgotPassword(ctx context.Context, email string) error {
	return c.do(ctx, http.MethodPost, "/forgot-password", map[string]string{"email": email}, nil)
}

// ResendVerification requests a new verification email.
func (c *AuthClient) ResendVerification(ctx context.Context, email string) error {
	return c.do(ctx, http.MethodPost, "/resend-verification", map[string]string{"email": email}, nil)
}

// ResetPassword completes a reset with the emailed token.
func (c *AuthClient) ResetPassword(ctx context.Context, token, newPassword string) error {
	return c.do(ctx, http.MethodPatch, "/reset-password/"+url.PathEscape(token), map[string]string{"password": newPassword}, nil)
}

func (c *AuthClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.serverURL+c.basePath+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		var eb struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		if json.Unmarshal(data, &eb) == nil {
			apiErr.Code, apiErr.Message = eb.Code, eb.Error
		}
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("invalid response from server: %w", err)
		}
	}
	return nil
}
