package trackauth_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	ta "github.com/panyam/trackauth"
	"github.com/panyam/trackauth/stores/fs"
)

const testSecret = "test-secret-that-is-at-least-32-bytes-long"

// testClock is a settable clock shared by every component under test.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type sentEmail struct {
	Kind string
	To   string
	Link string
}

// capturingSender records every email instead of sending it.
type capturingSender struct {
	mu   sync.Mutex
	sent []sentEmail
	fail int // fail the first n sends
}

func (s *capturingSender) record(kind, to, link string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail > 0 {
		s.fail--
		return errors.New("smtp unavailable")
	}
	s.sent = append(s.sent, sentEmail{Kind: kind, To: to, Link: link})
	return nil
}

func (s *capturingSender) SendVerificationEmail(_ context.Context, to, link string) error {
	return s.record("verification", to, link)
}

func (s *capturingSender) SendPasswordResetEmail(_ context.Context, to, link string) error {
	return s.record("password_reset", to, link)
}

func (s *capturingSender) emails() []sentEmail {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentEmail(nil), s.sent...)
}

// lastToken returns the token from the most recent email of kind to address.
func (s *capturingSender) lastToken(t *testing.T, kind, to string) string {
	t.Helper()
	emails := s.emails()
	for i := len(emails) - 1; i >= 0; i-- {
		if emails[i].Kind == kind && emails[i].To == to {
			link := emails[i].Link
			return link[strings.LastIndex(link, "/")+1:]
		}
	}
	t.Fatalf("no %s email sent to %s", kind, to)
	return ""
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() ta.Config {
	cfg := ta.DefaultConfig()
	cfg.SessionSecret = testSecret
	cfg.BaseURL = "http://tracker.test"
	cfg.HashWorkers = 2
	return cfg
}

type gatewayEnv struct {
	Gateway *ta.AuthGateway
	Store   *fs.CredentialStore
	Sender  *capturingSender
	Clock   *testClock
	Issuer  *ta.SessionTokenIssuer
}

func newGatewayEnv(t *testing.T, mutate func(*ta.Config)) *gatewayEnv {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	clock := newTestClock()
	store := fs.NewCredentialStore(t.TempDir())
	sender := &capturingSender{}
	issuer, err := ta.NewSessionTokenIssuer([]byte(cfg.SessionSecret), cfg.SessionIssuer)
	if err != nil {
		t.Fatalf("NewSessionTokenIssuer() error = %v", err)
	}
	issuer.Now = clock.Now
	hasher, err := ta.NewPasswordHasher(cfg.HashAlgorithm, cfg.HashWorkers)
	if err != nil {
		t.Fatalf("NewPasswordHasher() error = %v", err)
	}
	logger := discardLogger()
	notifier := ta.NewNotifier(sender, logger, 1)
	g := ta.NewAuthGateway(cfg, store, hasher, issuer, sender,
		ta.WithLogger(logger),
		ta.WithClock(clock.Now),
		ta.WithNotifier(notifier),
	)
	t.Cleanup(g.Close)
	return &gatewayEnv{Gateway: g, Store: store, Sender: sender, Clock: clock, Issuer: issuer}
}

// registerVerified registers email and confirms it through the emailed link.
func (e *gatewayEnv) registerVerified(t *testing.T, email, password string) *ta.UserIdentity {
	t.Helper()
	ctx := context.Background()
	identity, err := e.Gateway.Register(ctx, email, password)
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	e.Gateway.Close()
	if err := e.Gateway.ConfirmEmail(ctx, e.Sender.lastToken(t, "verification", ta.NormalizeEmail(email))); err != nil {
		t.Fatalf("ConfirmEmail() error = %v", err)
	}
	return identity
}

func requireKind(t *testing.T, err error, want ta.ErrorKind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", want)
	}
	if got := ta.KindOf(err); got != want {
		t.Fatalf("KindOf(%v) = %s, want %s", err, got, want)
	}
}
