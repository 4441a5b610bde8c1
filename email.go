package trackauth

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
)

// NotificationSender delivers account emails. Applications provide their own
// transport; the core never talks SMTP itself.
type NotificationSender interface {
	SendVerificationEmail(ctx context.Context, to string, verificationLink string) error
	SendPasswordResetEmail(ctx context.Context, to string, resetLink string) error
}

// ConsoleEmailSender logs each message instead of sending it. Links carry
// single-use tokens, so the token is redacted unless RevealLinks is set;
// turn that on only for local development.
type ConsoleEmailSender struct {
	Logger      *slog.Logger
	RevealLinks bool
}

func (c *ConsoleEmailSender) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *ConsoleEmailSender) link(link string) string {
	if c.RevealLinks {
		return link
	}
	return RedactLink(link)
}

func (c *ConsoleEmailSender) SendVerificationEmail(_ context.Context, to string, verificationLink string) error {
	c.logger().Info("email: verify your email address", "to", to, "link", c.link(verificationLink))
	return nil
}

func (c *ConsoleEmailSender) SendPasswordResetEmail(_ context.Context, to string, resetLink string) error {
	c.logger().Info("email: reset your password", "to", to, "link", c.link(resetLink))
	return nil
}

// RedactLink replaces the token, the last path segment of an emailed link.
func RedactLink(link string) string {
	i := strings.LastIndex(link, "/")
	if i < 0 {
		return "[redacted]"
	}
	return link[:i+1] + "[redacted]"
}

// Notifier sends notifications in the background so request latency and
// outcome never depend on email delivery. Failures are retried with
// exponential backoff and then only logged.
type Notifier struct {
	sender   NotificationSender
	logger   *slog.Logger
	attempts uint64
	base     time.Duration
	timeout  time.Duration
	wg       sync.WaitGroup
}

// NewNotifier wraps sender. attempts is the total number of tries per message.
func NewNotifier(sender NotificationSender, logger *slog.Logger, attempts int) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	if attempts < 1 {
		attempts = 3
	}
	return &Notifier{
		sender:   sender,
		logger:   logger,
		attempts: uint64(attempts),
		base:     200 * time.Millisecond,
		timeout:  30 * time.Second,
	}
}

// WithBackoff sets the initial retry delay.
func (n *Notifier) WithBackoff(base time.Duration) *Notifier {
	n.base = base
	return n
}

func (n *Notifier) VerificationEmail(to, link string) {
	n.dispatch("verification", to, func(ctx context.Context) error {
		return n.sender.SendVerificationEmail(ctx, to, link)
	})
}

func (n *Notifier) PasswordResetEmail(to, link string) {
	n.dispatch("password_reset", to, func(ctx context.Context) error {
		return n.sender.SendPasswordResetEmail(ctx, to, link)
	})
}

func (n *Notifier) dispatch(kind, to string, send func(ctx context.Context) error) {
	if n == nil || n.sender == nil {
		return
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		// Detached from the request: the response may already be written.
		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		defer cancel()

		backoff := retry.WithMaxRetries(n.attempts-1, retry.NewExponential(n.base))
		err := retry.Do(ctx, backoff, func(ctx context.Context) error {
			if err := send(ctx); err != nil {
				return retry.RetryableError(err)
			}
			return nil
		})
		if err != nil {
			n.logger.Warn("notification delivery failed", "kind", kind, "to", to, "error", err)
		}
	}()
}

// Wait blocks until every dispatched notification has finished.
func (n *Notifier) Wait() {
	if n != nil {
		n.wg.Wait()
	}
}
