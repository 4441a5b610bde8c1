package trackauth

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Login rate limit defaults
const (
	DefaultLoginLimit  = 5
	DefaultLoginWindow = 15 * time.Minute
)

// LoginRateLimiter throttles login attempts per client address.
type LoginRateLimiter interface {
	// Check records one attempt from address and returns ErrRateLimited when
	// the address has exceeded its budget for the current window.
	Check(ctx context.Context, address string) error
}

type window struct {
	count   int
	resetAt time.Time
}

// FixedWindowLimiter is an in-process LoginRateLimiter. Every attempt counts,
// successful or not; the counter resets when the window elapses.
// It is safe for concurrent use.
type FixedWindowLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	limit   int
	period  time.Duration

	// Now defaults to time.Now.
	Now func() time.Time
}

// NewFixedWindowLimiter allows limit attempts per period. Non-positive
// arguments fall back to the defaults.
func NewFixedWindowLimiter(limit int, period time.Duration) *FixedWindowLimiter {
	if limit <= 0 {
		limit = DefaultLoginLimit
	}
	if period <= 0 {
		period = DefaultLoginWindow
	}
	return &FixedWindowLimiter{
		windows: make(map[string]*window),
		limit:   limit,
		period:  period,
		Now:     time.Now,
	}
}

func (l *FixedWindowLimiter) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

func (l *FixedWindowLimiter) Check(_ context.Context, address string) error {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[address]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(l.period)}
		l.windows[address] = w
	}
	w.count++
	if w.count > l.limit {
		return ErrRateLimited
	}
	return nil
}

// Sweep drops windows that have elapsed and returns how many remain.
func (l *FixedWindowLimiter) Sweep() int {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	for addr, w := range l.windows {
		if !now.Before(w.resetAt) {
			delete(l.windows, addr)
		}
	}
	return len(l.windows)
}

// Run sweeps every interval until ctx is done.
func (l *FixedWindowLimiter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}

// ClientAddress extracts the client IP from a request. Forwarding headers are
// honoured only when trustProxy is set, otherwise any client could pick its
// own rate-limit key.
func ClientAddress(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			if idx := strings.Index(xff, ","); idx != -1 {
				return strings.TrimSpace(xff[:idx])
			}
			return strings.TrimSpace(xff)
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			return strings.TrimSpace(xri)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
