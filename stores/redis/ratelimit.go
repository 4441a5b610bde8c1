// Package redis shares login rate-limit counters between processes through
// Redis.
package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	ta "github.com/panyam/trackauth"
)

// incrWindow increments the counter and starts its window on first use, in
// one atomic step.
var incrWindow = goredis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)

// Connect opens a client and verifies the server answers.
func Connect(ctx context.Context, addr, password string, db int) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return client, nil
}

// LoginRateLimiter is a fixed-window trackauth.LoginRateLimiter backed by
// Redis counters that expire with their window.
type LoginRateLimiter struct {
	client goredis.Scripter
	limit  int64
	window time.Duration
	prefix string
}

func NewLoginRateLimiter(client goredis.Scripter, limit int, window time.Duration) *LoginRateLimiter {
	if limit <= 0 {
		limit = ta.DefaultLoginLimit
	}
	if window <= 0 {
		window = ta.DefaultLoginWindow
	}
	return &LoginRateLimiter{client: client, limit: int64(limit), window: window, prefix: "trackauth:login:"}
}

// WithPrefix namespaces the counter keys.
func (l *LoginRateLimiter) WithPrefix(prefix string) *LoginRateLimiter {
	l.prefix = prefix
	return l
}

func (l *LoginRateLimiter) Check(ctx context.Context, address string) error {
	n, err := incrWindow.Run(ctx, l.client, []string{l.prefix + address}, l.window.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("rate limit counter: %w", err)
	}
	if n > l.limit {
		return ta.ErrRateLimited
	}
	return nil
}
