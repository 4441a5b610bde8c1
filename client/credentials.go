// Package client is a Go client for the trackauth HTTP API. It keeps the
// session returned by Login and attaches it to later requests.
package client

import (
	"net/url"
	"strings"
	"sync"
	"time"
)

// Session holds the bearer token for one server
type Session struct {
	Token     string    `json:"token"`
	UserID    string    `json:"userId"`
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// IsExpired returns true if the token has expired
func (s *Session) IsExpired() bool {
	return !s.ExpiresAt.IsZero() && time.Now().After(s.ExpiresAt)
}

// IsExpiringSoon returns true if the token expires within the given duration
func (s *Session) IsExpiringSoon(within time.Duration) bool {
	return !s.ExpiresAt.IsZero() && time.Now().Add(within).After(s.ExpiresAt)
}

// SessionStore keeps sessions keyed by server URL
type SessionStore interface {
	// GetSession returns nil, nil if no session exists for the server
	GetSession(serverURL string) (*Session, error)

	SetSession(serverURL string, session *Session) error

	RemoveSession(serverURL string) error
}

// MemorySessionStore is a SessionStore that lives as long as the process.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]*Session)}
}

func (m *MemorySessionStore) GetSession(serverURL string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[ServerKey(serverURL)], nil
}

func (m *MemorySessionStore) SetSession(serverURL string, session *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[ServerKey(serverURL)] = session
	return nil
}

func (m *MemorySessionStore) RemoveSession(serverURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, ServerKey(serverURL))
	return nil
}

// ServerKey normalizes a server URL to scheme://host for use as a store key.
func ServerKey(serverURL string) string {
	u, err := url.Parse(serverURL)
	if err != nil || u.Host == "" {
		return strings.TrimRight(serverURL, "/")
	}
	if u.Scheme == "" {
		u.Scheme = "https"
	}
	return u.Scheme + "://" + u.Host
}
