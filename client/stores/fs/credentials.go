// Package fs persists client sessions in a JSON file so command-line tools
// stay logged in between runs.
package fs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/panyam/trackauth/client"
)

// SessionFile stores sessions as a JSON file readable only by its owner
type SessionFile struct {
	mu       sync.RWMutex
	path     string
	sessions map[string]*client.Session
}

type sessionFileData struct {
	Servers map[string]*client.Session `json:"servers"`
}

// NewSessionFile opens (or prepares) the session file. If path is empty,
// defaults to <user config dir>/<appName>/sessions.json
func NewSessionFile(path string, appName string) (*SessionFile, error) {
	if path == "" {
		configDir, err := os.UserConfigDir()
		if err != nil {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("could not determine config directory: %w", err)
			}
			configDir = filepath.Join(home, ".config")
		}
		if appName == "" {
			appName = "trackauth"
		}
		path = filepath.Join(configDir, appName, "sessions.json")
	}

	s := &SessionFile{path: path, sessions: make(map[string]*client.Session)}
	if err := s.load(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return s, nil
}

func (s *SessionFile) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	var file sessionFileData
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse session file: %w", err)
	}
	if file.Servers != nil {
		s.sessions = file.Servers
	}
	return nil
}

func (s *SessionFile) GetSession(serverURL string) (*client.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[client.ServerKey(serverURL)], nil
}

// SetSession stores session and writes the file immediately
func (s *SessionFile) SetSession(serverURL string, session *client.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[client.ServerKey(serverURL)] = session
	return s.flushLocked()
}

func (s *SessionFile) RemoveSession(serverURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, client.ServerKey(serverURL))
	return s.flushLocked()
}

// flushLocked writes the file. Caller must hold s.mu
func (s *SessionFile) flushLocked() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := json.MarshalIndent(sessionFileData{Servers: s.sessions}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize sessions: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write sessions: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace session file: %w", err)
	}
	return nil
}

// Path returns the path to the session file
func (s *SessionFile) Path() string {
	return s.path
}
