package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/drug-speak/internal/domain"
)

// sessionState is what the CLI keeps between runs
type sessionState struct {
	Token    string                   `json:"token,omitempty"`
	User     *domain.User             `json:"user,omitempty"`
	Progress *domain.LearningSnapshot `json:"progress,omitempty"`
}

// fileSession persists the session as JSON. It implements client.TokenStore.
type fileSession struct {
	path  string
	mu    sync.Mutex
	state sessionState
}

func openSession(path string) (*fileSession, error) {
	s := &fileSession{path: path}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading session: %w", err)
	}
	if err := json.Unmarshal(data, &s.state); err != nil {
		return nil, fmt.Errorf("decoding session %s: %w", path, err)
	}
	return s, nil
}

func (s *fileSession) Load() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Token, nil
}

func (s *fileSession) Save(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Token = token
	return s.writeLocked()
}

// Delete forgets the token together with the user and progress it belongs to
func (s *fileSession) Delete() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = sessionState{}
	return s.writeLocked()
}

// user returns the stored user, if any
func (s *fileSession) user() (*domain.User, *domain.LearningSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.User, s.state.Progress
}

// remember stores the signed-in user and their local progress
func (s *fileSession) remember(user *domain.User, snapshot domain.LearningSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Token == "" {
		return nil
	}
	s.state.User = user
	s.state.Progress = &snapshot
	return s.writeLocked()
}

func (s *fileSession) writeLocked() error {
	if s.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("creating session dir: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("writing session: %w", err)
	}
	return nil
}
