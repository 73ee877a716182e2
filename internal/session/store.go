// Package session holds the bearer token attached to remote API calls. Tokens
// are issued elsewhere; this package only stores the current one.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// ErrNoToken is returned when no session is active.
var ErrNoToken = errors.New("session: no active token")

type Store struct {
	mu       sync.RWMutex
	token    string
	optional bool
}

// NewStore seeds the store with an initial token, which may be empty. When
// optional is true, Token returns "" instead of ErrNoToken so requests go out
// unauthenticated.
func NewStore(initial string, optional bool) *Store {
	return &Store{token: strings.TrimSpace(initial), optional: optional}
}

func (s *Store) Token(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == "" && !s.optional {
		return "", ErrNoToken
	}
	return s.token, nil
}

func (s *Store) Set(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("session: token is empty")
	}
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
	return nil
}

func (s *Store) Clear() {
	s.mu.Lock()
	s.token = ""
	s.mu.Unlock()
}

func (s *Store) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token != ""
}
