// Package tokenstore holds the access and refresh tokens for one session.
// A Store is an in-memory cache in front of a durable Backend: reads go
// through to the backend on a cache miss, writes go to the backend first and
// then to the cache. Nothing else in the module writes tokens directly.
package tokenstore

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Keys of the two persisted entries. The names match the oauth2.Token JSON
// fields so the token file backend can store them without translation.
const (
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"
)

// Backend is durable key/value storage for the token entries. Get returns
// "" with a nil error when the entry is absent. Delete of an absent entry is
// not an error.
type Backend interface {
	Get(key string) (string, error)
	Put(key, value string) error
	Delete(key string) error
}

// Store is the single source of truth for a session's token pair.
// Safe for concurrent use.
type Store struct {
	backend Backend
	logger  *slog.Logger

	// Cached values. "" means not cached; absent entries are re-read from
	// the backend on every call so a token written by another process is
	// picked up.
	mu      sync.Mutex
	access  string
	refresh string
}

// New creates a Store over the given backend.
func New(backend Backend, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}

	return &Store{
		backend: backend,
		logger:  logger,
	}
}

// AccessToken returns the current access token, or "" if none is stored.
func (s *Store) AccessToken() (string, error) {
	return s.get(KeyAccessToken, &s.access)
}

// RefreshToken returns the current refresh token, or "" if none is stored.
func (s *Store) RefreshToken() (string, error) {
	return s.get(KeyRefreshToken, &s.refresh)
}

// SetAccessToken stores the access token. An empty token deletes the entry.
func (s *Store) SetAccessToken(token string) error {
	return s.set(KeyAccessToken, &s.access, token)
}

// SetRefreshToken stores the refresh token. An empty token deletes the entry.
func (s *Store) SetRefreshToken(token string) error {
	return s.set(KeyRefreshToken, &s.refresh, token)
}

// SetTokens stores both tokens, as done after a successful login.
func (s *Store) SetTokens(access, refresh string) error {
	if err := s.SetAccessToken(access); err != nil {
		return err
	}

	return s.SetRefreshToken(refresh)
}

// Clear removes both tokens from the cache and the backend. Calling Clear on
// an empty store is a no-op.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error

	for _, k := range []struct {
		key string
		v   *string
	}{
		{KeyAccessToken, &s.access},
		{KeyRefreshToken, &s.refresh},
	} {
		if err := s.backend.Delete(k.key); err != nil {
			errs = append(errs, fmt.Errorf("tokenstore: deleting %s: %w", k.key, err))

			continue
		}

		*k.v = ""
	}

	if len(errs) == 0 {
		s.logger.Debug("tokens cleared")
	}

	return errors.Join(errs...)
}

// Invalidate drops the cached values so the next read goes to the backend.
// Used when the backend is known to have been changed by another process.
func (s *Store) Invalidate() {
	s.mu.Lock()
	s.access = ""
	s.refresh = ""
	s.mu.Unlock()
}

func (s *Store) get(key string, cached *string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if *cached != "" {
		return *cached, nil
	}

	v, err := s.backend.Get(key)
	if err != nil {
		return "", fmt.Errorf("tokenstore: reading %s: %w", key, err)
	}

	*cached = v

	return v, nil
}

func (s *Store) set(key string, cached *string, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if value == "" {
		if err := s.backend.Delete(key); err != nil {
			return fmt.Errorf("tokenstore: deleting %s: %w", key, err)
		}

		*cached = ""

		return nil
	}

	if err := s.backend.Put(key, value); err != nil {
		return fmt.Errorf("tokenstore: writing %s: %w", key, err)
	}

	*cached = value

	return nil
}
