// Package session holds the current bearer credential and user record,
// mirrored to durable storage so a restart boots straight into the previous
// session.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/driftwatch/driftwatch/internal/api"
	"github.com/driftwatch/driftwatch/internal/mirror"
)

// Store is the session store. It satisfies api.TokenProvider.
type Store struct {
	mu     sync.RWMutex
	token  string
	user   *api.User
	mirror *mirror.Mirror
	logger zerolog.Logger
}

// NewStore creates a session store backed by the given mirror.
func NewStore(m *mirror.Mirror, logger zerolog.Logger) *Store {
	return &Store{
		mirror: m,
		logger: logger.With().Str("component", "session").Logger(),
	}
}

// Load reads the persisted token and user. Missing keys leave the store
// logged out without error.
func (s *Store) Load(ctx context.Context) error {
	tokenRaw, err := s.mirror.Get(ctx, mirror.KeySessionToken)
	if err != nil {
		return err
	}
	userRaw, err := s.mirror.Get(ctx, mirror.KeyCurrentUser)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.token = string(tokenRaw)
	s.user = nil
	if len(userRaw) > 0 {
		var user api.User
		if err := json.Unmarshal(userRaw, &user); err != nil {
			// A corrupt user record is not fatal; the boot sequence
			// refetches the user anyway.
			s.logger.Warn().Err(err).Msg("discarding unreadable persisted user")
		} else {
			s.user = &user
		}
	}
	return nil
}

// Token returns the current bearer credential, empty when logged out.
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// User returns the current user record, nil when unknown.
func (s *Store) User() *api.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

// LoggedIn reports whether a bearer credential is present.
func (s *Store) LoggedIn() bool {
	return s.Token() != ""
}

// IsStaff reports whether the current user has staff privileges.
func (s *Store) IsStaff() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user != nil && s.user.IsStaff
}

// SetToken stores and persists a new bearer credential.
func (s *Store) SetToken(ctx context.Context, token string) error {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()

	if err := s.mirror.Put(ctx, mirror.KeySessionToken, []byte(token)); err != nil {
		return fmt.Errorf("persist session token: %w", err)
	}
	return nil
}

// SetUser stores and persists the current user record.
func (s *Store) SetUser(ctx context.Context, user *api.User) error {
	s.mu.Lock()
	s.user = user
	s.mu.Unlock()

	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("encode user: %w", err)
	}
	if err := s.mirror.Put(ctx, mirror.KeyCurrentUser, data); err != nil {
		return fmt.Errorf("persist user: %w", err)
	}
	return nil
}

// Clear drops the token and user from memory and from the mirror. Used on
// logout and on an unauthorized response during boot.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.token = ""
	s.user = nil
	s.mu.Unlock()

	if err := s.mirror.Delete(ctx, mirror.KeySessionToken); err != nil {
		return err
	}
	return s.mirror.Delete(ctx, mirror.KeyCurrentUser)
}
