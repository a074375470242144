// Package clientstore persists the client-side session snapshot: the access
// token, its expiry and the signed-in user. Each field lives under its own
// key so that writes can merge into what is already stored.
package clientstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/storefront/authsession/internal/models"
)

const (
	KeyAccessToken          = "auth.accessToken"
	KeyAccessTokenExpiresAt = "auth.accessTokenExpiresAt"
	KeyUser                 = "auth.user"
)

type Scope int

const (
	// ScopePersistent survives restarts of the client.
	ScopePersistent Scope = iota
	// ScopeSession lasts for a single client session.
	ScopeSession
)

func (s Scope) String() string {
	switch s {
	case ScopePersistent:
		return "persistent"
	case ScopeSession:
		return "session"
	default:
		return fmt.Sprintf("scope(%d)", int(s))
	}
}

// Backend is a string key/value store. Get reports whether key was present.
type Backend interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

type Snapshot struct {
	AccessToken          *string          `json:"accessToken"`
	AccessTokenExpiresAt *string          `json:"accessTokenExpiresAt"`
	User                 *models.AuthUser `json:"user"`
}

// Store reads and writes snapshots. A scope with no backend is unavailable:
// reads return nil and writes do nothing.
type Store struct {
	backends map[Scope]Backend
}

type Option func(*Store)

func WithBackend(scope Scope, backend Backend) Option {
	return func(s *Store) {
		if backend != nil {
			s.backends[scope] = backend
		}
	}
}

func New(opts ...Option) *Store {
	s := &Store{backends: map[Scope]Backend{}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) backend(scope Scope) (Backend, bool) {
	b, ok := s.backends[scope]
	return b, ok
}

func (s *Store) Available(scope Scope) bool {
	_, ok := s.backend(scope)
	return ok
}

func (s *Store) Read(ctx context.Context, scope Scope) (*Snapshot, error) {
	b, ok := s.backend(scope)
	if !ok {
		return nil, nil
	}

	snap := &Snapshot{}

	token, ok, err := b.Get(ctx, KeyAccessToken)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", KeyAccessToken, err)
	}
	if ok {
		snap.AccessToken = &token
	}

	expiresAt, ok, err := b.Get(ctx, KeyAccessTokenExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", KeyAccessTokenExpiresAt, err)
	}
	if ok {
		snap.AccessTokenExpiresAt = &expiresAt
	}

	rawUser, ok, err := b.Get(ctx, KeyUser)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", KeyUser, err)
	}
	if ok {
		var user models.AuthUser
		if err := json.Unmarshal([]byte(rawUser), &user); err != nil {
			return nil, fmt.Errorf("decode %s: %w", KeyUser, err)
		}
		snap.User = &user
	}

	return snap, nil
}

// Write stores the non-nil fields of snap and leaves the other keys as they are.
func (s *Store) Write(ctx context.Context, snap Snapshot, scope Scope) error {
	b, ok := s.backend(scope)
	if !ok {
		return nil
	}

	if snap.AccessToken != nil {
		if err := b.Set(ctx, KeyAccessToken, *snap.AccessToken); err != nil {
			return fmt.Errorf("write %s: %w", KeyAccessToken, err)
		}
	}

	if snap.AccessTokenExpiresAt != nil {
		if err := b.Set(ctx, KeyAccessTokenExpiresAt, *snap.AccessTokenExpiresAt); err != nil {
			return fmt.Errorf("write %s: %w", KeyAccessTokenExpiresAt, err)
		}
	}

	if snap.User != nil {
		raw, err := json.Marshal(snap.User)
		if err != nil {
			return fmt.Errorf("encode %s: %w", KeyUser, err)
		}
		if err := b.Set(ctx, KeyUser, string(raw)); err != nil {
			return fmt.Errorf("write %s: %w", KeyUser, err)
		}
	}

	return nil
}

func (s *Store) Clear(ctx context.Context, scope Scope) error {
	b, ok := s.backend(scope)
	if !ok {
		return nil
	}

	for _, key := range []string{KeyAccessToken, KeyAccessTokenExpiresAt, KeyUser} {
		if err := b.Remove(ctx, key); err != nil {
			return fmt.Errorf("clear %s: %w", key, err)
		}
	}
	return nil
}
