// Package session keeps dashboard login sessions in the counter store.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"visitinsight/internal/counter"
)

// ErrNoSession is returned for an unknown, expired or revoked token.
var ErrNoSession = errors.New("no such session")

const DefaultTTL = 24 * time.Hour

type Manager struct {
	store counter.Store
	ttl   time.Duration
}

func NewManager(store counter.Store, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{store: store, ttl: ttl}
}

func key(token string) string {
	return "session:" + token
}

func (m *Manager) TTL() time.Duration { return m.ttl }

// Create starts a session for username and returns its token.
func (m *Manager) Create(ctx context.Context, username string) (string, error) {
	token := uuid.NewString()
	if err := m.store.Set(ctx, key(token), username, m.ttl); err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return token, nil
}

// Lookup returns the username behind token. Store failures are returned
// as is so callers can refuse access.
func (m *Manager) Lookup(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrNoSession
	}
	username, ok, err := m.store.Get(ctx, key(token))
	if err != nil {
		return "", fmt.Errorf("lookup session: %w", err)
	}
	if !ok {
		return "", ErrNoSession
	}
	return username, nil
}

func (m *Manager) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := m.store.Delete(ctx, key(token)); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}
