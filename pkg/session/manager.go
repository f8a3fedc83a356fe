package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/keystone/pkg/identity"
	"github.com/platinummonkey/keystone/pkg/observability"
)

// Manager creates and looks up sessions on top of an optional Store.
// Without a store every lookup is resolved from the data model and
// revocation is a logged no-op.
type Manager struct {
	store    Store
	resolver *identity.Resolver
	ttl      time.Duration
	logger   *observability.Logger
	now      func() time.Time
}

// NewManager creates a session manager; store may be nil
func NewManager(store Store, resolver *identity.Resolver, ttl time.Duration, logger *observability.Logger) *Manager {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Manager{
		store:    store,
		resolver: resolver,
		ttl:      ttl,
		logger:   logger.WithField("component", "session"),
		now:      time.Now,
	}
}

// Enabled reports whether sessions are persisted
func (m *Manager) Enabled() bool {
	return m.store != nil
}

// Create starts a session for p and returns its id
func (m *Manager) Create(ctx context.Context, p *identity.Principal) (string, error) {
	sid := uuid.NewString()
	if m.store == nil {
		return sid, nil
	}
	payload := &Payload{
		UserID:      p.ID,
		WorkspaceID: p.ActiveWorkspaceID,
		Principal:   p,
		ExpiresAt:   m.now().Add(m.ttl).UTC(),
	}
	if err := m.store.Put(ctx, sid, payload); err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	sessionsCreated.Inc()
	return sid, nil
}

// Principal returns the principal of session sid. The token's user must
// own the session. Without a store the principal is resolved afresh.
func (m *Manager) Principal(ctx context.Context, sid, userID, workspaceID string) (*identity.Principal, error) {
	if m.store == nil {
		if m.resolver == nil {
			return nil, errors.New("session manager has neither a store nor a resolver")
		}
		return m.resolver.Resolve(ctx, userID, workspaceID)
	}

	payload, err := m.store.Get(ctx, sid)
	if errors.Is(err, ErrNotFound) {
		return nil, identity.ErrSessionRevoked
	}
	if err != nil {
		return nil, err
	}
	if payload.UserID != userID || payload.Principal == nil {
		return nil, identity.ErrInvalidToken
	}
	return payload.Principal, nil
}

// Exists reports whether sid is a live session. Without a store every
// session is considered live.
func (m *Manager) Exists(ctx context.Context, sid string) (bool, error) {
	if m.store == nil {
		return true, nil
	}
	_, err := m.store.Get(ctx, sid)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Update replaces the principal stored for sid, keeping its expiry
func (m *Manager) Update(ctx context.Context, sid string, p *identity.Principal) error {
	if m.store == nil {
		return nil
	}
	payload, err := m.store.Get(ctx, sid)
	if errors.Is(err, ErrNotFound) {
		return identity.ErrSessionRevoked
	}
	if err != nil {
		return err
	}
	payload.Principal = p
	payload.WorkspaceID = p.ActiveWorkspaceID
	return m.store.Put(ctx, sid, payload)
}

// Destroy ends one session
func (m *Manager) Destroy(ctx context.Context, sid string) error {
	if m.store == nil || sid == "" {
		return nil
	}
	return m.store.Delete(ctx, sid)
}

// DestroyAllForUser revokes every session of a user. Failures are logged
// and swallowed so the calling operation still completes.
func (m *Manager) DestroyAllForUser(ctx context.Context, userID string) int {
	logger := m.logger.WithField("user_id", userID)
	if m.store == nil {
		logger.Warn("No session store configured, skipping session revocation")
		return 0
	}
	n, err := m.store.DestroyAllForUser(ctx, userID)
	if err != nil {
		logger.WithError(err).Error("Failed to revoke user sessions")
		return n
	}
	sessionsRevoked.Add(float64(n))
	logger.Infof("Revoked %d sessions", n)
	return n
}
