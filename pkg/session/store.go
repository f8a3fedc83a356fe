package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/keystone/pkg/identity"
)

// ErrNotFound is returned by Get for unknown or expired sessions
var ErrNotFound = errors.New("session not found")

// Payload is the server-side state of an authenticated session
type Payload struct {
	UserID      string              `json:"userId"`
	WorkspaceID string              `json:"workspaceId"`
	Principal   *identity.Principal `json:"principal"`
	ExpiresAt   time.Time           `json:"expiresAt"`
}

func (p *Payload) clone() *Payload {
	cp := *p
	cp.Principal = p.Principal.Clone()
	return &cp
}

func (p *Payload) expired(now time.Time) bool {
	return !p.ExpiresAt.IsZero() && !now.Before(p.ExpiresAt)
}

// Store persists session payloads by session id
type Store interface {
	Put(ctx context.Context, sid string, p *Payload) error
	Get(ctx context.Context, sid string) (*Payload, error)
	Delete(ctx context.Context, sid string) error
	// DestroyAllForUser deletes every session of userID and reports how many
	// were removed
	DestroyAllForUser(ctx context.Context, userID string) (int, error)
}

// Backend names
const (
	BackendNone   = "none"
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSQL    = "sql"
)

// Config selects and tunes the session backend
type Config struct {
	Backend string
	// TTL bounds how long a session lives; it matches the refresh token lifetime
	TTL            time.Duration
	MemoryCapacity int
	SweepSchedule  string
	ScanBatchSize  int64
}

// Backends holds the connections a backend may need
type Backends struct {
	SQL   *identity.SQLStore
	Redis RedisClient
}

// NewStore builds the configured backend. BackendNone returns a nil Store.
func NewStore(cfg Config, b Backends) (Store, error) {
	switch cfg.Backend {
	case BackendNone, "":
		return nil, nil
	case BackendMemory:
		return NewMemoryStore(cfg.MemoryCapacity, cfg.TTL), nil
	case BackendRedis:
		if b.Redis == nil {
			return nil, errors.New("redis session backend requires a redis client")
		}
		return NewRedisStore(b.Redis, cfg.ScanBatchSize), nil
	case BackendSQL:
		if b.SQL == nil {
			return nil, errors.New("sql session backend requires a database")
		}
		return NewSQLStore(b.SQL.DB(), b.SQL.Dialect()), nil
	default:
		return nil, fmt.Errorf("unknown session backend: %s", cfg.Backend)
	}
}
