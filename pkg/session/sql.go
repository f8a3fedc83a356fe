package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/keystone/pkg/identity"
)

// SQLStore keeps sessions in the login_sessions table
type SQLStore struct {
	db      *sql.DB
	dialect identity.Dialect
	now     func() time.Time
}

// NewSQLStore creates a relational store
func NewSQLStore(db *sql.DB, dialect identity.Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect, now: time.Now}
}

func (s *SQLStore) Put(ctx context.Context, sid string, p *Payload) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	query := `
		INSERT INTO login_sessions (sid, sess, expire)
		VALUES ($1, $2, $3)
		ON CONFLICT (sid) DO UPDATE SET sess = EXCLUDED.sess, expire = EXCLUDED.expire
	`
	if _, err := s.db.ExecContext(ctx, query, sid, string(data), p.ExpiresAt.UTC()); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, sid string) (*Payload, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT sess FROM login_sessions WHERE sid = $1 AND expire > $2`,
		sid, s.now().UTC()).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var p Payload
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &p, nil
}

func (s *SQLStore) Delete(ctx context.Context, sid string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM login_sessions WHERE sid = $1`, sid); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DestroyAllForUser deletes with a JSON predicate on the embedded user id
func (s *SQLStore) DestroyAllForUser(ctx context.Context, userID string) (int, error) {
	query := `DELETE FROM login_sessions WHERE ` + s.dialect.JSONField("sess", "userId") + ` = $1`
	res, err := s.db.ExecContext(ctx, query, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to destroy user sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}

// Sweep removes expired sessions
func (s *SQLStore) Sweep(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM login_sessions WHERE expire <= $1`, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to sweep sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}
