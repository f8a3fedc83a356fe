package identity

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Store persists the identity data model. Every method runs in the
// transaction scope of the Store it is called on; WithTx hands out a
// Store bound to a fresh transaction.
type Store interface {
	// WithTx runs fn in a transaction. The transaction commits when fn
	// returns nil and rolls back otherwise. Nested calls join the outer
	// transaction.
	WithTx(ctx context.Context, fn func(tx Store) error) error

	CreateUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUserByTempToken(ctx context.Context, token string) (*User, error)
	UpdateUser(ctx context.Context, u *User) error

	CreateOrganization(ctx context.Context, o *Organization) error
	GetOrganization(ctx context.Context, id string) (*Organization, error)
	CountOrganizations(ctx context.Context) (int, error)
	UpdateOrganization(ctx context.Context, o *Organization) error

	SeedGeneralRoles(ctx context.Context) error
	CreateRole(ctx context.Context, r *Role) error
	GetRole(ctx context.Context, id string) (*Role, error)
	GetGeneralRole(ctx context.Context, name string) (*Role, error)

	CreateWorkspace(ctx context.Context, w *Workspace) error
	GetWorkspace(ctx context.Context, id string) (*Workspace, error)
	ListWorkspaces(ctx context.Context, orgID string) ([]*Workspace, error)
	WorkspaceNameExists(ctx context.Context, orgID, name string) (bool, error)
	DeleteWorkspace(ctx context.Context, id string) error

	CreateOrganizationUser(ctx context.Context, ou *OrganizationUser) error
	GetOrganizationUser(ctx context.Context, orgID, userID string) (*OrganizationUser, error)
	UpdateOrganizationUser(ctx context.Context, ou *OrganizationUser) error
	DeleteOrganizationUser(ctx context.Context, orgID, userID string) error
	CountOrganizationUsers(ctx context.Context, orgID string) (int, error)
	CountOrganizationUsersByRole(ctx context.Context, orgID, roleID string) (int, error)
	ListOrganizationUsersByUser(ctx context.Context, userID string) ([]*OrganizationUser, error)
	ListOrganizationUsers(ctx context.Context, orgID string) ([]*OrganizationUser, error)

	CreateWorkspaceUser(ctx context.Context, wu *WorkspaceUser) error
	GetWorkspaceUser(ctx context.Context, workspaceID, userID string) (*WorkspaceUser, error)
	UpdateWorkspaceUser(ctx context.Context, wu *WorkspaceUser) error
	DeleteWorkspaceUser(ctx context.Context, workspaceID, userID string) error
	CountWorkspaceUsers(ctx context.Context, workspaceID string) (int, error)
	ListWorkspaceMemberships(ctx context.Context, userID string) ([]*WorkspaceMembership, error)
	MostRecentWorkspaceUser(ctx context.Context, userID string) (*WorkspaceUser, error)
}

// querier is satisfied by both *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLStore implements Store using database/sql
type SQLStore struct {
	db      *sql.DB
	q       querier
	dialect Dialect
	inTx    bool
	now     func() time.Time
}

// NewSQLStore creates a new SQLStore
func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{
		db:      db,
		q:       db,
		dialect: dialect,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// DB returns the underlying connection pool
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// Dialect returns the SQL dialect of the store
func (s *SQLStore) Dialect() Dialect {
	return s.dialect
}

// WithTx runs fn inside a transaction
func (s *SQLStore) WithTx(ctx context.Context, fn func(tx Store) error) (err error) {
	if s.inTx {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	txStore := &SQLStore{db: s.db, q: tx, dialect: s.dialect, inTx: true, now: s.now}
	if err := fn(txStore); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *SQLStore) count(ctx context.Context, query string, args ...any) (int, error) {
	var n int
	if err := s.q.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count: %w", err)
	}
	return n, nil
}

func expectOneRow(res sql.Result, notFoundCode string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return NotFound(notFoundCode)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
