package sso

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/keystone/pkg/identity"
	"github.com/platinummonkey/keystone/pkg/sealed"
)

// sealContext binds sealed login method configs to their column
const sealContext = "login-method"

// Storage persists login methods with their configs sealed at rest. A nil
// organization id addresses the global methods of hosted deployments.
type Storage struct {
	db  *sql.DB
	box *sealed.Box
	now func() time.Time
}

// NewStorage creates a new login method storage
func NewStorage(db *sql.DB, box *sealed.Box) *Storage {
	return &Storage{
		db:  db,
		box: box,
		now: func() time.Time { return time.Now().UTC() },
	}
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

const selectMethods = `SELECT id, organization_id, name, config, status, created_at, updated_at FROM login_methods`

func scopeClause(orgID *string) (string, []any) {
	if orgID == nil {
		return ` WHERE organization_id IS NULL`, nil
	}
	return ` WHERE organization_id = $1`, []any{*orgID}
}

func (s *Storage) list(ctx context.Context, q queryer, orgID *string, extra string, extraArgs ...any) ([]*identity.LoginMethod, error) {
	where, args := scopeClause(orgID)
	args = append(args, extraArgs...)
	rows, err := q.QueryContext(ctx, selectMethods+where+extra+` ORDER BY created_at, name`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list login methods: %w", err)
	}
	defer rows.Close()

	var methods []*identity.LoginMethod
	for rows.Next() {
		m := &identity.LoginMethod{}
		var org sql.NullString
		if err := rows.Scan(&m.ID, &org, &m.Name, &m.Config, &m.Status, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan login method: %w", err)
		}
		if org.Valid {
			m.OrganizationID = &org.String
		}
		methods = append(methods, m)
	}
	return methods, rows.Err()
}

// List returns every login method of an organization
func (s *Storage) List(ctx context.Context, orgID *string) ([]*identity.LoginMethod, error) {
	return s.list(ctx, s.db, orgID, "")
}

// ListEnabled returns the enabled login methods of an organization
func (s *Storage) ListEnabled(ctx context.Context, orgID *string) ([]*identity.LoginMethod, error) {
	placeholder := "$1"
	if orgID != nil {
		placeholder = "$2"
	}
	return s.list(ctx, s.db, orgID, " AND status = "+placeholder, string(identity.LoginMethodEnabled))
}

// Get returns the login method of an organization for one provider
func (s *Storage) Get(ctx context.Context, orgID *string, name ProviderName) (*identity.LoginMethod, error) {
	return s.get(ctx, s.db, orgID, name)
}

func (s *Storage) get(ctx context.Context, q queryer, orgID *string, name ProviderName) (*identity.LoginMethod, error) {
	placeholder := "$1"
	if orgID != nil {
		placeholder = "$2"
	}
	methods, err := s.list(ctx, q, orgID, " AND name = "+placeholder, string(name))
	if err != nil {
		return nil, err
	}
	if len(methods) == 0 {
		return nil, identity.NotFound(identity.CodeLoginMethodNotFound)
	}
	return methods[0], nil
}

// Decrypt opens the sealed config of a login method
func (s *Storage) Decrypt(m *identity.LoginMethod) (Config, error) {
	var cfg Config
	plaintext, err := s.box.Open(m.Config, sealContext)
	if err != nil {
		return cfg, fmt.Errorf("failed to open %s config: %w", m.Name, err)
	}
	if err := json.Unmarshal(plaintext, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to decode %s config: %w", m.Name, err)
	}
	return cfg, nil
}

func (s *Storage) seal(cfg Config) (string, error) {
	plaintext, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("failed to encode config: %w", err)
	}
	return s.box.Seal(plaintext, sealContext)
}

// MergedConfig returns in with a masked secret replaced by the stored one.
// Admin tooling uses it to probe a config before saving.
func (s *Storage) MergedConfig(ctx context.Context, orgID *string, name ProviderName, in Config) (Config, error) {
	if !isMasked(in.ClientSecret) {
		return in, nil
	}
	m, err := s.Get(ctx, orgID, name)
	if identity.IsNotFound(err) {
		return in, nil
	}
	if err != nil {
		return in, err
	}
	stored, err := s.Decrypt(m)
	if err != nil {
		return in, err
	}
	return in.withStoredSecret(stored), nil
}

func parseStatus(status string) (identity.LoginMethodStatus, error) {
	switch identity.LoginMethodStatus(status) {
	case "", identity.LoginMethodEnabled:
		return identity.LoginMethodEnabled, nil
	case identity.LoginMethodDisabled:
		return identity.LoginMethodDisabled, nil
	default:
		return "", fmt.Errorf("invalid status %q", status)
	}
}

// Save creates or replaces the login methods of an organization in one
// transaction. A masked secret keeps the one already stored.
func (s *Storage) Save(ctx context.Context, orgID *string, inputs []MethodInput) ([]*identity.LoginMethod, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	saved := make([]*identity.LoginMethod, 0, len(inputs))
	for _, in := range inputs {
		m, err := s.save(ctx, tx, orgID, in)
		if err != nil {
			return nil, err
		}
		saved = append(saved, m)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return saved, nil
}

func (s *Storage) save(ctx context.Context, tx *sql.Tx, orgID *string, in MethodInput) (*identity.LoginMethod, error) {
	name, err := ParseProviderName(in.ProviderName)
	if err != nil {
		return nil, identity.Invalid(identity.CodeInvalidInput, err)
	}
	status, err := parseStatus(in.Status)
	if err != nil {
		return nil, identity.Invalid(identity.CodeInvalidInput, err)
	}

	existing, err := s.get(ctx, tx, orgID, name)
	if err != nil && !identity.IsNotFound(err) {
		return nil, err
	}
	cfg := in.Config
	if existing != nil {
		stored, err := s.Decrypt(existing)
		if err != nil {
			return nil, err
		}
		cfg = cfg.withStoredSecret(stored)
	}
	if err := cfg.Validate(name); err != nil {
		return nil, identity.Invalid(identity.CodeInvalidInput, fmt.Errorf("%s: %w", name, err))
	}

	sealedCfg, err := s.seal(cfg)
	if err != nil {
		return nil, err
	}
	now := s.now()

	if existing != nil {
		existing.Config = sealedCfg
		existing.Status = status
		existing.UpdatedAt = now
		_, err := tx.ExecContext(ctx,
			`UPDATE login_methods SET config = $1, status = $2, updated_at = $3 WHERE id = $4`,
			existing.Config, existing.Status, existing.UpdatedAt, existing.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to update login method: %w", err)
		}
		return existing, nil
	}

	m := &identity.LoginMethod{
		ID:             uuid.NewString(),
		OrganizationID: orgID,
		Name:           string(name),
		Config:         sealedCfg,
		Status:         status,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	var org sql.NullString
	if orgID != nil {
		org = sql.NullString{String: *orgID, Valid: true}
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO login_methods (id, organization_id, name, config, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.ID, org, m.Name, m.Config, m.Status, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create login method: %w", err)
	}
	return m, nil
}

// Views decrypts methods for administrators with their secrets masked
func (s *Storage) Views(methods []*identity.LoginMethod) ([]MethodView, error) {
	views := make([]MethodView, 0, len(methods))
	for _, m := range methods {
		cfg, err := s.Decrypt(m)
		if err != nil {
			return nil, err
		}
		views = append(views, MethodView{
			ID:           m.ID,
			ProviderName: m.Name,
			Status:       string(m.Status),
			Config:       cfg.Masked(),
		})
	}
	return views, nil
}
