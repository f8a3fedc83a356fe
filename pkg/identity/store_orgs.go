package identity

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// CreateOrganization inserts an organization
func (s *SQLStore) CreateOrganization(ctx context.Context, o *Organization) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.Status == "" {
		o.Status = OrganizationStatusActive
	}
	now := s.now()
	o.CreatedAt, o.UpdatedAt = now, now

	query := `
		INSERT INTO organizations (id, name, customer_id, subscription_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.q.ExecContext(ctx, query, o.ID, o.Name, nullString(o.CustomerID),
		nullString(o.SubscriptionID), o.Status, o.CreatedAt, o.UpdatedAt)
	return s.dialect.mapWriteError(err, CodeOrganizationExists, "create organization")
}

// GetOrganization retrieves an organization by id
func (s *SQLStore) GetOrganization(ctx context.Context, id string) (*Organization, error) {
	query := `
		SELECT id, name, customer_id, subscription_id, status, created_at, updated_at
		FROM organizations
		WHERE id = $1
	`
	o := &Organization{}
	var customerID, subscriptionID sql.NullString
	err := s.q.QueryRowContext(ctx, query, id).Scan(&o.ID, &o.Name, &customerID,
		&subscriptionID, &o.Status, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFound(CodeOrganizationNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	o.CustomerID = customerID.String
	o.SubscriptionID = subscriptionID.String
	return o, nil
}

// CountOrganizations returns the number of organizations in the deployment
func (s *SQLStore) CountOrganizations(ctx context.Context) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM organizations`)
}

// UpdateOrganization writes name, billing linkage and status
func (s *SQLStore) UpdateOrganization(ctx context.Context, o *Organization) error {
	o.UpdatedAt = s.now()
	query := `
		UPDATE organizations
		SET name = $1, customer_id = $2, subscription_id = $3, status = $4, updated_at = $5
		WHERE id = $6
	`
	res, err := s.q.ExecContext(ctx, query, o.Name, nullString(o.CustomerID),
		nullString(o.SubscriptionID), o.Status, o.UpdatedAt, o.ID)
	if err != nil {
		return fmt.Errorf("failed to update organization: %w", err)
	}
	return expectOneRow(res, CodeOrganizationNotFound)
}

// SeedGeneralRoles creates any general role that does not exist yet
func (s *SQLStore) SeedGeneralRoles(ctx context.Context) error {
	return s.WithTx(ctx, func(tx Store) error {
		for _, role := range GeneralRoles() {
			if _, err := tx.GetGeneralRole(ctx, role.Name); err == nil {
				continue
			} else if !IsNotFound(err) {
				return err
			}
			r := role
			if err := tx.CreateRole(ctx, &r); err != nil {
				return fmt.Errorf("failed to seed role %q: %w", role.Name, err)
			}
		}
		return nil
	})
}

// CreateRole inserts a role
func (s *SQLStore) CreateRole(ctx context.Context, r *Role) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	now := s.now()
	r.CreatedAt, r.UpdatedAt = now, now
	if r.Permissions == nil {
		r.Permissions = []string{}
	}
	perms, err := json.Marshal(r.Permissions)
	if err != nil {
		return fmt.Errorf("failed to marshal permissions: %w", err)
	}

	var orgID sql.NullString
	if r.OrganizationID != nil {
		orgID = sql.NullString{String: *r.OrganizationID, Valid: true}
	}

	query := `
		INSERT INTO roles (id, organization_id, name, description, permissions, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = s.q.ExecContext(ctx, query, r.ID, orgID, r.Name, r.Description, string(perms),
		r.CreatedAt, r.UpdatedAt)
	return s.dialect.mapWriteError(err, CodeDuplicate, "create role")
}

func (s *SQLStore) getRole(ctx context.Context, where string, arg any) (*Role, error) {
	query := `
		SELECT id, organization_id, name, description, permissions, created_at, updated_at
		FROM roles
		WHERE ` + where
	r := &Role{}
	var orgID sql.NullString
	var perms string
	err := s.q.QueryRowContext(ctx, query, arg).Scan(&r.ID, &orgID, &r.Name, &r.Description,
		&perms, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFound(CodeRoleNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	if orgID.Valid {
		r.OrganizationID = &orgID.String
	}
	if err := json.Unmarshal([]byte(perms), &r.Permissions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal permissions: %w", err)
	}
	return r, nil
}

// GetRole retrieves a role by id
func (s *SQLStore) GetRole(ctx context.Context, id string) (*Role, error) {
	return s.getRole(ctx, `id = $1`, id)
}

// GetGeneralRole retrieves a general role by name
func (s *SQLStore) GetGeneralRole(ctx context.Context, name string) (*Role, error) {
	return s.getRole(ctx, `name = $1 AND organization_id IS NULL`, name)
}
