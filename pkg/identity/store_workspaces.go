package identity

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// CreateWorkspace inserts a workspace
func (s *SQLStore) CreateWorkspace(ctx context.Context, w *Workspace) error {
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	now := s.now()
	w.CreatedAt, w.UpdatedAt = now, now

	query := `
		INSERT INTO workspaces (id, name, description, organization_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.q.ExecContext(ctx, query, w.ID, w.Name, w.Description, w.OrganizationID,
		w.CreatedAt, w.UpdatedAt)
	return s.dialect.mapWriteError(err, CodeDuplicate, "create workspace")
}

// GetWorkspace retrieves a workspace by id
func (s *SQLStore) GetWorkspace(ctx context.Context, id string) (*Workspace, error) {
	query := `
		SELECT id, name, description, organization_id, created_at, updated_at
		FROM workspaces
		WHERE id = $1
	`
	w := &Workspace{}
	err := s.q.QueryRowContext(ctx, query, id).Scan(&w.ID, &w.Name, &w.Description,
		&w.OrganizationID, &w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFound(CodeWorkspaceNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workspace: %w", err)
	}
	return w, nil
}

// ListWorkspaces lists the shared workspaces of an organization; personal
// workspaces are omitted
func (s *SQLStore) ListWorkspaces(ctx context.Context, orgID string) ([]*Workspace, error) {
	query := `
		SELECT id, name, description, organization_id, created_at, updated_at
		FROM workspaces
		WHERE organization_id = $1 AND name <> $2
		ORDER BY created_at ASC
	`
	rows, err := s.q.QueryContext(ctx, query, orgID, PersonalWorkspaceName)
	if err != nil {
		return nil, fmt.Errorf("failed to list workspaces: %w", err)
	}
	defer rows.Close()

	var workspaces []*Workspace
	for rows.Next() {
		w := &Workspace{}
		if err := rows.Scan(&w.ID, &w.Name, &w.Description, &w.OrganizationID,
			&w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan workspace: %w", err)
		}
		workspaces = append(workspaces, w)
	}
	return workspaces, rows.Err()
}

// WorkspaceNameExists reports whether the organization already has a
// workspace with the given name
func (s *SQLStore) WorkspaceNameExists(ctx context.Context, orgID, name string) (bool, error) {
	n, err := s.count(ctx, `SELECT COUNT(*) FROM workspaces WHERE organization_id = $1 AND LOWER(name) = LOWER($2)`, orgID, name)
	return n > 0, err
}

// DeleteWorkspace removes a workspace, its memberships and its API keys
func (s *SQLStore) DeleteWorkspace(ctx context.Context, id string) error {
	for _, table := range []string{"workspace_users", "api_keys"} {
		if _, err := s.q.ExecContext(ctx, `DELETE FROM `+table+` WHERE workspace_id = $1`, id); err != nil {
			return fmt.Errorf("failed to delete %s: %w", table, err)
		}
	}
	res, err := s.q.ExecContext(ctx, `DELETE FROM workspaces WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete workspace: %w", err)
	}
	return expectOneRow(res, CodeWorkspaceNotFound)
}

// CreateOrganizationUser inserts a membership; a second row for the same
// (organization, user) pair is a conflict
func (s *SQLStore) CreateOrganizationUser(ctx context.Context, ou *OrganizationUser) error {
	now := s.now()
	ou.CreatedAt, ou.UpdatedAt = now, now
	query := `
		INSERT INTO organization_users (organization_id, user_id, role_id, status, suspended, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.q.ExecContext(ctx, query, ou.OrganizationID, ou.UserID, ou.RoleID, ou.Status,
		ou.Suspended, ou.CreatedAt, ou.UpdatedAt)
	return s.dialect.mapWriteError(err, CodeMembershipExists, "create organization user")
}

// GetOrganizationUser retrieves a membership
func (s *SQLStore) GetOrganizationUser(ctx context.Context, orgID, userID string) (*OrganizationUser, error) {
	query := `
		SELECT organization_id, user_id, role_id, status, suspended, created_at, updated_at
		FROM organization_users
		WHERE organization_id = $1 AND user_id = $2
	`
	ou := &OrganizationUser{}
	err := s.q.QueryRowContext(ctx, query, orgID, userID).Scan(&ou.OrganizationID, &ou.UserID,
		&ou.RoleID, &ou.Status, &ou.Suspended, &ou.CreatedAt, &ou.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFound(CodeMembershipNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get organization user: %w", err)
	}
	return ou, nil
}

// UpdateOrganizationUser writes role, status and suspension
func (s *SQLStore) UpdateOrganizationUser(ctx context.Context, ou *OrganizationUser) error {
	ou.UpdatedAt = s.now()
	query := `
		UPDATE organization_users
		SET role_id = $1, status = $2, suspended = $3, updated_at = $4
		WHERE organization_id = $5 AND user_id = $6
	`
	res, err := s.q.ExecContext(ctx, query, ou.RoleID, ou.Status, ou.Suspended, ou.UpdatedAt,
		ou.OrganizationID, ou.UserID)
	if err != nil {
		return fmt.Errorf("failed to update organization user: %w", err)
	}
	return expectOneRow(res, CodeMembershipNotFound)
}

// DeleteOrganizationUser removes a membership row
func (s *SQLStore) DeleteOrganizationUser(ctx context.Context, orgID, userID string) error {
	res, err := s.q.ExecContext(ctx,
		`DELETE FROM organization_users WHERE organization_id = $1 AND user_id = $2`, orgID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete organization user: %w", err)
	}
	return expectOneRow(res, CodeMembershipNotFound)
}

// CountOrganizationUsers counts the seats used by an organization
func (s *SQLStore) CountOrganizationUsers(ctx context.Context, orgID string) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM organization_users WHERE organization_id = $1`, orgID)
}

// CountOrganizationUsersByRole counts members holding a role
func (s *SQLStore) CountOrganizationUsersByRole(ctx context.Context, orgID, roleID string) (int, error) {
	return s.count(ctx,
		`SELECT COUNT(*) FROM organization_users WHERE organization_id = $1 AND role_id = $2`, orgID, roleID)
}

// ListOrganizationUsersByUser lists every membership of a user
func (s *SQLStore) ListOrganizationUsersByUser(ctx context.Context, userID string) ([]*OrganizationUser, error) {
	return s.listOrganizationUsers(ctx, `user_id = $1`, userID)
}

// ListOrganizationUsers lists the members of an organization
func (s *SQLStore) ListOrganizationUsers(ctx context.Context, orgID string) ([]*OrganizationUser, error) {
	return s.listOrganizationUsers(ctx, `organization_id = $1`, orgID)
}

func (s *SQLStore) listOrganizationUsers(ctx context.Context, where string, arg string) ([]*OrganizationUser, error) {
	query := `
		SELECT organization_id, user_id, role_id, status, suspended, created_at, updated_at
		FROM organization_users
		WHERE ` + where + `
		ORDER BY created_at ASC
	`
	rows, err := s.q.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to list organization users: %w", err)
	}
	defer rows.Close()

	var out []*OrganizationUser
	for rows.Next() {
		ou := &OrganizationUser{}
		if err := rows.Scan(&ou.OrganizationID, &ou.UserID, &ou.RoleID, &ou.Status,
			&ou.Suspended, &ou.CreatedAt, &ou.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan organization user: %w", err)
		}
		out = append(out, ou)
	}
	return out, rows.Err()
}

// CreateWorkspaceUser inserts a workspace membership
func (s *SQLStore) CreateWorkspaceUser(ctx context.Context, wu *WorkspaceUser) error {
	now := s.now()
	wu.CreatedAt, wu.UpdatedAt = now, now
	query := `
		INSERT INTO workspace_users (workspace_id, user_id, role_id, status, last_login, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.q.ExecContext(ctx, query, wu.WorkspaceID, wu.UserID, wu.RoleID, wu.Status,
		nullTime(wu.LastLogin), wu.CreatedAt, wu.UpdatedAt)
	return s.dialect.mapWriteError(err, CodeDuplicate, "create workspace user")
}

const workspaceUserColumns = `workspace_id, user_id, role_id, status, last_login, created_at, updated_at`

func scanWorkspaceUser(row rowScanner, extra ...any) (*WorkspaceUser, error) {
	wu := &WorkspaceUser{}
	var lastLogin sql.NullTime
	dest := append([]any{&wu.WorkspaceID, &wu.UserID, &wu.RoleID, &wu.Status, &lastLogin,
		&wu.CreatedAt, &wu.UpdatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	wu.LastLogin = timePtr(lastLogin)
	return wu, nil
}

// GetWorkspaceUser retrieves a workspace membership
func (s *SQLStore) GetWorkspaceUser(ctx context.Context, workspaceID, userID string) (*WorkspaceUser, error) {
	query := `SELECT ` + workspaceUserColumns + ` FROM workspace_users WHERE workspace_id = $1 AND user_id = $2`
	wu, err := scanWorkspaceUser(s.q.QueryRowContext(ctx, query, workspaceID, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFound(CodeWorkspaceUserNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workspace user: %w", err)
	}
	return wu, nil
}

// UpdateWorkspaceUser writes role, status and last login
func (s *SQLStore) UpdateWorkspaceUser(ctx context.Context, wu *WorkspaceUser) error {
	wu.UpdatedAt = s.now()
	query := `
		UPDATE workspace_users
		SET role_id = $1, status = $2, last_login = $3, updated_at = $4
		WHERE workspace_id = $5 AND user_id = $6
	`
	res, err := s.q.ExecContext(ctx, query, wu.RoleID, wu.Status, nullTime(wu.LastLogin),
		wu.UpdatedAt, wu.WorkspaceID, wu.UserID)
	if err != nil {
		return fmt.Errorf("failed to update workspace user: %w", err)
	}
	return expectOneRow(res, CodeWorkspaceUserNotFound)
}

// DeleteWorkspaceUser removes a workspace membership
func (s *SQLStore) DeleteWorkspaceUser(ctx context.Context, workspaceID, userID string) error {
	res, err := s.q.ExecContext(ctx,
		`DELETE FROM workspace_users WHERE workspace_id = $1 AND user_id = $2`, workspaceID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete workspace user: %w", err)
	}
	return expectOneRow(res, CodeWorkspaceUserNotFound)
}

// CountWorkspaceUsers counts the members of a workspace
func (s *SQLStore) CountWorkspaceUsers(ctx context.Context, workspaceID string) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM workspace_users WHERE workspace_id = $1`, workspaceID)
}

// ListWorkspaceMemberships lists a user's workspace memberships joined with
// workspace and role
func (s *SQLStore) ListWorkspaceMemberships(ctx context.Context, userID string) ([]*WorkspaceMembership, error) {
	query := `
		SELECT wu.workspace_id, wu.user_id, wu.role_id, wu.status, wu.last_login, wu.created_at, wu.updated_at,
		       w.name, w.description, w.organization_id, w.created_at, w.updated_at,
		       r.organization_id, r.name, r.description, r.permissions, r.created_at, r.updated_at
		FROM workspace_users wu
		JOIN workspaces w ON w.id = wu.workspace_id
		JOIN roles r ON r.id = wu.role_id
		WHERE wu.user_id = $1
		ORDER BY wu.created_at ASC
	`
	rows, err := s.q.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list workspace memberships: %w", err)
	}
	defer rows.Close()

	var out []*WorkspaceMembership
	for rows.Next() {
		m := &WorkspaceMembership{}
		var roleOrg sql.NullString
		var perms string
		wu, err := scanWorkspaceUser(rows,
			&m.Workspace.Name, &m.Workspace.Description, &m.Workspace.OrganizationID,
			&m.Workspace.CreatedAt, &m.Workspace.UpdatedAt,
			&roleOrg, &m.Role.Name, &m.Role.Description, &perms, &m.Role.CreatedAt, &m.Role.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workspace membership: %w", err)
		}
		m.WorkspaceUser = *wu
		m.Workspace.ID = wu.WorkspaceID
		m.Role.ID = wu.RoleID
		if roleOrg.Valid {
			m.Role.OrganizationID = &roleOrg.String
		}
		if err := json.Unmarshal([]byte(perms), &m.Role.Permissions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal permissions: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// MostRecentWorkspaceUser returns the enabled membership with the latest
// non-null last login, falling back to the oldest enabled membership when
// none has logged in
func (s *SQLStore) MostRecentWorkspaceUser(ctx context.Context, userID string) (*WorkspaceUser, error) {
	query := `SELECT ` + workspaceUserColumns + ` FROM workspace_users
		WHERE user_id = $1 AND status <> $2 AND last_login IS NOT NULL
		ORDER BY last_login DESC LIMIT 1`
	wu, err := scanWorkspaceUser(s.q.QueryRowContext(ctx, query, userID, MembershipStatusDisabled))
	if err == nil {
		return wu, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to get recent workspace user: %w", err)
	}

	query = `SELECT ` + workspaceUserColumns + ` FROM workspace_users
		WHERE user_id = $1 AND status <> $2
		ORDER BY created_at ASC LIMIT 1`
	wu, err = scanWorkspaceUser(s.q.QueryRowContext(ctx, query, userID, MembershipStatusDisabled))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFound(CodeWorkspaceUserNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workspace user: %w", err)
	}
	return wu, nil
}
