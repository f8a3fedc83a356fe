package identity

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// schemaStatements is the table layout shared by postgres and sqlite.
// Ids are UUID text, timestamps are written in UTC by the application.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL,
		credential TEXT,
		temp_token TEXT,
		temp_token_expiry TIMESTAMP,
		status TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email ON users (LOWER(email))`,
	`CREATE INDEX IF NOT EXISTS idx_users_temp_token ON users (temp_token)`,
	`CREATE TABLE IF NOT EXISTS organizations (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		customer_id TEXT,
		subscription_id TEXT,
		status TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS roles (
		id TEXT PRIMARY KEY,
		organization_id TEXT REFERENCES organizations (id),
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		permissions TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_roles_general_name ON roles (name) WHERE organization_id IS NULL`,
	`CREATE TABLE IF NOT EXISTS workspaces (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		organization_id TEXT NOT NULL REFERENCES organizations (id),
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS organization_users (
		organization_id TEXT NOT NULL REFERENCES organizations (id),
		user_id TEXT NOT NULL REFERENCES users (id),
		role_id TEXT NOT NULL REFERENCES roles (id),
		status TEXT NOT NULL,
		suspended BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		PRIMARY KEY (organization_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS workspace_users (
		workspace_id TEXT NOT NULL REFERENCES workspaces (id),
		user_id TEXT NOT NULL REFERENCES users (id),
		role_id TEXT NOT NULL REFERENCES roles (id),
		status TEXT NOT NULL,
		last_login TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		PRIMARY KEY (workspace_id, user_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_workspace_users_user ON workspace_users (user_id)`,
	`CREATE TABLE IF NOT EXISTS login_methods (
		id TEXT PRIMARY KEY,
		organization_id TEXT REFERENCES organizations (id),
		name TEXT NOT NULL,
		config TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS login_sessions (
		sid TEXT PRIMARY KEY,
		sess TEXT NOT NULL,
		expire TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_login_sessions_expire ON login_sessions (expire)`,
	`CREATE TABLE IF NOT EXISTS login_activity (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		activity_code TEXT NOT NULL,
		message TEXT NOT NULL DEFAULT '',
		login_mode TEXT NOT NULL,
		ip_address TEXT NOT NULL DEFAULT '',
		attempted_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS api_keys (
		id TEXT PRIMARY KEY,
		workspace_id TEXT NOT NULL REFERENCES workspaces (id),
		name TEXT NOT NULL,
		key_hash TEXT NOT NULL UNIQUE,
		permissions TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		last_used_at TIMESTAMP
	)`,
}

// EnsureSchema creates any missing tables. It is meant for embedded
// deployments and tests; managed databases are migrated out of band.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			first := strings.SplitN(strings.TrimSpace(stmt), "\n", 2)[0]
			return fmt.Errorf("failed to apply schema statement %q: %w", first, err)
		}
	}
	return nil
}
