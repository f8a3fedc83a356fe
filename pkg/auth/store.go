package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/keystone/pkg/identity"
)

// CodeAPIKeyNotFound is returned for unknown or revoked keys
const CodeAPIKeyNotFound = "API_KEY_NOT_FOUND"

// KeyManager manages the API key lifecycle in the api_keys table
type KeyManager struct {
	db        *sql.DB
	workspace identity.Store
	generator *KeyGenerator
	now       func() time.Time
}

// NewKeyManager creates a new key manager. The identity store resolves the
// organization of a key's workspace.
func NewKeyManager(db *sql.DB, store identity.Store) *KeyManager {
	return &KeyManager{
		db:        db,
		workspace: store,
		generator: NewKeyGenerator(),
		now:       time.Now,
	}
}

// Create issues a new key for a workspace. The plaintext key is returned
// once and never stored.
func (m *KeyManager) Create(ctx context.Context, workspaceID, name string, perms []string) (*APIKey, string, error) {
	if err := identity.ValidateName("keyName", name); err != nil {
		return nil, "", err
	}
	if err := ValidatePermissions(perms); err != nil {
		return nil, "", err
	}
	if _, err := m.workspace.GetWorkspace(ctx, workspaceID); err != nil {
		return nil, "", err
	}

	key, hash, prefix, err := m.generator.Generate()
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate key: %w", err)
	}
	if perms == nil {
		perms = []string{}
	}
	encoded, err := json.Marshal(perms)
	if err != nil {
		return nil, "", fmt.Errorf("failed to encode permissions: %w", err)
	}

	k := &APIKey{
		ID:          uuid.NewString(),
		WorkspaceID: workspaceID,
		Name:        name,
		KeyHash:     hash,
		Prefix:      prefix,
		Permissions: perms,
		CreatedAt:   m.now().UTC(),
	}
	_, err = m.db.ExecContext(ctx, `
		INSERT INTO api_keys (id, workspace_id, name, key_hash, permissions, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		k.ID, k.WorkspaceID, k.Name, k.KeyHash, string(encoded), k.CreatedAt)
	if err != nil {
		return nil, "", fmt.Errorf("failed to store api key: %w", err)
	}
	return k, key, nil
}

// Validate looks a presented key up by hash and marks it used
func (m *KeyManager) Validate(ctx context.Context, key string) (*APIKey, error) {
	if err := m.generator.ValidateFormat(key); err != nil {
		return nil, identity.ErrInvalidToken
	}

	k, err := m.scanOne(ctx, `
		SELECT id, workspace_id, name, key_hash, permissions, created_at, last_used_at
		FROM api_keys WHERE key_hash = $1`, m.generator.Hash(key))
	if err != nil {
		if identity.IsNotFound(err) {
			return nil, identity.ErrInvalidToken
		}
		return nil, err
	}

	now := m.now().UTC()
	if _, err := m.db.ExecContext(ctx, `UPDATE api_keys SET last_used_at = $1 WHERE id = $2`, now, k.ID); err != nil {
		return nil, fmt.Errorf("failed to touch api key: %w", err)
	}
	k.LastUsedAt = &now
	return k, nil
}

// Principal projects a validated key into the identity used by authorization
func (m *KeyManager) Principal(ctx context.Context, k *APIKey) (*identity.Principal, error) {
	ws, err := m.workspace.GetWorkspace(ctx, k.WorkspaceID)
	if err != nil {
		return nil, err
	}
	return &identity.Principal{
		ID:                   "apikey:" + k.ID,
		Name:                 k.Name,
		ActiveOrganizationID: ws.OrganizationID,
		ActiveWorkspaceID:    ws.ID,
		ActiveWorkspace:      ws.Name,
		Permissions:          append([]string(nil), k.Permissions...),
		AuthMethod:           identity.AuthMethodAPIKey,
		ResolvedAt:           m.now().UTC(),
	}, nil
}

// List returns the keys of a workspace, newest first
func (m *KeyManager) List(ctx context.Context, workspaceID string) ([]*APIKey, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, workspace_id, name, key_hash, permissions, created_at, last_used_at
		FROM api_keys WHERE workspace_id = $1 ORDER BY created_at DESC`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}
	defer rows.Close()

	keys := []*APIKey{}
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Revoke deletes a key of a workspace
func (m *KeyManager) Revoke(ctx context.Context, workspaceID, id string) error {
	res, err := m.db.ExecContext(ctx, `DELETE FROM api_keys WHERE id = $1 AND workspace_id = $2`, id, workspaceID)
	if err != nil {
		return fmt.Errorf("failed to revoke api key: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return identity.NotFound(CodeAPIKeyNotFound)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func (m *KeyManager) scanOne(ctx context.Context, query string, args ...any) (*APIKey, error) {
	k, err := scanKey(m.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, identity.NotFound(CodeAPIKeyNotFound)
	}
	return k, err
}

func scanKey(row scanner) (*APIKey, error) {
	k := &APIKey{}
	var perms string
	var lastUsed sql.NullTime
	if err := row.Scan(&k.ID, &k.WorkspaceID, &k.Name, &k.KeyHash, &perms, &k.CreatedAt, &lastUsed); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan api key: %w", err)
	}
	if err := json.Unmarshal([]byte(perms), &k.Permissions); err != nil {
		return nil, fmt.Errorf("failed to decode api key permissions: %w", err)
	}
	if lastUsed.Valid {
		t := lastUsed.Time
		k.LastUsedAt = &t
	}
	return k, nil
}
