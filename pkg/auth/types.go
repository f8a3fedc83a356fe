package auth

import (
	"time"

	"github.com/platinummonkey/keystone/pkg/identity"
)

// APIKey is a workspace-scoped machine credential
type APIKey struct {
	ID          string     `json:"id"`
	WorkspaceID string     `json:"workspaceId"`
	Name        string     `json:"keyName"`
	KeyHash     string     `json:"-"`
	Prefix      string     `json:"prefix,omitempty"`
	Permissions []string   `json:"permissions"`
	CreatedAt   time.Time  `json:"createdAt"`
	LastUsedAt  *time.Time `json:"lastUsedAt,omitempty"`
}

// HasPermission checks if the key grants perm
func (k *APIKey) HasPermission(perm string) bool {
	for _, p := range k.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

// ValidatePermissions rejects anything outside the workspace entitlements.
// Organization administration is never delegated to a key.
func ValidatePermissions(perms []string) error {
	allowed := make(map[string]bool, len(identity.WorkspacePermissions))
	for _, p := range identity.WorkspacePermissions {
		allowed[p] = true
	}
	for _, p := range perms {
		if !allowed[p] {
			return identity.Invalid(identity.CodeInvalidInput, &permissionError{perm: p})
		}
	}
	return nil
}

type permissionError struct{ perm string }

func (e *permissionError) Error() string {
	return "permission " + e.perm + " cannot be granted to an API key"
}
