package identity

import "time"

// AuthMethod is how a principal was authenticated for the current request
type AuthMethod string

const (
	AuthMethodJWT    AuthMethod = "jwt"
	AuthMethodAPIKey AuthMethod = "apiKey"
)

// FederatedTokens are the upstream provider tokens of an SSO login
type FederatedTokens struct {
	Provider     string `json:"provider"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

// AssignedWorkspace is a workspace the principal may switch to
type AssignedWorkspace struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	RoleName string `json:"role"`
}

// Principal is the normalized identity attached to a session or request
type Principal struct {
	ID                   string              `json:"id"`
	Email                string              `json:"email"`
	Name                 string              `json:"name"`
	RoleID               string              `json:"roleId"`
	RoleName             string              `json:"role"`
	ActiveOrganizationID string              `json:"activeOrganizationId"`
	OrganizationStatus   OrganizationStatus  `json:"organizationStatus,omitempty"`
	CustomerID           string              `json:"activeOrganizationCustomerId,omitempty"`
	SubscriptionID       string              `json:"activeOrganizationSubscriptionId,omitempty"`
	IsOrganizationAdmin  bool                `json:"isOrganizationAdmin"`
	ActiveWorkspaceID    string              `json:"activeWorkspaceId"`
	ActiveWorkspace      string              `json:"activeWorkspace"`
	AssignedWorkspaces   []AssignedWorkspace `json:"assignedWorkspaces"`
	Permissions          []string            `json:"permissions"`
	Features             map[string]string   `json:"features,omitempty"`
	AuthMethod           AuthMethod          `json:"authMethod,omitempty"`
	SSO                  *FederatedTokens    `json:"sso,omitempty"`
	ResolvedAt           time.Time           `json:"resolvedAt"`
}

// HasPermission reports whether the principal holds p
func (p *Principal) HasPermission(perm string) bool {
	for _, have := range p.Permissions {
		if have == perm {
			return true
		}
	}
	return false
}

// HasAnyPermission reports whether the principal holds at least one of perms
func (p *Principal) HasAnyPermission(perms []string) bool {
	for _, perm := range perms {
		if p.HasPermission(perm) {
			return true
		}
	}
	return false
}

// IsFederated reports whether the principal came from an SSO provider
func (p *Principal) IsFederated() bool {
	return p.SSO != nil && p.SSO.Provider != ""
}

// Clone returns a deep copy of p
func (p *Principal) Clone() *Principal {
	if p == nil {
		return nil
	}
	cp := *p
	if p.AssignedWorkspaces != nil {
		cp.AssignedWorkspaces = append([]AssignedWorkspace(nil), p.AssignedWorkspaces...)
	}
	if p.Permissions != nil {
		cp.Permissions = append([]string(nil), p.Permissions...)
	}
	if p.Features != nil {
		cp.Features = make(map[string]string, len(p.Features))
		for k, v := range p.Features {
			cp.Features[k] = v
		}
	}
	if p.SSO != nil {
		sso := *p.SSO
		cp.SSO = &sso
	}
	return &cp
}
