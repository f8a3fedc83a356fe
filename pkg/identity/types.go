package identity

import (
	"strings"
	"time"
)

// UserStatus is the lifecycle state of a user account
type UserStatus string

const (
	UserStatusUnverified UserStatus = "unverified"
	UserStatusInvited    UserStatus = "invited"
	UserStatusActive     UserStatus = "active"
	UserStatusDeleted    UserStatus = "deleted"
)

// OrganizationStatus is the billing standing of an organization
type OrganizationStatus string

const (
	OrganizationStatusActive      OrganizationStatus = "active"
	OrganizationStatusUnderReview OrganizationStatus = "under_review"
	OrganizationStatusPastDue     OrganizationStatus = "past_due"
)

// MembershipStatus is the lifecycle state of an organization or workspace membership
type MembershipStatus string

const (
	MembershipStatusActive   MembershipStatus = "active"
	MembershipStatusDisabled MembershipStatus = "disabled"
	MembershipStatusInvited  MembershipStatus = "invited"
)

// LoginMethodStatus toggles a configured SSO provider
type LoginMethodStatus string

const (
	LoginMethodEnabled  LoginMethodStatus = "enable"
	LoginMethodDisabled LoginMethodStatus = "disable"
)

// Platform selects the provisioning rules of a deployment
type Platform string

const (
	PlatformSelfHosted Platform = "self-hosted"
	PlatformHosted     Platform = "hosted-multi-tenant"
	PlatformEnterprise Platform = "enterprise-multi-org"
)

// Valid reports whether p is one of the known platforms
func (p Platform) Valid() bool {
	switch p {
	case PlatformSelfHosted, PlatformHosted, PlatformEnterprise:
		return true
	}
	return false
}

// Names of the general roles seeded for every deployment
const (
	RoleOwner             = "owner"
	RoleMember            = "member"
	RolePersonalWorkspace = "personal workspace"
)

// Reserved names
const (
	DefaultOrganizationName = "Default Organization"
	DefaultWorkspaceName    = "Default Workspace"
	PersonalWorkspaceName   = "Personal Workspace"
)

// User is a person who can sign in
type User struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Email           string     `json:"email"`
	Credential      string     `json:"-"`
	TempToken       string     `json:"-"`
	TempTokenExpiry *time.Time `json:"-"`
	Status          UserStatus `json:"status"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// HasCredential reports whether a password hash is set
func (u *User) HasCredential() bool {
	return u.Credential != ""
}

// Organization is a tenant
type Organization struct {
	ID             string             `json:"id"`
	Name           string             `json:"name"`
	CustomerID     string             `json:"customerId,omitempty"`
	SubscriptionID string             `json:"subscriptionId,omitempty"`
	Status         OrganizationStatus `json:"status"`
	CreatedAt      time.Time          `json:"createdAt"`
	UpdatedAt      time.Time          `json:"updatedAt"`
}

// Role is a named permission set. A nil OrganizationID marks a general role.
type Role struct {
	ID             string    `json:"id"`
	OrganizationID *string   `json:"organizationId,omitempty"`
	Name           string    `json:"name"`
	Description    string    `json:"description,omitempty"`
	Permissions    []string  `json:"permissions"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// IsGeneral reports whether the role is shared across all tenants
func (r *Role) IsGeneral() bool {
	return r.OrganizationID == nil
}

// Workspace belongs to exactly one organization
type Workspace struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Description    string    `json:"description,omitempty"`
	OrganizationID string    `json:"organizationId"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// IsPersonal reports whether the workspace is a single-member personal workspace
func (w *Workspace) IsPersonal() bool {
	return w.Name == PersonalWorkspaceName
}

// OrganizationUser links a user to an organization.
// Status tracks the membership lifecycle; Suspended is an independent
// administrative hold that login never rewrites.
type OrganizationUser struct {
	OrganizationID string           `json:"organizationId"`
	UserID         string           `json:"userId"`
	RoleID         string           `json:"roleId"`
	Status         MembershipStatus `json:"status"`
	Suspended      bool             `json:"suspended"`
	CreatedAt      time.Time        `json:"createdAt"`
	UpdatedAt      time.Time        `json:"updatedAt"`
}

// WorkspaceUser links a user to a workspace
type WorkspaceUser struct {
	WorkspaceID string           `json:"workspaceId"`
	UserID      string           `json:"userId"`
	RoleID      string           `json:"roleId"`
	Status      MembershipStatus `json:"status"`
	LastLogin   *time.Time       `json:"lastLogin,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
	UpdatedAt   time.Time        `json:"updatedAt"`
}

// WorkspaceMembership is a WorkspaceUser joined with its workspace and role
type WorkspaceMembership struct {
	WorkspaceUser
	Workspace Workspace `json:"workspace"`
	Role      Role      `json:"role"`
}

// LoginMethod is an SSO provider configuration. Config holds the sealed
// provider settings as stored; callers decrypt through the sso package.
type LoginMethod struct {
	ID             string            `json:"id"`
	OrganizationID *string           `json:"organizationId,omitempty"`
	Name           string            `json:"name"`
	Config         string            `json:"-"`
	Status         LoginMethodStatus `json:"status"`
	CreatedAt      time.Time         `json:"createdAt"`
	UpdatedAt      time.Time         `json:"updatedAt"`
}

// LoginSession is the durable form of an authenticated session
type LoginSession struct {
	SID    string    `json:"sid"`
	Sess   string    `json:"sess"`
	Expire time.Time `json:"expire"`
}

// NormalizeEmail lowercases and trims an email address for comparison
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// TombstoneEmail is the rewritten address of a soft-deleted user
func TombstoneEmail(userID string) string {
	return "deleted+" + userID + "@deleted.invalid"
}
