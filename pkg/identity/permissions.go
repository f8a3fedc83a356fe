package identity

// Entitlements checked by the authorization policy table
const (
	PermChatflowsView   = "chatflows:view"
	PermChatflowsCreate = "chatflows:create"
	PermChatflowsUpdate = "chatflows:update"
	PermChatflowsDelete = "chatflows:delete"

	PermCredentialsView   = "credentials:view"
	PermCredentialsCreate = "credentials:create"
	PermCredentialsDelete = "credentials:delete"

	PermAPIKeysView   = "apikeys:view"
	PermAPIKeysCreate = "apikeys:create"
	PermAPIKeysDelete = "apikeys:delete"

	PermWorkspaceView       = "workspace:view"
	PermWorkspaceCreate     = "workspace:create"
	PermWorkspaceUpdate     = "workspace:update"
	PermWorkspaceAddUser    = "workspace:add-user"
	PermWorkspaceUnlinkUser = "workspace:unlink-user"
	PermWorkspaceDelete     = "workspace:delete"

	PermUsersManage         = "users:manage"
	PermRolesManage         = "roles:manage"
	PermSSOManage           = "sso:manage"
	PermLogsView            = "logs:view"
	PermLoginActivityView   = "loginActivity:view"
	PermLoginActivityDelete = "loginActivity:delete"
)

// WorkspacePermissions are grantable inside a workspace
var WorkspacePermissions = []string{
	PermChatflowsView, PermChatflowsCreate, PermChatflowsUpdate, PermChatflowsDelete,
	PermCredentialsView, PermCredentialsCreate, PermCredentialsDelete,
	PermAPIKeysView, PermAPIKeysCreate, PermAPIKeysDelete,
}

// OrganizationPermissions are only meaningful at organization scope
var OrganizationPermissions = []string{
	PermWorkspaceView, PermWorkspaceCreate, PermWorkspaceUpdate,
	PermWorkspaceAddUser, PermWorkspaceUnlinkUser, PermWorkspaceDelete,
	PermUsersManage, PermRolesManage, PermSSOManage,
	PermLogsView, PermLoginActivityView, PermLoginActivityDelete,
}

// AllPermissions is every known entitlement
func AllPermissions() []string {
	all := make([]string, 0, len(WorkspacePermissions)+len(OrganizationPermissions))
	all = append(all, WorkspacePermissions...)
	all = append(all, OrganizationPermissions...)
	return all
}

// IsKnownPermission reports whether p is in the catalogue
func IsKnownPermission(p string) bool {
	for _, known := range AllPermissions() {
		if known == p {
			return true
		}
	}
	return false
}

// GeneralRoles returns the roles that must exist in every deployment.
// The personal workspace role holds every workspace permission but no
// organization permission, so it can never administer shared resources.
func GeneralRoles() []Role {
	return []Role{
		{
			Name:        RoleOwner,
			Description: "Full control over the organization",
			Permissions: AllPermissions(),
		},
		{
			Name:        RoleMember,
			Description: "Baseline access",
			Permissions: []string{PermChatflowsView, PermCredentialsView, PermAPIKeysView},
		},
		{
			Name:        RolePersonalWorkspace,
			Description: "Full control over a single personal workspace",
			Permissions: append([]string(nil), WorkspacePermissions...),
		},
	}
}
