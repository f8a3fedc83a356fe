package identity

import (
	"context"
	"fmt"
	"time"
)

// FeatureSource supplies the plan features of an organization
type FeatureSource interface {
	Features(ctx context.Context, org *Organization) (map[string]string, error)
}

// Resolver builds a Principal from the data model. It is the single
// authoritative lookup used by login, federation, refresh without a session
// store, and WebSocket admission.
type Resolver struct {
	store    Store
	features FeatureSource
	now      func() time.Time
}

// NewResolver creates a new Resolver; features may be nil
func NewResolver(store Store, features FeatureSource) *Resolver {
	return &Resolver{
		store:    store,
		features: features,
		now:      time.Now,
	}
}

// Resolve loads the principal of userID acting in workspaceID. An empty
// workspaceID selects the user's most recently used workspace.
func (r *Resolver) Resolve(ctx context.Context, userID, workspaceID string) (*Principal, error) {
	return r.resolve(ctx, r.store, userID, workspaceID)
}

// ResolveTx is Resolve within an existing transaction scope
func (r *Resolver) ResolveTx(ctx context.Context, tx Store, userID, workspaceID string) (*Principal, error) {
	return r.resolve(ctx, tx, userID, workspaceID)
}

func (r *Resolver) resolve(ctx context.Context, store Store, userID, workspaceID string) (*Principal, error) {
	user, err := store.GetUser(ctx, userID)
	if err != nil {
		if IsNotFound(err) {
			return nil, NewError(KindUnauthenticated, CodeUserNotFound, err)
		}
		return nil, err
	}
	if user.Status != UserStatusActive {
		return nil, Unauthenticated(CodeUserNotActive)
	}

	var wu *WorkspaceUser
	if workspaceID == "" {
		wu, err = store.MostRecentWorkspaceUser(ctx, userID)
	} else {
		wu, err = store.GetWorkspaceUser(ctx, workspaceID, userID)
	}
	if err != nil {
		if IsNotFound(err) {
			return nil, NewError(KindUnauthenticated, CodeNoAssignedWorkspace, err)
		}
		return nil, err
	}
	if wu.Status == MembershipStatusDisabled {
		return nil, Unauthenticated(CodeUserNotActive)
	}

	workspace, err := store.GetWorkspace(ctx, wu.WorkspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load workspace: %w", err)
	}
	org, err := store.GetOrganization(ctx, workspace.OrganizationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load organization: %w", err)
	}

	ou, err := store.GetOrganizationUser(ctx, org.ID, userID)
	if err != nil {
		if IsNotFound(err) {
			return nil, NewError(KindUnauthenticated, CodeMembershipNotFound, err)
		}
		return nil, err
	}
	if ou.Suspended || ou.Status == MembershipStatusDisabled {
		return nil, Unauthenticated(CodeUserNotActive)
	}

	orgRole, err := store.GetRole(ctx, ou.RoleID)
	if err != nil {
		return nil, fmt.Errorf("failed to load organization role: %w", err)
	}
	workspaceRole, err := store.GetRole(ctx, wu.RoleID)
	if err != nil {
		return nil, fmt.Errorf("failed to load workspace role: %w", err)
	}

	p := &Principal{
		ID:                   user.ID,
		Email:                user.Email,
		Name:                 user.Name,
		RoleID:               workspaceRole.ID,
		RoleName:             workspaceRole.Name,
		ActiveOrganizationID: org.ID,
		OrganizationStatus:   org.Status,
		CustomerID:           org.CustomerID,
		SubscriptionID:       org.SubscriptionID,
		IsOrganizationAdmin:  orgRole.IsGeneral() && orgRole.Name == RoleOwner,
		ActiveWorkspaceID:    workspace.ID,
		ActiveWorkspace:      workspace.Name,
		Permissions:          append([]string(nil), workspaceRole.Permissions...),
		AuthMethod:           AuthMethodJWT,
		ResolvedAt:           r.now().UTC(),
	}
	if p.IsOrganizationAdmin {
		p.Permissions = AllPermissions()
	}

	memberships, err := store.ListWorkspaceMemberships(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, m := range memberships {
		if m.Workspace.OrganizationID != org.ID || m.Status == MembershipStatusDisabled {
			continue
		}
		p.AssignedWorkspaces = append(p.AssignedWorkspaces, AssignedWorkspace{
			ID:       m.Workspace.ID,
			Name:     m.Workspace.Name,
			RoleName: m.Role.Name,
		})
	}

	if r.features != nil {
		features, err := r.features.Features(ctx, org)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve features: %w", err)
		}
		p.Features = features
	}

	return p, nil
}
