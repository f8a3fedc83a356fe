package accounts

import (
	"context"
	"errors"
	"strings"

	"github.com/platinummonkey/keystone/pkg/identity"
)

// RemoveMember removes a user from an organization together with their
// workspace memberships there. A personal workspace left without members is
// deleted. The sole owner can never be removed.
func (s *Service) RemoveMember(ctx context.Context, orgID, userID string) error {
	err := s.store.WithTx(ctx, func(tx identity.Store) error {
		return s.removeMember(ctx, tx, orgID, userID)
	})
	if err != nil {
		return err
	}
	s.revokeSessions(ctx, userID)
	return nil
}

func (s *Service) removeMember(ctx context.Context, tx identity.Store, orgID, userID string) error {
	ou, err := tx.GetOrganizationUser(ctx, orgID, userID)
	if err != nil {
		return err
	}
	if err := ownerGuard(ctx, tx, ou); err != nil {
		return err
	}

	memberships, err := tx.ListWorkspaceMemberships(ctx, userID)
	if err != nil {
		return err
	}
	for _, m := range memberships {
		if m.Workspace.OrganizationID != orgID {
			continue
		}
		if err := tx.DeleteWorkspaceUser(ctx, m.WorkspaceID, userID); err != nil {
			return err
		}
		if !m.Workspace.IsPersonal() {
			continue
		}
		left, err := tx.CountWorkspaceUsers(ctx, m.WorkspaceID)
		if err != nil {
			return err
		}
		if left == 0 {
			if err := tx.DeleteWorkspace(ctx, m.WorkspaceID); err != nil {
				return err
			}
		}
	}
	return tx.DeleteOrganizationUser(ctx, orgID, userID)
}

// UpdateMemberRole changes a member's organization role. Demoting the sole
// owner is rejected.
func (s *Service) UpdateMemberRole(ctx context.Context, orgID, userID, roleID string) (*identity.OrganizationUser, error) {
	var ou *identity.OrganizationUser
	err := s.store.WithTx(ctx, func(tx identity.Store) error {
		role, err := s.assignableRole(ctx, tx, roleID, orgID)
		if err != nil {
			return err
		}
		ou, err = tx.GetOrganizationUser(ctx, orgID, userID)
		if err != nil {
			return err
		}
		if ou.RoleID == role.ID {
			return nil
		}
		if err := ownerGuard(ctx, tx, ou); err != nil {
			return err
		}
		ou.RoleID = role.ID
		return tx.UpdateOrganizationUser(ctx, ou)
	})
	if err != nil {
		return nil, err
	}
	s.revokeSessions(ctx, userID)
	return ou, nil
}

// SetSuspended places or lifts an administrative hold on a member. The hold
// is independent of the membership status. The sole owner cannot be
// suspended.
func (s *Service) SetSuspended(ctx context.Context, orgID, userID string, suspended bool) (*identity.OrganizationUser, error) {
	var ou *identity.OrganizationUser
	err := s.store.WithTx(ctx, func(tx identity.Store) error {
		var err error
		ou, err = tx.GetOrganizationUser(ctx, orgID, userID)
		if err != nil {
			return err
		}
		if ou.Suspended == suspended {
			return nil
		}
		if suspended {
			if err := ownerGuard(ctx, tx, ou); err != nil {
				return err
			}
		}
		ou.Suspended = suspended
		return tx.UpdateOrganizationUser(ctx, ou)
	})
	if err != nil {
		return nil, err
	}
	if suspended {
		s.revokeSessions(ctx, userID)
	}
	return ou, nil
}

// DeleteUser soft-deletes an account: every membership is removed, the
// personal data is cleared and the email is rewritten to a tombstone so the
// address can register again. Rows the user owns keep their reference.
func (s *Service) DeleteUser(ctx context.Context, userID string) error {
	err := s.store.WithTx(ctx, func(tx identity.Store) error {
		user, err := tx.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		if user.Status == identity.UserStatusDeleted {
			return nil
		}
		orgUsers, err := tx.ListOrganizationUsersByUser(ctx, userID)
		if err != nil {
			return err
		}
		for _, ou := range orgUsers {
			if err := s.removeMember(ctx, tx, ou.OrganizationID, userID); err != nil {
				return err
			}
		}

		user.Name = ""
		user.Credential = ""
		user.Email = identity.TombstoneEmail(user.ID)
		user.Status = identity.UserStatusDeleted
		clearTempToken(user)
		return tx.UpdateUser(ctx, user)
	})
	if err != nil {
		return err
	}
	s.revokeSessions(ctx, userID)
	return nil
}

// CreateWorkspaceInput names a new workspace
type CreateWorkspaceInput struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// CreateWorkspace adds a workspace to an organization. The organization's
// owners and the creating user become workspace owners in the same
// transaction. Reserved names are rejected.
func (s *Service) CreateWorkspace(ctx context.Context, orgID, creatorID string, in CreateWorkspaceInput) (*identity.Workspace, error) {
	if err := identity.ValidateName("name", in.Name); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(in.Name)
	if isReservedWorkspaceName(name) {
		return nil, identity.NewError(identity.KindConflict, identity.CodeReservedName,
			errors.New(name+" is a reserved workspace name"))
	}

	ws := &identity.Workspace{Name: name, Description: in.Description, OrganizationID: orgID}
	err := s.store.WithTx(ctx, func(tx identity.Store) error {
		if _, err := tx.GetOrganization(ctx, orgID); err != nil {
			return err
		}
		exists, err := tx.WorkspaceNameExists(ctx, orgID, name)
		if err != nil {
			return err
		}
		if exists {
			return identity.Conflict(identity.CodeDuplicate)
		}
		owner, err := tx.GetGeneralRole(ctx, identity.RoleOwner)
		if err != nil {
			return err
		}
		if err := tx.CreateWorkspace(ctx, ws); err != nil {
			return err
		}

		members, err := tx.ListOrganizationUsers(ctx, orgID)
		if err != nil {
			return err
		}
		added := map[string]bool{}
		for _, ou := range members {
			if ou.RoleID == owner.ID || ou.UserID == creatorID {
				added[ou.UserID] = true
			}
		}
		if !added[creatorID] && creatorID != "" {
			return identity.NotFound(identity.CodeMembershipNotFound)
		}
		for userID := range added {
			if err := tx.CreateWorkspaceUser(ctx, &identity.WorkspaceUser{
				WorkspaceID: ws.ID,
				UserID:      userID,
				RoleID:      owner.ID,
				Status:      identity.MembershipStatusActive,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ws, nil
}

func isReservedWorkspaceName(name string) bool {
	for _, reserved := range []string{identity.DefaultWorkspaceName, identity.PersonalWorkspaceName} {
		if strings.EqualFold(name, reserved) {
			return true
		}
	}
	return false
}

// ListMembers returns the members of an organization
func (s *Service) ListMembers(ctx context.Context, orgID string) ([]*identity.OrganizationUser, error) {
	return s.store.ListOrganizationUsers(ctx, orgID)
}
