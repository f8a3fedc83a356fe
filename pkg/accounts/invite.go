package accounts

import (
	"context"
	"errors"

	"github.com/platinummonkey/keystone/pkg/identity"
)

// InviteInput adds a person to a workspace with a role
type InviteInput struct {
	Email       string `json:"email"`
	WorkspaceID string `json:"workspaceId"`
	RoleID      string `json:"roleId"`
}

// InviteResult describes what an invitation created
type InviteResult struct {
	User          *identity.User          `json:"user"`
	WorkspaceUser *identity.WorkspaceUser `json:"workspaceUser"`
	NewUser       bool                    `json:"newUser"`
}

type inviteMail struct {
	kind       string
	email      string
	workspace  string
	link       string
	reassigned bool
}

// Invite adds email to a workspace. Unknown people get a placeholder
// account with a one-time registration token; people outside the
// organization get an invited member row. The workspace membership is
// always created or reset to invited. Seat usage is checked against the
// organization's plan before any new member is added.
func (s *Service) Invite(ctx context.Context, in InviteInput) (*InviteResult, error) {
	if err := identity.ValidateEmail(in.Email); err != nil {
		return nil, err
	}
	if err := identity.ValidateID("workspaceId", in.WorkspaceID); err != nil {
		return nil, err
	}
	if err := identity.ValidateID("roleId", in.RoleID); err != nil {
		return nil, err
	}

	ws, err := s.store.GetWorkspace(ctx, in.WorkspaceID)
	if err != nil {
		return nil, err
	}
	if ws.IsPersonal() {
		return nil, identity.Invalid(identity.CodeInvalidInput, errors.New("personal workspaces cannot be shared"))
	}
	org, err := s.store.GetOrganization(ctx, ws.OrganizationID)
	if err != nil {
		return nil, err
	}
	quota, err := s.billing.SeatQuota(ctx, org)
	if err != nil {
		return nil, err
	}

	var (
		result = &InviteResult{}
		mail   inviteMail
	)
	err = s.store.WithTx(ctx, func(tx identity.Store) error {
		role, err := s.assignableRole(ctx, tx, in.RoleID, ws.OrganizationID)
		if err != nil {
			return err
		}
		member, err := tx.GetGeneralRole(ctx, identity.RoleMember)
		if err != nil {
			return err
		}
		seatsLeft := func() error {
			if quota <= 0 {
				return nil
			}
			n, err := tx.CountOrganizationUsers(ctx, ws.OrganizationID)
			if err != nil {
				return err
			}
			if n+1 > quota {
				return identity.Conflict(identity.CodeQuotaExceeded)
			}
			return nil
		}

		user, err := tx.GetUserByEmail(ctx, in.Email)
		if err != nil && !identity.IsNotFound(err) {
			return err
		}

		if user == nil {
			if err := seatsLeft(); err != nil {
				return err
			}
			user = &identity.User{Email: in.Email, Status: identity.UserStatusInvited}
			if err := s.issueTempToken(user, s.cfg.InviteTTL); err != nil {
				return err
			}
			if err := tx.CreateUser(ctx, user); err != nil {
				return err
			}
			if err := tx.CreateOrganizationUser(ctx, &identity.OrganizationUser{
				OrganizationID: ws.OrganizationID,
				UserID:         user.ID,
				RoleID:         member.ID,
				Status:         identity.MembershipStatusInvited,
			}); err != nil {
				return err
			}
			result.NewUser = true
			mail = inviteMail{kind: "invite", email: user.Email, workspace: ws.Name, link: s.link("/register", user.TempToken)}
		} else {
			if user.Status == identity.UserStatusDeleted {
				return identity.Invalid(identity.CodeInvalidInput, errors.New("user has been deleted"))
			}
			ou, err := tx.GetOrganizationUser(ctx, ws.OrganizationID, user.ID)
			if err != nil && !identity.IsNotFound(err) {
				return err
			}
			if ou == nil {
				if err := seatsLeft(); err != nil {
					return err
				}
				ou = &identity.OrganizationUser{
					OrganizationID: ws.OrganizationID,
					UserID:         user.ID,
					RoleID:         member.ID,
					Status:         identity.MembershipStatusInvited,
				}
				if err := tx.CreateOrganizationUser(ctx, ou); err != nil {
					return err
				}
			}

			if ou.Status == identity.MembershipStatusInvited {
				reassigned, err := s.supersedeMembership(ctx, tx, user.ID, ws)
				if err != nil {
					return err
				}
				link := s.link("/signin", "")
				if user.Status == identity.UserStatusInvited {
					if err := s.issueTempToken(user, s.cfg.InviteTTL); err != nil {
						return err
					}
					if err := tx.UpdateUser(ctx, user); err != nil {
						return err
					}
					link = s.link("/register", user.TempToken)
				}
				mail = inviteMail{kind: "invite", email: user.Email, workspace: ws.Name,
					link: link, reassigned: reassigned}
			} else {
				mail = inviteMail{kind: "added", email: user.Email, workspace: ws.Name, link: s.cfg.AppURL}
			}
		}

		wu, err := tx.GetWorkspaceUser(ctx, ws.ID, user.ID)
		switch {
		case identity.IsNotFound(err):
			wu = &identity.WorkspaceUser{
				WorkspaceID: ws.ID,
				UserID:      user.ID,
				RoleID:      role.ID,
				Status:      identity.MembershipStatusInvited,
			}
			if err := tx.CreateWorkspaceUser(ctx, wu); err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			wu.RoleID = role.ID
			wu.Status = identity.MembershipStatusInvited
			if err := tx.UpdateWorkspaceUser(ctx, wu); err != nil {
				return err
			}
		}

		result.User = user
		result.WorkspaceUser = wu
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.dispatch(ctx, "send invite mail", func(ctx context.Context) error {
		if mail.kind == "added" {
			return s.mailer.SendWorkspaceAdded(ctx, mail.email, mail.workspace, mail.link)
		}
		return s.mailer.SendWorkspaceInvite(ctx, mail.email, mail.workspace, mail.link, mail.reassigned)
	})
	return result, nil
}

// supersedeMembership drops the single pending non-personal workspace
// membership a still-invited member holds in the organization, so the new
// assignment replaces it. It reports whether one was replaced.
func (s *Service) supersedeMembership(ctx context.Context, tx identity.Store, userID string, target *identity.Workspace) (bool, error) {
	memberships, err := tx.ListWorkspaceMemberships(ctx, userID)
	if err != nil {
		return false, err
	}
	var inOrg []*identity.WorkspaceMembership
	for _, m := range memberships {
		if m.Workspace.OrganizationID == target.OrganizationID && m.WorkspaceID != target.ID {
			inOrg = append(inOrg, m)
		}
	}
	if len(inOrg) != 1 {
		return false, nil
	}
	old := inOrg[0]
	if old.Role.IsGeneral() && old.Role.Name == identity.RolePersonalWorkspace {
		return false, nil
	}
	if err := tx.DeleteWorkspaceUser(ctx, old.WorkspaceID, userID); err != nil {
		return false, err
	}
	return true, nil
}

// assignableRole loads a role that can be granted in an organization: a
// general role other than personal workspace, or a custom role of that
// organization
func (s *Service) assignableRole(ctx context.Context, tx identity.Store, roleID, orgID string) (*identity.Role, error) {
	role, err := tx.GetRole(ctx, roleID)
	if err != nil {
		return nil, err
	}
	if role.IsGeneral() {
		if role.Name == identity.RolePersonalWorkspace {
			return nil, identity.Invalid(identity.CodeInvalidInput, errors.New("the personal workspace role cannot be assigned"))
		}
		return role, nil
	}
	if *role.OrganizationID != orgID {
		return nil, identity.NotFound(identity.CodeRoleNotFound)
	}
	return role, nil
}
