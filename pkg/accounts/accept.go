package accounts

import (
	"context"
	"errors"

	"github.com/platinummonkey/keystone/pkg/identity"
)

// AcceptInviteInput completes a placeholder account created by Invite
type AcceptInviteInput struct {
	TempToken string `json:"tempToken"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	Password  string `json:"password"`
}

// AcceptInvite consumes an invitation token, sets the account's name and
// password and activates its pending memberships. Only invited users can
// accept, and the email must be the invited address. On enterprise
// deployments the user also gets a personal workspace.
func (s *Service) AcceptInvite(ctx context.Context, in AcceptInviteInput) (*Account, error) {
	if in.TempToken == "" {
		return nil, identity.Invalid(identity.CodeInvalidTempToken, errors.New("missing invite token"))
	}
	if err := identity.ValidateEmail(in.Email); err != nil {
		return nil, err
	}
	if err := identity.ValidateName("name", in.Name); err != nil {
		return nil, err
	}
	if err := identity.ValidatePassword(in.Password); err != nil {
		return nil, err
	}
	hash, err := s.hashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	account := &Account{}
	err = s.store.WithTx(ctx, func(tx identity.Store) error {
		user, err := tx.GetUserByTempToken(ctx, in.TempToken)
		if identity.IsNotFound(err) {
			return identity.Invalid(identity.CodeInvalidTempToken, errors.New("unknown invite token"))
		}
		if err != nil {
			return err
		}
		// reset and verification tokens live in the same column
		if user.Status != identity.UserStatusInvited {
			return identity.Invalid(identity.CodeInvalidTempToken, errors.New("token is not an invitation"))
		}
		if identity.NormalizeEmail(in.Email) != identity.NormalizeEmail(user.Email) {
			return identity.Invalid(identity.CodeInvalidInput, errors.New("email does not match the invitation"))
		}
		if s.tempTokenExpired(user) {
			return identity.Invalid(identity.CodeExpiredTempToken, errors.New("invite token has expired"))
		}

		user.Name = in.Name
		user.Credential = hash
		user.Status = identity.UserStatusActive
		clearTempToken(user)
		if err := tx.UpdateUser(ctx, user); err != nil {
			return err
		}
		account.User = user

		if err := s.activateMemberships(ctx, tx, account); err != nil {
			return err
		}
		if s.cfg.Platform == identity.PlatformEnterprise {
			return s.createPersonalWorkspace(ctx, tx, account)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

// activateMemberships turns the pending memberships of account.User active
// and fills in the account's organization and first workspace
func (s *Service) activateMemberships(ctx context.Context, tx identity.Store, account *Account) error {
	orgUsers, err := tx.ListOrganizationUsersByUser(ctx, account.User.ID)
	if err != nil {
		return err
	}
	if len(orgUsers) == 0 {
		return identity.NotFound(identity.CodeMembershipNotFound)
	}
	for _, ou := range orgUsers {
		if ou.Status != identity.MembershipStatusInvited {
			continue
		}
		ou.Status = identity.MembershipStatusActive
		if err := tx.UpdateOrganizationUser(ctx, ou); err != nil {
			return err
		}
	}
	if account.Organization, err = tx.GetOrganization(ctx, orgUsers[0].OrganizationID); err != nil {
		return err
	}

	memberships, err := tx.ListWorkspaceMemberships(ctx, account.User.ID)
	if err != nil {
		return err
	}
	for _, m := range memberships {
		if m.Status != identity.MembershipStatusInvited {
			continue
		}
		wu := m.WorkspaceUser
		wu.Status = identity.MembershipStatusActive
		if err := tx.UpdateWorkspaceUser(ctx, &wu); err != nil {
			return err
		}
		if account.Workspace == nil {
			ws := m.Workspace
			account.Workspace = &ws
			account.WorkspaceUser = &wu
		}
	}
	return nil
}

// CompleteInvite activates an invited or unverified account whose email an
// external identity provider has vouched for. No password is set.
func (s *Service) CompleteInvite(ctx context.Context, userID, name string) error {
	return s.store.WithTx(ctx, func(tx identity.Store) error {
		user, err := tx.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		if user.Status != identity.UserStatusInvited && user.Status != identity.UserStatusUnverified {
			return nil
		}
		invited := user.Status == identity.UserStatusInvited
		if name != "" {
			user.Name = name
		}
		user.Status = identity.UserStatusActive
		clearTempToken(user)
		if err := tx.UpdateUser(ctx, user); err != nil {
			return err
		}
		if !invited {
			return nil
		}

		account := &Account{User: user}
		if err := s.activateMemberships(ctx, tx, account); err != nil {
			return err
		}
		if s.cfg.Platform == identity.PlatformEnterprise {
			return s.createPersonalWorkspace(ctx, tx, account)
		}
		return nil
	})
}

// createPersonalWorkspace gives the account's user a workspace of their own
// and makes it their current one
func (s *Service) createPersonalWorkspace(ctx context.Context, tx identity.Store, account *Account) error {
	role, err := tx.GetGeneralRole(ctx, identity.RolePersonalWorkspace)
	if err != nil {
		return err
	}
	ws := &identity.Workspace{Name: identity.PersonalWorkspaceName, OrganizationID: account.Organization.ID}
	if err := tx.CreateWorkspace(ctx, ws); err != nil {
		return err
	}
	now := s.now().UTC()
	wu := &identity.WorkspaceUser{
		WorkspaceID: ws.ID,
		UserID:      account.User.ID,
		RoleID:      role.ID,
		Status:      identity.MembershipStatusActive,
		LastLogin:   &now,
	}
	if err := tx.CreateWorkspaceUser(ctx, wu); err != nil {
		return err
	}
	account.Workspace = ws
	account.WorkspaceUser = wu
	return nil
}
