package accounts

import (
	"context"
	"errors"

	"github.com/platinummonkey/keystone/pkg/audit"
	"github.com/platinummonkey/keystone/pkg/identity"
)

// LoginInput is a password login
type LoginInput struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	IPAddress string `json:"-"`
}

// Login checks a password and returns the principal of the user's most
// recently used workspace. Every outcome is recorded in the login trail on
// enterprise deployments. Unknown users and wrong passwords fail the same
// way.
func (s *Service) Login(ctx context.Context, in LoginInput) (*identity.Principal, error) {
	p, code, err := s.login(ctx, in)
	s.recordActivity(ctx, identity.NormalizeEmail(in.Email), code, audit.LoginModeEmail, in.IPAddress)
	outcome := "success"
	if err != nil {
		outcome = string(code)
	}
	s.metrics.RecordLogin(audit.LoginModeEmail, outcome)
	return p, err
}

func (s *Service) login(ctx context.Context, in LoginInput) (*identity.Principal, audit.ActivityCode, error) {
	if in.Email == "" || in.Password == "" {
		return nil, audit.CodeIncorrectCredential, identity.Unauthenticated(identity.CodeIncorrectCredentials)
	}

	user, err := s.store.GetUserByEmail(ctx, in.Email)
	if identity.IsNotFound(err) {
		return nil, audit.CodeUnknownUser, identity.Unauthenticated(identity.CodeIncorrectCredentials)
	}
	if err != nil {
		return nil, audit.CodeUnknownUser, err
	}
	if !user.HasCredential() || !checkPassword(user.Credential, in.Password) {
		return nil, audit.CodeIncorrectCredential, identity.Unauthenticated(identity.CodeIncorrectCredentials)
	}
	if user.Status != identity.UserStatusActive {
		return nil, audit.CodeInactiveUser, identity.Unauthenticated(identity.CodeUserNotActive)
	}

	p, err := s.EnterWorkspace(ctx, user.ID, "")
	if err != nil {
		if identity.CodeOf(err) == identity.CodeNoAssignedWorkspace {
			return nil, audit.CodeNoAssignedWorkspace, err
		}
		if identity.KindOf(err) == identity.KindUnauthenticated {
			return nil, audit.CodeInactiveUser, err
		}
		return nil, audit.CodeNoAssignedWorkspace, err
	}
	return p, audit.CodeLoginSuccess, nil
}

// EnterWorkspace marks a workspace as the user's current one and resolves
// the principal acting in it. An empty workspaceID re-enters the most
// recently used workspace. Pending memberships become active on first
// entry; suspension is never changed here.
func (s *Service) EnterWorkspace(ctx context.Context, userID, workspaceID string) (*identity.Principal, error) {
	err := s.store.WithTx(ctx, func(tx identity.Store) error {
		var (
			wu  *identity.WorkspaceUser
			err error
		)
		if workspaceID == "" {
			wu, err = tx.MostRecentWorkspaceUser(ctx, userID)
		} else {
			wu, err = tx.GetWorkspaceUser(ctx, workspaceID, userID)
		}
		if identity.IsNotFound(err) {
			return identity.NewError(identity.KindUnauthenticated, identity.CodeNoAssignedWorkspace, err)
		}
		if err != nil {
			return err
		}
		if wu.Status == identity.MembershipStatusDisabled {
			return identity.Unauthenticated(identity.CodeUserNotActive)
		}
		workspaceID = wu.WorkspaceID

		ws, err := tx.GetWorkspace(ctx, wu.WorkspaceID)
		if err != nil {
			return err
		}
		ou, err := tx.GetOrganizationUser(ctx, ws.OrganizationID, userID)
		if identity.IsNotFound(err) {
			return identity.NewError(identity.KindUnauthenticated, identity.CodeMembershipNotFound, err)
		}
		if err != nil {
			return err
		}
		if ou.Suspended {
			return identity.Unauthenticated(identity.CodeUserNotActive)
		}
		if ou.Status == identity.MembershipStatusInvited {
			ou.Status = identity.MembershipStatusActive
			if err := tx.UpdateOrganizationUser(ctx, ou); err != nil {
				return err
			}
		}

		now := s.now().UTC()
		wu.LastLogin = &now
		if wu.Status == identity.MembershipStatusInvited {
			wu.Status = identity.MembershipStatusActive
		}
		return tx.UpdateWorkspaceUser(ctx, wu)
	})
	if err != nil {
		return nil, err
	}
	return s.resolver.Resolve(ctx, userID, workspaceID)
}

// Logout ends a session and records it in the login trail
func (s *Service) Logout(ctx context.Context, p *identity.Principal, sid, ipAddress string) {
	if s.sessions != nil {
		if err := s.sessions.Destroy(ctx, sid); err != nil {
			s.logger.WithError(err).Warn("Failed to destroy session on logout")
		}
	}
	if p == nil {
		return
	}
	mode := audit.LoginModeEmail
	if p.IsFederated() {
		mode = p.SSO.Provider
	}
	s.recordActivity(ctx, p.Email, audit.CodeLogoutSuccess, mode, ipAddress)
}

// ResolveRedirect tells a fresh client where to go: hosted deployments
// always sign in; the others set up their organization first.
func (s *Service) ResolveRedirect(ctx context.Context) (string, error) {
	if s.cfg.Platform == identity.PlatformHosted {
		return "/signin", nil
	}
	n, err := s.store.CountOrganizations(ctx)
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "/organization-setup", nil
	}
	return "/signin", nil
}

var errNoTempToken = errors.New("missing token")
