package accounts

import (
	"context"
	"errors"

	"github.com/platinummonkey/keystone/pkg/billing"
	"github.com/platinummonkey/keystone/pkg/identity"
)

// RegisterInput is a sign-up request. TempToken is only used on enterprise
// deployments, where it completes an invitation.
type RegisterInput struct {
	Name             string `json:"name"`
	Email            string `json:"email"`
	Password         string `json:"password"`
	OrganizationName string `json:"organizationName,omitempty"`
	TempToken        string `json:"tempToken,omitempty"`
}

func (in RegisterInput) validate(requirePassword bool) error {
	if err := identity.ValidateName("name", in.Name); err != nil {
		return err
	}
	if err := identity.ValidateEmail(in.Email); err != nil {
		return err
	}
	if requirePassword || in.Password != "" {
		return identity.ValidatePassword(in.Password)
	}
	return nil
}

// Register creates an organization with its default workspace and makes
// the registering user owner of both, in one transaction.
//
//   - self-hosted: only one organization may ever exist
//   - hosted: a billing customer and subscription are created first; a
//     password sign-up must verify its email before logging in
//   - enterprise: without an invite token only the first organization can
//     be registered; with one the invitation is completed instead
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Account, error) {
	switch s.cfg.Platform {
	case identity.PlatformEnterprise:
		if in.TempToken != "" {
			return s.AcceptInvite(ctx, AcceptInviteInput{
				TempToken: in.TempToken,
				Email:     in.Email,
				Name:      in.Name,
				Password:  in.Password,
			})
		}
		return s.registerFirstOrganization(ctx, in)
	case identity.PlatformSelfHosted:
		return s.registerFirstOrganization(ctx, in)
	default:
		return s.registerHosted(ctx, in)
	}
}

// RegisterFederated signs up a user who authenticated with an external
// provider. No password is set and the account is active immediately.
func (s *Service) RegisterFederated(ctx context.Context, name, email string) (*Account, error) {
	if s.cfg.Platform != identity.PlatformHosted {
		return nil, identity.NewError(identity.KindUnauthenticated, identity.CodeUserNotFound,
			errors.New("federated users are only provisioned on hosted deployments"))
	}
	return s.registerHosted(ctx, RegisterInput{Name: name, Email: email})
}

func (s *Service) registerFirstOrganization(ctx context.Context, in RegisterInput) (*Account, error) {
	if err := in.validate(true); err != nil {
		return nil, err
	}
	hash, err := s.hashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	var account *Account
	err = s.store.WithTx(ctx, func(tx identity.Store) error {
		n, err := tx.CountOrganizations(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			return identity.Conflict(identity.CodeOrganizationExists)
		}

		user := &identity.User{
			Name:       in.Name,
			Email:      in.Email,
			Credential: hash,
			Status:     identity.UserStatusActive,
		}
		if err := tx.CreateUser(ctx, user); err != nil {
			return err
		}
		org := &identity.Organization{Name: orgName(in.OrganizationName)}
		account, err = s.createOwnedOrganization(ctx, tx, user, org)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.WithField("organization_id", account.Organization.ID).Info("Organization registered")
	return account, nil
}

func (s *Service) registerHosted(ctx context.Context, in RegisterInput) (*Account, error) {
	if err := in.validate(false); err != nil {
		return nil, err
	}

	existing, err := s.store.GetUserByEmail(ctx, in.Email)
	if err != nil && !identity.IsNotFound(err) {
		return nil, err
	}
	if existing != nil && existing.Status != identity.UserStatusInvited {
		return nil, identity.Conflict(identity.CodeUserAlreadyExists)
	}

	customerID, err := s.billing.CreateCustomer(ctx, orgName(in.OrganizationName), in.Email)
	if err != nil {
		return nil, err
	}
	sub, err := s.billing.CreateSubscription(ctx, customerID, billing.PlanFree)
	if err != nil {
		return nil, err
	}

	user := &identity.User{Name: in.Name, Email: in.Email, Status: identity.UserStatusActive}
	if existing != nil {
		user = existing
		user.Name = in.Name
		user.Status = identity.UserStatusActive
		clearTempToken(user)
	}
	if in.Password != "" {
		if user.Credential, err = s.hashPassword(in.Password); err != nil {
			return nil, err
		}
		user.Status = identity.UserStatusUnverified
		if err := s.issueTempToken(user, s.cfg.InviteTTL); err != nil {
			return nil, err
		}
	}

	var account *Account
	err = s.store.WithTx(ctx, func(tx identity.Store) error {
		if existing != nil {
			if err := tx.UpdateUser(ctx, user); err != nil {
				return err
			}
		} else if err := tx.CreateUser(ctx, user); err != nil {
			return err
		}
		org := &identity.Organization{
			Name:           orgName(in.OrganizationName),
			CustomerID:     customerID,
			SubscriptionID: sub.ID,
		}
		account, err = s.createOwnedOrganization(ctx, tx, user, org)
		return err
	})
	if err != nil {
		return nil, err
	}

	if user.Status == identity.UserStatusUnverified {
		email, link := user.Email, s.link("/verify", user.TempToken)
		s.dispatch(ctx, "send verification mail", func(ctx context.Context) error {
			return s.mailer.SendVerification(ctx, email, link)
		})
	}
	return account, nil
}

// createOwnedOrganization writes the organization, its default workspace and
// the owner memberships of user
func (s *Service) createOwnedOrganization(ctx context.Context, tx identity.Store, user *identity.User, org *identity.Organization) (*Account, error) {
	owner, err := tx.GetGeneralRole(ctx, identity.RoleOwner)
	if err != nil {
		return nil, err
	}
	if org.Status == "" {
		org.Status = identity.OrganizationStatusActive
	}
	if err := tx.CreateOrganization(ctx, org); err != nil {
		return nil, err
	}
	if err := tx.CreateOrganizationUser(ctx, &identity.OrganizationUser{
		OrganizationID: org.ID,
		UserID:         user.ID,
		RoleID:         owner.ID,
		Status:         identity.MembershipStatusActive,
	}); err != nil {
		return nil, err
	}

	ws := &identity.Workspace{Name: identity.DefaultWorkspaceName, OrganizationID: org.ID}
	if err := tx.CreateWorkspace(ctx, ws); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	wu := &identity.WorkspaceUser{
		WorkspaceID: ws.ID,
		UserID:      user.ID,
		RoleID:      owner.ID,
		Status:      identity.MembershipStatusActive,
		LastLogin:   &now,
	}
	if err := tx.CreateWorkspaceUser(ctx, wu); err != nil {
		return nil, err
	}
	return &Account{User: user, Organization: org, Workspace: ws, WorkspaceUser: wu}, nil
}

func orgName(name string) string {
	if name == "" {
		return identity.DefaultOrganizationName
	}
	return name
}
