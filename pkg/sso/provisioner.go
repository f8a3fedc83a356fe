package sso

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/platinummonkey/keystone/pkg/audit"
	"github.com/platinummonkey/keystone/pkg/identity"
)

// Login finishes a provider callback: it exchanges the authorization code
// and signs the vouched-for user in. Every failure reaches the caller as
// SSO_LOGIN_FAILED; the cause is only logged.
func (f *Federation) Login(ctx context.Context, name ProviderName, code, ip string) (*identity.Principal, error) {
	p, ok := f.Provider(name)
	if !ok {
		return nil, f.fail(name, "", fmt.Errorf("provider is not enabled"))
	}
	profile, tok, err := p.Exchange(ctx, code)
	if err != nil {
		return nil, f.fail(name, "", err)
	}
	return f.VerifyAndLogin(ctx, profile, tok, ip)
}

// VerifyAndLogin resolves a verified external identity to a local principal.
// Unknown users are registered on hosted deployments and rejected elsewhere;
// pending invitations are completed. The provider tokens ride along on the
// principal so later refreshes can go back to the provider.
func (f *Federation) VerifyAndLogin(ctx context.Context, profile *Profile, tok *oauth2.Token, ip string) (*identity.Principal, error) {
	mode := string(profile.Provider)
	email := identity.NormalizeEmail(profile.Email)

	p, code, err := f.verifyAndLogin(ctx, profile, email)
	f.accounts.RecordActivity(ctx, email, code, mode, ip)
	if err != nil {
		return nil, f.fail(profile.Provider, email, err)
	}

	p.SSO = federatedTokens(profile.Provider, tok, "")
	f.logger.WithFields(logrus.Fields{
		"provider": mode,
		"user_id":  p.ID,
	}).Info("Federated login succeeded")
	return p, nil
}

func (f *Federation) verifyAndLogin(ctx context.Context, profile *Profile, email string) (*identity.Principal, audit.ActivityCode, error) {
	if err := identity.ValidateEmail(email); err != nil {
		return nil, audit.CodeUnknownUser, err
	}

	user, err := f.store.GetUserByEmail(ctx, email)
	switch {
	case identity.IsNotFound(err):
		if f.accounts.Platform() != identity.PlatformHosted {
			return nil, audit.CodeUnknownUser, identity.NotFound(identity.CodeUserNotFound)
		}
		account, err := f.accounts.RegisterFederated(ctx, profile.Name, email)
		if err != nil {
			return nil, audit.CodeUnknownUser, err
		}
		user = account.User
	case err != nil:
		return nil, audit.CodeUnknownUser, err
	}

	switch user.Status {
	case identity.UserStatusDeleted:
		return nil, audit.CodeInactiveUser, identity.Unauthenticated(identity.CodeUserNotActive)
	case identity.UserStatusInvited, identity.UserStatusUnverified:
		if err := f.accounts.CompleteInvite(ctx, user.ID, profile.Name); err != nil {
			return nil, audit.CodeInactiveUser, err
		}
	}

	p, err := f.accounts.EnterWorkspace(ctx, user.ID, "")
	if err != nil {
		if identity.CodeOf(err) == identity.CodeNoAssignedWorkspace {
			return nil, audit.CodeNoAssignedWorkspace, err
		}
		return nil, audit.CodeInactiveUser, err
	}
	return p, audit.CodeLoginSuccess, nil
}

func (f *Federation) fail(provider ProviderName, email string, err error) error {
	f.logger.WithError(err).WithFields(logrus.Fields{
		"provider": string(provider),
		"email":    email,
	}).Error("Federated login failed")
	return identity.NewError(identity.KindFederation, identity.CodeSSOLoginFailed, err)
}
