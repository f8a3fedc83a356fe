package accounts

import (
	"context"
	"errors"

	"github.com/platinummonkey/keystone/pkg/identity"
)

// Verify consumes an email verification token and activates the account.
// A token works exactly once and only for unverified accounts.
func (s *Service) Verify(ctx context.Context, token string) (*identity.User, error) {
	if token == "" {
		return nil, identity.Invalid(identity.CodeInvalidTempToken, errNoTempToken)
	}

	var user *identity.User
	err := s.store.WithTx(ctx, func(tx identity.Store) error {
		var err error
		user, err = tx.GetUserByTempToken(ctx, token)
		if identity.IsNotFound(err) {
			return identity.Invalid(identity.CodeInvalidTempToken, errors.New("unknown verification token"))
		}
		if err != nil {
			return err
		}
		if user.Status != identity.UserStatusUnverified {
			return identity.Invalid(identity.CodeInvalidTempToken, errors.New("token is not a verification token"))
		}
		if s.tempTokenExpired(user) {
			return identity.Invalid(identity.CodeExpiredTempToken, errors.New("verification token has expired"))
		}
		clearTempToken(user)
		user.Status = identity.UserStatusActive
		return tx.UpdateUser(ctx, user)
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// ResendVerification issues a new verification token to an account that
// has not been activated yet
func (s *Service) ResendVerification(ctx context.Context, email string) error {
	var user *identity.User
	err := s.store.WithTx(ctx, func(tx identity.Store) error {
		var err error
		user, err = tx.GetUserByEmail(ctx, email)
		if err != nil {
			return err
		}
		if user.Status == identity.UserStatusActive {
			return identity.Conflict(identity.CodeUserAlreadyExists)
		}
		if user.Status == identity.UserStatusDeleted {
			return identity.NotFound(identity.CodeUserNotFound)
		}
		if err := s.issueTempToken(user, s.cfg.InviteTTL); err != nil {
			return err
		}
		return tx.UpdateUser(ctx, user)
	})
	if err != nil {
		return err
	}

	address, link := user.Email, s.link("/verify", user.TempToken)
	s.dispatch(ctx, "send verification mail", func(ctx context.Context) error {
		return s.mailer.SendVerification(ctx, address, link)
	})
	return nil
}

// ForgotPassword issues a short-lived reset token and mails the reset link
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	var user *identity.User
	err := s.store.WithTx(ctx, func(tx identity.Store) error {
		var err error
		user, err = tx.GetUserByEmail(ctx, email)
		if err != nil {
			return err
		}
		if user.Status == identity.UserStatusDeleted {
			return identity.NotFound(identity.CodeUserNotFound)
		}
		if err := s.issueTempToken(user, s.cfg.ResetTTL); err != nil {
			return err
		}
		return tx.UpdateUser(ctx, user)
	})
	if err != nil {
		return err
	}

	address, link := user.Email, s.link("/reset-password", user.TempToken)
	s.dispatch(ctx, "send password reset mail", func(ctx context.Context) error {
		return s.mailer.SendPasswordReset(ctx, address, link)
	})
	return nil
}

// ResetPasswordInput sets a new password with a reset token
type ResetPasswordInput struct {
	Email     string `json:"email"`
	TempToken string `json:"tempToken"`
	Password  string `json:"password"`
}

// ResetPassword replaces the password of the token holder. The token must
// match and still be inside its window; it is cleared on use. Every session
// of the user is revoked afterwards.
func (s *Service) ResetPassword(ctx context.Context, in ResetPasswordInput) (*identity.User, error) {
	if in.TempToken == "" {
		return nil, identity.Invalid(identity.CodeInvalidTempToken, errNoTempToken)
	}
	if err := identity.ValidatePassword(in.Password); err != nil {
		return nil, err
	}
	hash, err := s.hashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	var user *identity.User
	err = s.store.WithTx(ctx, func(tx identity.Store) error {
		var err error
		user, err = tx.GetUserByEmail(ctx, in.Email)
		if err != nil {
			return err
		}
		if user.TempToken == "" || user.TempToken != in.TempToken {
			return identity.Invalid(identity.CodeInvalidTempToken, errors.New("reset token does not match"))
		}
		if s.tempTokenExpired(user) {
			return identity.Invalid(identity.CodeExpiredTempToken, errors.New("reset token has expired"))
		}
		user.Credential = hash
		user.Status = identity.UserStatusActive
		clearTempToken(user)
		return tx.UpdateUser(ctx, user)
	})
	if err != nil {
		return nil, err
	}

	s.revokeSessions(ctx, user.ID)
	return user, nil
}
