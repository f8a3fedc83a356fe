package tokens

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/platinummonkey/keystone/pkg/identity"
	"github.com/platinummonkey/keystone/pkg/sealed"
)

// Config holds token signing settings
type Config struct {
	AccessSecret  string
	RefreshSecret string
	MetaSecret    string
	Audience      string
	Issuer        string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

// SessionSource loads and stores the principal behind a session id
type SessionSource interface {
	Principal(ctx context.Context, sid, userID, workspaceID string) (*identity.Principal, error)
	Update(ctx context.Context, sid string, p *identity.Principal) error
}

// FederatedRefresher renews upstream provider tokens
type FederatedRefresher interface {
	Refresh(ctx context.Context, tokens *identity.FederatedTokens) (*identity.FederatedTokens, error)
}

// Service issues, verifies and refreshes access and refresh tokens
type Service struct {
	cfg        Config
	box        *sealed.Box
	sessions   SessionSource
	federation FederatedRefresher
	now        func() time.Time
}

// NewService creates a token service. sessions and federation may be set
// later through SetSessions and SetFederation.
func NewService(cfg Config) (*Service, error) {
	if cfg.AccessSecret == "" || cfg.RefreshSecret == "" {
		return nil, errors.New("access and refresh secrets are required")
	}
	if cfg.AccessSecret == cfg.RefreshSecret {
		return nil, errors.New("access and refresh secrets must differ")
	}
	if cfg.Audience == "" || cfg.Issuer == "" {
		return nil, errors.New("audience and issuer are required")
	}
	box, err := sealed.New(cfg.MetaSecret, "keystone.token.meta.v1")
	if err != nil {
		return nil, fmt.Errorf("failed to create meta box: %w", err)
	}
	return &Service{cfg: cfg, box: box, now: time.Now}, nil
}

// SetSessions sets the session source used by Refresh
func (s *Service) SetSessions(sessions SessionSource) {
	s.sessions = sessions
}

// SetFederation sets the provider refresher used for federated principals
func (s *Service) SetFederation(f FederatedRefresher) {
	s.federation = f
}

// Issue mints a fresh access and refresh token for p bound to session sid.
// This is the only place a refresh token is created.
func (s *Service) Issue(p *identity.Principal, sid string) (*Pair, error) {
	access, accessExp, err := s.IssueAccessToken(p, sid)
	if err != nil {
		return nil, err
	}
	refresh, refreshExp, err := s.IssueRefreshToken(p, sid)
	if err != nil {
		return nil, err
	}
	return &Pair{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExp,
		SessionID:        sid,
	}, nil
}

// IssueAccessToken mints a short-lived token. A federated principal's
// token lives as long as the upstream access token does.
func (s *Service) IssueAccessToken(p *identity.Principal, sid string) (string, time.Time, error) {
	now := s.now()
	exp := now.Add(s.cfg.AccessTTL)
	if p.IsFederated() {
		if upstream, ok := upstreamExpiry(p.SSO.AccessToken); ok && upstream.After(now) {
			exp = upstream
		}
	}
	return s.sign(KindAccess, p, sid, now, exp)
}

// IssueRefreshToken mints a long-lived token, bounded by the upstream
// refresh token's expiry when it carries one
func (s *Service) IssueRefreshToken(p *identity.Principal, sid string) (string, time.Time, error) {
	now := s.now()
	exp := now.Add(s.cfg.RefreshTTL)
	if p.IsFederated() {
		if upstream, ok := upstreamExpiry(p.SSO.RefreshToken); ok && upstream.After(now) && upstream.Before(exp) {
			exp = upstream
		}
	}
	return s.sign(KindRefresh, p, sid, now, exp)
}

func (s *Service) sign(kind Kind, p *identity.Principal, sid string, now, exp time.Time) (string, time.Time, error) {
	plain, err := meta{Subject: p.ID, WorkspaceID: p.ActiveWorkspaceID}.marshal()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to marshal meta: %w", err)
	}
	sealedMeta, err := s.box.Seal(plain, string(kind))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to seal meta: %w", err)
	}

	claims := Claims{
		UserID:   p.ID,
		Username: p.Name,
		Meta:     sealedMeta,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        sid,
			Audience:  jwt.ClaimStrings{s.cfg.Audience},
			Issuer:    s.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret(kind))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign %s token: %w", kind, err)
	}
	return signed, exp, nil
}

func (s *Service) secret(kind Kind) []byte {
	if kind == KindRefresh {
		return []byte(s.cfg.RefreshSecret)
	}
	return []byte(s.cfg.AccessSecret)
}

// VerifyAccessToken checks signature, audience, issuer, expiry and the meta
// binding. Expired tokens fail with identity.ErrTokenExpired.
func (s *Service) VerifyAccessToken(token string) (*Claims, error) {
	return s.verify(KindAccess, token)
}

// VerifyRefreshToken is VerifyAccessToken for refresh tokens. Expired
// tokens fail with identity.ErrRefreshTokenExpired.
func (s *Service) VerifyRefreshToken(token string) (*Claims, error) {
	return s.verify(KindRefresh, token)
}

func (s *Service) verify(kind Kind, tokenStr string) (*Claims, error) {
	if tokenStr == "" {
		return nil, identity.ErrInvalidToken
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(s.cfg.Audience),
		jwt.WithIssuer(s.cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	claims := &Claims{}
	_, err := parser.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		return s.secret(kind), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			if kind == KindRefresh {
				return nil, identity.NewError(identity.KindUnauthenticated, identity.CodeRefreshTokenExpired, err)
			}
			return nil, identity.NewError(identity.KindUnauthenticated, identity.CodeTokenExpired, err)
		}
		return nil, identity.NewError(identity.KindUnauthenticated, identity.CodeInvalidMissingToken, err)
	}

	plain, err := s.box.Open(claims.Meta, string(kind))
	if err != nil {
		return nil, identity.NewError(identity.KindUnauthenticated, identity.CodeInvalidMissingToken, err)
	}
	var m meta
	if err := json.Unmarshal(plain, &m); err != nil {
		return nil, identity.NewError(identity.KindUnauthenticated, identity.CodeInvalidMissingToken, err)
	}
	if m.Subject == "" || m.Subject != claims.UserID {
		return nil, identity.NewError(identity.KindUnauthenticated, identity.CodeInvalidMissingToken,
			errors.New("meta subject does not match token"))
	}
	claims.WorkspaceID = m.WorkspaceID
	return claims, nil
}

// Refresh verifies a refresh token and mints a new access token. The
// refresh token is returned unchanged. Federated principals are renewed
// with their provider first; a provider failure means the user must sign
// in again.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*Pair, *identity.Principal, error) {
	claims, err := s.VerifyRefreshToken(refreshToken)
	if err != nil {
		return nil, nil, err
	}
	if s.sessions == nil {
		return nil, nil, errors.New("token service has no session source")
	}

	p, err := s.sessions.Principal(ctx, claims.SessionID(), claims.UserID, claims.WorkspaceID)
	if err != nil {
		return nil, nil, err
	}
	if p.ID != claims.UserID {
		return nil, nil, identity.ErrInvalidToken
	}

	if p.IsFederated() && s.federation != nil {
		renewed, err := s.federation.Refresh(ctx, p.SSO)
		if err != nil {
			return nil, nil, identity.NewError(identity.KindUnauthenticated, identity.CodeRefreshTokenExpired, err)
		}
		// the session source may hand out a shared principal
		p = p.Clone()
		p.SSO = renewed
		if err := s.sessions.Update(ctx, claims.SessionID(), p); err != nil {
			return nil, nil, fmt.Errorf("failed to store renewed provider tokens: %w", err)
		}
	}

	access, accessExp, err := s.IssueAccessToken(p, claims.SessionID())
	if err != nil {
		return nil, nil, err
	}
	pair := &Pair{
		AccessToken:     access,
		AccessExpiresAt: accessExp,
		RefreshToken:    refreshToken,
		SessionID:       claims.SessionID(),
	}
	if claims.ExpiresAt != nil {
		pair.RefreshExpiresAt = claims.ExpiresAt.Time
	}
	return pair, p, nil
}

// upstreamExpiry reads the exp claim of a provider token without verifying
// it. Opaque provider tokens report false.
func upstreamExpiry(token string) (time.Time, bool) {
	if token == "" {
		return time.Time{}, false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
