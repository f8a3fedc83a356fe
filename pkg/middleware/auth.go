package middleware

import (
	"net/http"
	"strings"

	"github.com/platinummonkey/keystone/pkg/auth"
	"github.com/platinummonkey/keystone/pkg/contextkeys"
	"github.com/platinummonkey/keystone/pkg/httputil"
	"github.com/platinummonkey/keystone/pkg/identity"
	"github.com/platinummonkey/keystone/pkg/observability"
	"github.com/platinummonkey/keystone/pkg/session"
	"github.com/platinummonkey/keystone/pkg/tokens"
)

// Cookie names shared with the login handlers
const (
	TokenCookie        = "token"
	RefreshTokenCookie = "refreshToken"
)

// Identity is the outcome of authenticating one request
type Identity struct {
	Principal *identity.Principal
	SessionID string
	APIKeyID  string
}

// Authenticator resolves the caller of a request from the token cookie,
// a bearer token or an API key. It never rejects a request itself; the
// Authorizer decides whether an anonymous caller may continue.
type Authenticator struct {
	tokens   *tokens.Service
	sessions *session.Manager
	keys     *auth.KeyManager
	logger   *observability.Logger
}

// NewAuthenticator creates a new authenticator. keys may be nil to disable
// API key authentication.
func NewAuthenticator(tokens *tokens.Service, sessions *session.Manager, keys *auth.KeyManager, logger *observability.Logger) *Authenticator {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Authenticator{
		tokens:   tokens,
		sessions: sessions,
		keys:     keys,
		logger:   logger.WithField("component", "authenticator"),
	}
}

// Handler wraps an HTTP handler with authentication
func (a *Authenticator) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		id, err := a.Authenticate(r)
		if err != nil {
			if identity.KindOf(err) == identity.KindInternal {
				observability.FromContext(ctx).WithError(err).Error("Authentication failed")
			}
			next.ServeHTTP(w, r.WithContext(contextkeys.WithAuthError(ctx, err)))
			return
		}

		ctx = contextkeys.WithPrincipal(ctx, id.Principal)
		ctx = observability.WithUserID(ctx, id.Principal.ID)
		if id.Principal.ActiveWorkspaceID != "" {
			ctx = observability.WithWorkspaceID(ctx, id.Principal.ActiveWorkspaceID)
		}
		if id.SessionID != "" {
			ctx = contextkeys.WithSessionID(ctx, id.SessionID)
		}
		if id.APIKeyID != "" {
			ctx = contextkeys.WithAPIKeyID(ctx, id.APIKeyID)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Authenticate returns the identity behind the request's credentials.
// A request without credentials fails with identity.ErrInvalidToken.
func (a *Authenticator) Authenticate(r *http.Request) (*Identity, error) {
	token := requestToken(r)
	if token == "" {
		return nil, identity.ErrInvalidToken
	}
	if strings.HasPrefix(token, auth.KeyPrefix) {
		return a.authenticateKey(r, token)
	}

	claims, err := a.tokens.VerifyAccessToken(token)
	if err != nil {
		return nil, err
	}
	p, err := a.sessions.Principal(r.Context(), claims.SessionID(), claims.UserID, claims.WorkspaceID)
	if err != nil {
		if identity.IsNotFound(err) {
			// the user or workspace behind a valid token is gone
			return nil, identity.ErrInvalidToken
		}
		return nil, err
	}

	resolved := *p
	resolved.AuthMethod = identity.AuthMethodJWT
	return &Identity{Principal: &resolved, SessionID: claims.SessionID()}, nil
}

func (a *Authenticator) authenticateKey(r *http.Request, key string) (*Identity, error) {
	if a.keys == nil {
		return nil, identity.ErrInvalidToken
	}
	k, err := a.keys.Validate(r.Context(), key)
	if err != nil {
		return nil, err
	}
	p, err := a.keys.Principal(r.Context(), k)
	if err != nil {
		if identity.IsNotFound(err) {
			return nil, identity.ErrInvalidToken
		}
		return nil, err
	}
	return &Identity{Principal: p, APIKeyID: k.ID}, nil
}

// requestToken prefers the token cookie over the Authorization header
func requestToken(r *http.Request) string {
	if c, err := r.Cookie(TokenCookie); err == nil && c.Value != "" {
		return c.Value
	}
	return httputil.BearerToken(r)
}

// WriteUnauthenticated answers 401. An expired access token is reported as
// retryable when the client still holds a refresh token cookie.
func WriteUnauthenticated(w http.ResponseWriter, r *http.Request, err error) {
	if identity.CodeOf(err) == identity.CodeTokenExpired {
		if c, cerr := r.Cookie(RefreshTokenCookie); cerr == nil && c.Value != "" {
			httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{
				Error: identity.CodeTokenExpired,
				Retry: true,
			})
			return
		}
	}
	httputil.WriteUnauthorized(w, identity.CodeInvalidMissingToken)
}
