// Package contextkeys provides centralized context key definitions.
//
// All request-scoped values shared between middleware and handlers are
// stored under keys defined here:
//
//	ctx = contextkeys.WithPrincipal(ctx, p)
//	p, ok := contextkeys.GetPrincipal(ctx)
package contextkeys

import (
	"context"

	"github.com/platinummonkey/keystone/pkg/identity"
)

// Key is the type for context keys to prevent collisions
type Key string

const (
	// PrincipalKey contains *identity.Principal
	// Set by: middleware.Authenticator
	// Required by: the policy check and every protected handler
	PrincipalKey Key = "principal"

	// SessionIDKey contains the session id (JWT jti) string
	// Set by: middleware.Authenticator for cookie and bearer tokens
	// Used by: logout
	SessionIDKey Key = "session_id"

	// APIKeyIDKey contains the id of the API key that authenticated the request
	// Set by: middleware.Authenticator
	APIKeyIDKey Key = "api_key_id"

	// AuthErrorKey contains the error of a failed authentication attempt
	// Set by: middleware.Authenticator when credentials were rejected
	// Used by: middleware.Authorizer to pick the 401 body
	AuthErrorKey Key = "auth_error"
)

// WithPrincipal adds the authenticated principal to the context
func WithPrincipal(ctx context.Context, p *identity.Principal) context.Context {
	return context.WithValue(ctx, PrincipalKey, p)
}

// GetPrincipal retrieves the authenticated principal
func GetPrincipal(ctx context.Context) (*identity.Principal, bool) {
	p, ok := ctx.Value(PrincipalKey).(*identity.Principal)
	return p, ok && p != nil
}

// WithSessionID adds the session id to the context
func WithSessionID(ctx context.Context, sid string) context.Context {
	return context.WithValue(ctx, SessionIDKey, sid)
}

// GetSessionID retrieves the session id
func GetSessionID(ctx context.Context) string {
	sid, _ := ctx.Value(SessionIDKey).(string)
	return sid
}

// WithAPIKeyID adds the API key id to the context
func WithAPIKeyID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, APIKeyIDKey, id)
}

// GetAPIKeyID retrieves the API key id
func GetAPIKeyID(ctx context.Context) string {
	id, _ := ctx.Value(APIKeyIDKey).(string)
	return id
}

// WithAuthError records why authentication failed
func WithAuthError(ctx context.Context, err error) context.Context {
	return context.WithValue(ctx, AuthErrorKey, err)
}

// GetAuthError retrieves the authentication failure, nil when none
func GetAuthError(ctx context.Context) error {
	err, _ := ctx.Value(AuthErrorKey).(error)
	return err
}
