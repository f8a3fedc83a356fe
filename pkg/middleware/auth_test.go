package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/keystone/pkg/auth"
	"github.com/platinummonkey/keystone/pkg/contextkeys"
	"github.com/platinummonkey/keystone/pkg/httputil"
	"github.com/platinummonkey/keystone/pkg/identity"
	"github.com/platinummonkey/keystone/pkg/session"
	"github.com/platinummonkey/keystone/pkg/tokens"
)

func tokenConfig(accessTTL time.Duration) tokens.Config {
	return tokens.Config{
		AccessSecret:  "access-secret-at-least-32-bytes-long",
		RefreshSecret: "refresh-secret-at-least-32-bytes-long",
		MetaSecret:    "meta-secret",
		Audience:      "AUDIENCE",
		Issuer:        "ISSUER",
		AccessTTL:     accessTTL,
		RefreshTTL:    24 * time.Hour,
	}
}

type authHarness struct {
	store    *identity.SQLStore
	fixture  *identity.Fixture
	tokens   *tokens.Service
	sessions *session.Manager
	keys     *auth.KeyManager
	resolver *identity.Resolver
	authn    *Authenticator
}

func newAuthHarness(t *testing.T, withStore bool) *authHarness {
	t.Helper()
	h := &authHarness{store: identity.NewTestStore(t)}
	h.fixture = identity.SeedFixture(t, h.store, "owner@example.com")
	h.resolver = identity.NewResolver(h.store, nil)

	var err error
	h.tokens, err = tokens.NewService(tokenConfig(time.Hour))
	require.NoError(t, err)

	var store session.Store
	if withStore {
		store = session.NewMemoryStore(100, time.Hour)
	}
	h.sessions = session.NewManager(store, h.resolver, time.Hour, nil)
	h.keys = auth.NewKeyManager(h.store.DB(), h.store)
	h.authn = NewAuthenticator(h.tokens, h.sessions, h.keys, nil)
	return h
}

// login returns an access token bound to a new session of the owner
func (h *authHarness) login(t *testing.T) (string, string) {
	t.Helper()
	ctx := context.Background()
	p, err := h.resolver.Resolve(ctx, h.fixture.Owner.ID, h.fixture.Workspace.ID)
	require.NoError(t, err)
	sid, err := h.sessions.Create(ctx, p)
	require.NoError(t, err)
	pair, err := h.tokens.Issue(p, sid)
	require.NoError(t, err)
	return pair.AccessToken, sid
}

// capture returns a handler recording the identity it was called with
func capture(p **identity.Principal, sid *string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*p, _ = contextkeys.GetPrincipal(r.Context())
		*sid = contextkeys.GetSessionID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestAuthenticator_Sources(t *testing.T) {
	h := newAuthHarness(t, true)
	token, sid := h.login(t)

	tests := []struct {
		name  string
		setup func(r *http.Request)
	}{
		{"cookie", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: TokenCookie, Value: token}) }},
		{"bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }},
		{"cookie wins over a bad header", func(r *http.Request) {
			r.AddCookie(&http.Cookie{Name: TokenCookie, Value: token})
			r.Header.Set("Authorization", "Bearer garbage")
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got *identity.Principal
			var gotSID string
			r := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
			tt.setup(r)
			h.authn.Handler(capture(&got, &gotSID)).ServeHTTP(httptest.NewRecorder(), r)

			require.NotNil(t, got)
			assert.Equal(t, h.fixture.Owner.ID, got.ID)
			assert.Equal(t, identity.AuthMethodJWT, got.AuthMethod)
			assert.Equal(t, sid, gotSID)
		})
	}
}

func TestAuthenticator_Failures(t *testing.T) {
	h := newAuthHarness(t, true)
	ctx := context.Background()

	expiring, err := tokens.NewService(tokenConfig(-time.Minute))
	require.NoError(t, err)
	p, err := h.resolver.Resolve(ctx, h.fixture.Owner.ID, h.fixture.Workspace.ID)
	require.NoError(t, err)
	sid, err := h.sessions.Create(ctx, p)
	require.NoError(t, err)
	expired, _, err := expiring.IssueAccessToken(p, sid)
	require.NoError(t, err)

	t.Run("no credentials", func(t *testing.T) {
		_, err := h.authn.Authenticate(httptest.NewRequest(http.MethodGet, "/", nil))
		assert.ErrorIs(t, err, identity.ErrInvalidToken)
	})

	t.Run("expired token", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "Bearer "+expired)
		_, err := h.authn.Authenticate(r)
		assert.Equal(t, identity.CodeTokenExpired, identity.CodeOf(err))
	})

	t.Run("revoked session", func(t *testing.T) {
		token, sid := h.login(t)
		require.NoError(t, h.sessions.Destroy(ctx, sid))
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "Bearer "+token)
		_, err := h.authn.Authenticate(r)
		assert.ErrorIs(t, err, identity.ErrSessionRevoked)
	})

	t.Run("unknown api key", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "Bearer "+auth.KeyPrefix+"bm90LWEta2V5LWF0LWFsbC1idXQtbG9uZy1lbm91Z2g")
		_, err := h.authn.Authenticate(r)
		assert.Equal(t, identity.KindUnauthenticated, identity.KindOf(err))
	})

	t.Run("failure is recorded for the authorizer", func(t *testing.T) {
		var authErr error
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.AddCookie(&http.Cookie{Name: TokenCookie, Value: expired})
		h.authn.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authErr = contextkeys.GetAuthError(r.Context())
		})).ServeHTTP(httptest.NewRecorder(), r)
		assert.Equal(t, identity.CodeTokenExpired, identity.CodeOf(authErr))
	})
}

func TestAuthenticator_WithoutSessionStore(t *testing.T) {
	h := newAuthHarness(t, false)
	token, _ := h.login(t)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	id, err := h.authn.Authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, h.fixture.Owner.ID, id.Principal.ID)
	assert.True(t, id.Principal.IsOrganizationAdmin)

	// the principal is rebuilt from the data model, so a deleted user is gone
	_, err = h.store.DB().Exec(`DELETE FROM workspace_users WHERE user_id = $1`, h.fixture.Owner.ID)
	require.NoError(t, err)
	_, err = h.authn.Authenticate(r)
	assert.Equal(t, identity.KindUnauthenticated, identity.KindOf(err))
}

func TestAuthenticator_APIKey(t *testing.T) {
	h := newAuthHarness(t, true)
	k, plaintext, err := h.keys.Create(context.Background(), h.fixture.Workspace.ID, "ci", []string{identity.PermChatflowsView})
	require.NoError(t, err)

	var keyID string
	var got *identity.Principal
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+plaintext)
	h.authn.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = contextkeys.GetPrincipal(r.Context())
		keyID = contextkeys.GetAPIKeyID(r.Context())
	})).ServeHTTP(httptest.NewRecorder(), r)

	require.NotNil(t, got)
	assert.Equal(t, identity.AuthMethodAPIKey, got.AuthMethod)
	assert.Equal(t, h.fixture.Workspace.ID, got.ActiveWorkspaceID)
	assert.Equal(t, k.ID, keyID)

	disabled := NewAuthenticator(h.tokens, h.sessions, nil, nil)
	_, err = disabled.Authenticate(r)
	assert.ErrorIs(t, err, identity.ErrInvalidToken)
}

func TestWriteUnauthenticated(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		refreshCookie bool
		want          httputil.ErrorResponse
	}{
		{"expired with refresh cookie", identity.ErrTokenExpired, true, httputil.ErrorResponse{Error: identity.CodeTokenExpired, Retry: true}},
		{"expired without refresh cookie", identity.ErrTokenExpired, false, httputil.ErrorResponse{Error: identity.CodeInvalidMissingToken}},
		{"missing token", identity.ErrInvalidToken, true, httputil.ErrorResponse{Error: identity.CodeInvalidMissingToken}},
		{"revoked session", identity.ErrSessionRevoked, true, httputil.ErrorResponse{Error: identity.CodeInvalidMissingToken}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.refreshCookie {
				r.AddCookie(&http.Cookie{Name: RefreshTokenCookie, Value: "rt"})
			}
			w := httptest.NewRecorder()
			WriteUnauthenticated(w, r, tt.err)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			var body httputil.ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.want, body)
		})
	}
}
