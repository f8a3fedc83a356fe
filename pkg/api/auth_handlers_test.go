package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/keystone/pkg/accounts"
	"github.com/platinummonkey/keystone/pkg/httputil"
	"github.com/platinummonkey/keystone/pkg/identity"
	"github.com/platinummonkey/keystone/pkg/middleware"
	"github.com/platinummonkey/keystone/pkg/tokens"
)

func TestAuth_RegisterLoginLogout(t *testing.T) {
	h := newAPIHarness(t)

	rec := h.do(t, http.MethodPost, "/api/v1/auth/resolve", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var redirect map[string]string
	decode(t, rec, &redirect)
	assert.Equal(t, "/organization-setup", redirect["redirectUrl"])

	account := h.registerOwner(t)
	assert.Equal(t, "owner@example.com", account.User.Email)

	rec = h.do(t, http.MethodPost, "/api/v1/auth/resolve", nil)
	decode(t, rec, &redirect)
	assert.Equal(t, "/signin", redirect["redirectUrl"])

	rec = h.do(t, http.MethodPost, "/api/v1/auth/register", accounts.RegisterInput{
		Name:     "Second",
		Email:    "second@example.com",
		Password: ownerPassword,
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, identity.CodeOrganizationExists, errorCode(t, rec))

	rec = h.do(t, http.MethodPost, "/api/v1/auth/login", accounts.LoginInput{Email: "owner@example.com", Password: "Wrong-password-1"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, identity.CodeIncorrectCredentials, errorCode(t, rec))

	rec = h.do(t, http.MethodPost, "/api/v1/auth/login", accounts.LoginInput{Email: "OWNER@example.com", Password: ownerPassword})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	cookies := rec.Result().Cookies()
	access := cookieNamed(cookies, middleware.TokenCookie)
	require.NotNil(t, access)
	assert.True(t, access.HttpOnly)
	require.NotNil(t, cookieNamed(cookies, middleware.RefreshTokenCookie))

	var body map[string]any
	decode(t, rec, &body)
	assert.Equal(t, account.User.ID, body["id"])
	assert.Equal(t, true, body["isOrganizationAdmin"])
	assert.NotContains(t, body, "sso")

	rec = h.do(t, http.MethodGet, "/api/v1/auth/me", nil, cookies...)
	require.Equal(t, http.StatusOK, rec.Code)
	var me identity.Principal
	decode(t, rec, &me)
	assert.Equal(t, account.Workspace.ID, me.ActiveWorkspaceID)
	assert.Equal(t, identity.AuthMethodJWT, me.AuthMethod)

	rec = h.do(t, http.MethodGet, "/api/v1/auth/me", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(t, http.MethodPost, "/api/v1/auth/logout", nil, cookies...)
	require.Equal(t, http.StatusOK, rec.Code)
	cleared := cookieNamed(rec.Result().Cookies(), middleware.TokenCookie)
	require.NotNil(t, cleared)
	assert.Empty(t, cleared.Value)
	assert.Negative(t, cleared.MaxAge)

	// the old token is bound to a session that no longer exists
	rec = h.do(t, http.MethodGet, "/api/v1/auth/me", nil, cookies...)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = h.do(t, http.MethodPost, "/api/v1/auth/refreshToken", nil, cookies...)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuth_Refresh(t *testing.T) {
	h := newAPIHarness(t)
	h.registerOwner(t)
	cookies := h.login(t, "owner@example.com", ownerPassword)

	rec := h.do(t, http.MethodPost, "/api/v1/auth/refreshToken", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, identity.CodeInvalidMissingToken, errorCode(t, rec))

	refresh := cookieNamed(cookies, middleware.RefreshTokenCookie)
	rec = h.do(t, http.MethodPost, "/api/v1/auth/refreshToken", nil, refresh)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	access := cookieNamed(rec.Result().Cookies(), middleware.TokenCookie)
	require.NotNil(t, access)

	rec = h.do(t, http.MethodGet, "/api/v1/auth/me", nil, access)
	assert.Equal(t, http.StatusOK, rec.Code)
}

// expiredTokens mints tokens with the harness secrets that are already past
// their expiry
func expiredTokens(t *testing.T, h *apiHarness) (*tokens.Pair, *http.Cookie, *http.Cookie) {
	t.Helper()
	account := h.registerOwner(t)
	ctx := context.Background()

	p, err := h.resolver.Resolve(ctx, account.User.ID, account.Workspace.ID)
	require.NoError(t, err)
	sid, err := h.sessions.Create(ctx, p)
	require.NoError(t, err)

	stale, err := tokens.NewService(tokenConfig(-time.Minute, -time.Minute))
	require.NoError(t, err)
	pair, err := stale.Issue(p, sid)
	require.NoError(t, err)
	return pair,
		&http.Cookie{Name: middleware.TokenCookie, Value: pair.AccessToken},
		&http.Cookie{Name: middleware.RefreshTokenCookie, Value: pair.RefreshToken}
}

func TestAuth_ExpiredAccessToken(t *testing.T) {
	h := newAPIHarness(t)
	_, access, refresh := expiredTokens(t, h)

	rec := h.do(t, http.MethodGet, "/api/v1/auth/me", nil, access, refresh)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	var body httputil.ErrorResponse
	decode(t, rec, &body)
	assert.Equal(t, identity.CodeTokenExpired, body.Error)
	assert.True(t, body.Retry)

	// without a refresh token there is nothing to retry with
	rec = h.do(t, http.MethodGet, "/api/v1/auth/me", nil, access)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	decode(t, rec, &body)
	assert.Equal(t, identity.CodeInvalidMissingToken, body.Error)
	assert.False(t, body.Retry)
}

func TestAuth_ExpiredRefreshToken(t *testing.T) {
	h := newAPIHarness(t)
	_, _, refresh := expiredTokens(t, h)

	rec := h.do(t, http.MethodPost, "/api/v1/auth/refreshToken", nil, refresh)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, identity.CodeRefreshTokenExpired, errorCode(t, rec))

	cleared := cookieNamed(rec.Result().Cookies(), middleware.RefreshTokenCookie)
	require.NotNil(t, cleared)
	assert.Empty(t, cleared.Value)
}

func TestAuth_ForgotAndResetPassword(t *testing.T) {
	h := newAPIHarness(t)
	h.registerOwner(t)
	cookies := h.login(t, "owner@example.com", ownerPassword)
	ctx := context.Background()

	// unknown addresses get the same answer
	rec := h.do(t, http.MethodPost, "/api/v1/auth/forgot-password", emailRequest{Email: "nobody@example.com"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodPost, "/api/v1/auth/forgot-password", emailRequest{Email: "owner@example.com"})
	require.Equal(t, http.StatusOK, rec.Code)
	user, err := h.store.GetUserByEmail(ctx, "owner@example.com")
	require.NoError(t, err)
	require.NotEmpty(t, user.TempToken)

	rec = h.do(t, http.MethodPost, "/api/v1/auth/reset-password", accounts.ResetPasswordInput{
		Email:     "owner@example.com",
		TempToken: "not-the-token",
		Password:  "Brand-new-pass-2",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, identity.CodeInvalidTempToken, errorCode(t, rec))

	rec = h.do(t, http.MethodPost, "/api/v1/auth/reset-password", accounts.ResetPasswordInput{
		Email:     "owner@example.com",
		TempToken: user.TempToken,
		Password:  "Brand-new-pass-2",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), user.TempToken)

	// sessions issued before the reset are revoked
	rec = h.do(t, http.MethodGet, "/api/v1/auth/me", nil, cookies...)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(t, http.MethodPost, "/api/v1/auth/login", accounts.LoginInput{Email: "owner@example.com", Password: ownerPassword})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	h.login(t, "owner@example.com", "Brand-new-pass-2")
}

func TestAuth_InvalidBody(t *testing.T) {
	h := newAPIHarness(t)
	rec := h.do(t, http.MethodPost, "/api/v1/auth/register", accounts.RegisterInput{
		Name:     "Owner",
		Email:    "not-an-email",
		Password: ownerPassword,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, identity.CodeInvalidInput, errorCode(t, rec))

	rec = h.do(t, http.MethodPost, "/api/v1/auth/verify", tempTokenRequest{TempToken: "unknown"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
