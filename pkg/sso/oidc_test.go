package sso

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOIDCProvider_Issuer(t *testing.T) {
	tests := []struct {
		name     ProviderName
		cfg      Config
		expected string
	}{
		{ProviderAzure, Config{TenantID: "tenant-1"}, "https://login.microsoftonline.com/tenant-1/v2.0"},
		{ProviderGoogle, Config{}, "https://accounts.google.com"},
		{ProviderAuth0, Config{Domain: "acme.eu.auth0.com"}, "https://acme.eu.auth0.com/"},
		{ProviderAuth0, Config{Domain: "https://acme.eu.auth0.com/"}, "https://acme.eu.auth0.com/"},
		{ProviderAzure, Config{TenantID: "ignored", IssuerURL: "https://idp.example.com"}, "https://idp.example.com"},
	}
	for _, tt := range tests {
		t.Run(string(tt.name), func(t *testing.T) {
			p := newOIDCProvider(endpoints{name: tt.name}, tt.cfg, nil)
			assert.Equal(t, tt.expected, p.issuer())
		})
	}
}

func TestOIDCProvider_RequiresInitialize(t *testing.T) {
	p, err := NewProvider(ProviderGoogle, Config{ClientID: "id", ClientSecret: "secret"}, testBaseURL, nil)
	require.NoError(t, err)

	_, _, err = p.Exchange(context.Background(), testCode)
	assert.ErrorIs(t, err, ErrNotInitialized)
	_, err = p.RefreshToken(context.Background(), testRefresh)
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.Empty(t, p.AuthCodeURL("state"))
}

func TestOIDCProvider_AuthCodeURL(t *testing.T) {
	idp := newFakeIdP(t)
	p := initializedProvider(t, idp)

	u, err := url.Parse(p.AuthCodeURL("state-123"))
	require.NoError(t, err)
	assert.Equal(t, idp.URL()+"/authorize", u.Scheme+"://"+u.Host+u.Path)

	q := u.Query()
	assert.Equal(t, testClientID, q.Get("client_id"))
	assert.Equal(t, "state-123", q.Get("state"))
	assert.Equal(t, testBaseURL+"/api/v1/google/callback", q.Get("redirect_uri"))
	assert.Contains(t, q.Get("scope"), "openid")
	assert.Contains(t, q.Get("scope"), "email")
}

func TestOIDCProvider_Exchange(t *testing.T) {
	ctx := context.Background()

	t.Run("maps verified claims", func(t *testing.T) {
		idp := newFakeIdP(t)
		p := initializedProvider(t, idp)

		profile, tok, err := p.Exchange(ctx, testCode)
		require.NoError(t, err)
		assert.Equal(t, ProviderGoogle, profile.Provider)
		assert.Equal(t, "subject-1", profile.ExternalID)
		assert.Equal(t, "owner@example.com", profile.Email)
		assert.Equal(t, "Owner", profile.Name)
		assert.Equal(t, "upstream-access", tok.AccessToken)
		assert.Equal(t, testRefresh, tok.RefreshToken)
	})

	t.Run("falls back to userinfo for the email", func(t *testing.T) {
		idp := newFakeIdP(t)
		idp.setUser("", "")
		idp.userinfoEmail = "jane.doe@example.com"
		p := initializedProvider(t, idp)

		profile, _, err := p.Exchange(ctx, testCode)
		require.NoError(t, err)
		assert.Equal(t, "jane.doe@example.com", profile.Email)
		assert.Equal(t, "jane.doe", profile.Name)
	})

	t.Run("no email anywhere", func(t *testing.T) {
		idp := newFakeIdP(t)
		idp.setUser("", "Nobody")
		p := initializedProvider(t, idp)

		_, _, err := p.Exchange(ctx, testCode)
		assert.ErrorContains(t, err, "missing email")
	})

	t.Run("rejected code", func(t *testing.T) {
		idp := newFakeIdP(t)
		p := initializedProvider(t, idp)

		_, _, err := p.Exchange(ctx, "stolen-code")
		assert.ErrorContains(t, err, "failed to exchange token")
		_, _, err = p.Exchange(ctx, "")
		assert.ErrorContains(t, err, "missing authorization code")
	})

	t.Run("ID token signed by another key", func(t *testing.T) {
		idp := newFakeIdP(t)
		other, err := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(t, err)
		idp.signingKey = other
		p := initializedProvider(t, idp)

		_, _, err = p.Exchange(ctx, testCode)
		assert.ErrorContains(t, err, "failed to verify ID token")
	})
}

func TestOIDCProvider_RefreshToken(t *testing.T) {
	idp := newFakeIdP(t)
	p := initializedProvider(t, idp)

	tok, err := p.RefreshToken(context.Background(), testRefresh)
	require.NoError(t, err)
	assert.Equal(t, "upstream-access-2", tok.AccessToken)

	_, err = p.RefreshToken(context.Background(), "revoked")
	assert.Error(t, err)
}

func TestOIDCProvider_TestSetup(t *testing.T) {
	idp := newFakeIdP(t)
	ctx := context.Background()

	good, err := NewProvider(ProviderGoogle, idp.config(), testBaseURL, idp.Client())
	require.NoError(t, err)
	assert.NoError(t, good.TestSetup(ctx))

	cfg := idp.config()
	cfg.ClientSecret = "wrong"
	bad, err := NewProvider(ProviderGoogle, cfg, testBaseURL, idp.Client())
	require.NoError(t, err)
	assert.ErrorContains(t, bad.TestSetup(ctx), "rejected")

	cfg = idp.config()
	cfg.IssuerURL = idp.URL() + "/elsewhere"
	lost, err := NewProvider(ProviderGoogle, cfg, testBaseURL, idp.Client())
	require.NoError(t, err)
	assert.ErrorContains(t, lost.TestSetup(ctx), "failed to discover")
}
