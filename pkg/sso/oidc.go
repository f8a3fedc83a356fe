package sso

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// oidcProvider signs users in with OpenID Connect. Azure, Google and Auth0
// differ only in their issuer.
type oidcProvider struct {
	endpoints
	cfg    Config
	client *http.Client

	mu       sync.RWMutex
	provider *oidc.Provider
	verifier *oidc.IDTokenVerifier
	oauth2   *oauth2.Config
}

func newOIDCProvider(paths endpoints, cfg Config, client *http.Client) *oidcProvider {
	return &oidcProvider{endpoints: paths, cfg: cfg, client: client}
}

func (p *oidcProvider) issuer() string {
	if p.cfg.IssuerURL != "" {
		return p.cfg.IssuerURL
	}
	switch p.name {
	case ProviderAzure:
		return "https://login.microsoftonline.com/" + p.cfg.TenantID + "/v2.0"
	case ProviderAuth0:
		domain := strings.TrimPrefix(strings.TrimRight(p.cfg.Domain, "/"), "https://")
		return "https://" + domain + "/"
	default:
		return "https://accounts.google.com"
	}
}

// Initialize runs OIDC discovery against the issuer
func (p *oidcProvider) Initialize(ctx context.Context) error {
	provider, err := oidc.NewProvider(withClient(ctx, p.client), p.issuer())
	if err != nil {
		return fmt.Errorf("failed to discover %s: %w", p.name, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.provider = provider
	p.verifier = provider.Verifier(&oidc.Config{ClientID: p.cfg.ClientID})
	p.oauth2 = &oauth2.Config{
		ClientID:     p.cfg.ClientID,
		ClientSecret: p.cfg.ClientSecret,
		Endpoint:     provider.Endpoint(),
		RedirectURL:  p.redirectURL(),
		Scopes:       []string{oidc.ScopeOpenID, "profile", "email", oidc.ScopeOfflineAccess},
	}
	return nil
}

func (p *oidcProvider) state() (*oidc.Provider, *oidc.IDTokenVerifier, *oauth2.Config, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.provider == nil {
		return nil, nil, nil, ErrNotInitialized
	}
	return p.provider, p.verifier, p.oauth2, nil
}

func (p *oidcProvider) AuthCodeURL(state string) string {
	_, _, conf, err := p.state()
	if err != nil {
		return ""
	}
	return conf.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// Exchange trades the code for tokens, verifies the ID token and maps its
// claims. The userinfo endpoint fills in a missing email.
func (p *oidcProvider) Exchange(ctx context.Context, code string) (*Profile, *oauth2.Token, error) {
	provider, verifier, conf, err := p.state()
	if err != nil {
		return nil, nil, err
	}
	if code == "" {
		return nil, nil, fmt.Errorf("missing authorization code")
	}
	ctx = withClient(ctx, p.client)

	token, err := conf.Exchange(ctx, code)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to exchange token: %w", err)
	}
	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return nil, nil, fmt.Errorf("missing id_token in response")
	}
	idToken, err := verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to verify ID token: %w", err)
	}

	var claims map[string]any
	if err := idToken.Claims(&claims); err != nil {
		return nil, nil, fmt.Errorf("failed to parse claims: %w", err)
	}

	profile := &Profile{
		Provider:   p.name,
		ExternalID: idToken.Subject,
		Email:      getStringValue(claims, "email", "preferred_username", "upn"),
		Name:       getStringValue(claims, "name", "nickname"),
		Attributes: stringAttributes(claims),
	}

	if profile.Email == "" {
		if info, err := provider.UserInfo(ctx, oauth2.StaticTokenSource(token)); err == nil {
			profile.Email = info.Email
		}
	}
	if profile.Email == "" {
		return nil, nil, fmt.Errorf("missing email in %s ID token", p.name)
	}
	if profile.Name == "" {
		profile.Name = strings.SplitN(profile.Email, "@", 2)[0]
	}
	return profile, token, nil
}

func (p *oidcProvider) RefreshToken(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	_, _, conf, err := p.state()
	if err != nil {
		return nil, err
	}
	token, err := conf.TokenSource(withClient(ctx, p.client), &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, fmt.Errorf("failed to refresh %s token: %w", p.name, err)
	}
	return token, nil
}

// TestSetup runs discovery and then checks the client credentials at the
// token endpoint
func (p *oidcProvider) TestSetup(ctx context.Context) error {
	if err := p.Initialize(ctx); err != nil {
		return err
	}
	_, _, conf, err := p.state()
	if err != nil {
		return err
	}
	return probeCredentials(withClient(ctx, p.client), conf)
}
