package sso

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
)

// Provider is an external identity provider. Every provider offers the same
// browser flow under /api/v1/{name}/login and /api/v1/{name}/callback.
type Provider interface {
	Name() ProviderName
	LoginPath() string
	CallbackPath() string
	LogoutPath() string

	// Initialize resolves the provider's endpoints. It must succeed before
	// any other call.
	Initialize(ctx context.Context) error

	// AuthCodeURL is where the browser is sent to sign in
	AuthCodeURL(state string) string

	// Exchange trades an authorization code for the signed-in profile
	Exchange(ctx context.Context, code string) (*Profile, *oauth2.Token, error)

	// RefreshToken renews the provider's tokens
	RefreshToken(ctx context.Context, refreshToken string) (*oauth2.Token, error)

	// TestSetup probes the configured credentials without a user
	TestSetup(ctx context.Context) error
}

// ErrNotInitialized is returned by providers used before Initialize
var ErrNotInitialized = errors.New("sso provider is not initialized")

// NewProvider creates the provider called name. baseURL is the public
// address of this service; callbacks are registered under it.
func NewProvider(name ProviderName, cfg Config, baseURL string, client *http.Client) (Provider, error) {
	if err := cfg.Validate(name); err != nil {
		return nil, fmt.Errorf("invalid %s config: %w", name, err)
	}
	paths := endpoints{name: name, baseURL: strings.TrimRight(baseURL, "/")}
	switch name {
	case ProviderGithub:
		return newGithubProvider(paths, cfg, client), nil
	default:
		return newOIDCProvider(paths, cfg, client), nil
	}
}

type endpoints struct {
	name    ProviderName
	baseURL string
}

func (e endpoints) Name() ProviderName {
	return e.name
}

func (e endpoints) LoginPath() string {
	return "/api/v1/" + string(e.name) + "/login"
}

func (e endpoints) CallbackPath() string {
	return "/api/v1/" + string(e.name) + "/callback"
}

func (e endpoints) LogoutPath() string {
	return "/api/v1/" + string(e.name) + "/logout"
}

func (e endpoints) redirectURL() string {
	return e.baseURL + e.CallbackPath()
}

func withClient(ctx context.Context, client *http.Client) context.Context {
	if client == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, client)
}

// setupProbeToken is sent as a refresh token by TestSetup. Token endpoints
// check client credentials before the grant, so a rejected grant proves the
// credentials are good.
const setupProbeToken = "keystone-setup-probe"

var rejectedClientCodes = map[string]bool{
	"invalid_client":               true,
	"unauthorized_client":          true,
	"incorrect_client_credentials": true,
}

func probeCredentials(ctx context.Context, conf *oauth2.Config) error {
	_, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: setupProbeToken}).Token()
	if err == nil {
		return nil
	}
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if rejectedClientCodes[re.ErrorCode] {
			return fmt.Errorf("client credentials were rejected: %s", re.ErrorCode)
		}
		return nil
	}
	return fmt.Errorf("token endpoint is unreachable: %w", err)
}

// Helper functions

func getStringValue(data map[string]any, keys ...string) string {
	for _, key := range keys {
		if val, ok := data[key]; ok {
			if str, ok := val.(string); ok && str != "" {
				return str
			}
		}
	}
	return ""
}

func stringAttributes(data map[string]any) map[string]string {
	attrs := make(map[string]string, len(data))
	for k, v := range data {
		if str, ok := v.(string); ok {
			attrs[k] = str
		}
	}
	return attrs
}
