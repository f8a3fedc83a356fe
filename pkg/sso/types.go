package sso

import (
	"fmt"
	"strings"
)

// ProviderName identifies a supported identity provider
type ProviderName string

const (
	ProviderAzure  ProviderName = "azure"
	ProviderGoogle ProviderName = "google"
	ProviderAuth0  ProviderName = "auth0"
	ProviderGithub ProviderName = "github"
)

// AllProviders lists every provider in the order they are shown to users
var AllProviders = []ProviderName{ProviderAzure, ProviderGoogle, ProviderAuth0, ProviderGithub}

// ParseProviderName returns the provider called name
func ParseProviderName(name string) (ProviderName, error) {
	for _, p := range AllProviders {
		if string(p) == strings.ToLower(strings.TrimSpace(name)) {
			return p, nil
		}
	}
	return "", fmt.Errorf("unsupported provider: %q", name)
}

// MaskedSecret replaces client secrets in every config read back by admins.
// Saving a config whose secret is still masked keeps the stored secret.
const MaskedSecret = "****"

// Config is the provider configuration stored, sealed, in a login method.
// TenantID is used by Azure and Domain by Auth0. The URL overrides replace
// the well-known endpoints of a provider.
type Config struct {
	ClientID     string `json:"clientID"`
	ClientSecret string `json:"clientSecret"`
	TenantID     string `json:"tenantID,omitempty"`
	Domain       string `json:"domain,omitempty"`

	IssuerURL string `json:"issuerURL,omitempty"`
	AuthURL   string `json:"authURL,omitempty"`
	TokenURL  string `json:"tokenURL,omitempty"`
	APIURL    string `json:"apiURL,omitempty"`
}

// Validate checks that the fields name needs are set
func (c Config) Validate(name ProviderName) error {
	if c.ClientID == "" {
		return fmt.Errorf("clientID is required")
	}
	if c.ClientSecret == "" || isMasked(c.ClientSecret) {
		return fmt.Errorf("clientSecret is required")
	}
	switch name {
	case ProviderAzure:
		if c.TenantID == "" && c.IssuerURL == "" {
			return fmt.Errorf("tenantID is required")
		}
	case ProviderAuth0:
		if c.Domain == "" && c.IssuerURL == "" {
			return fmt.Errorf("domain is required")
		}
	case ProviderGoogle, ProviderGithub:
	default:
		return fmt.Errorf("unsupported provider: %q", name)
	}
	return nil
}

// Masked returns a copy safe to send to clients
func (c Config) Masked() Config {
	if c.ClientSecret != "" {
		c.ClientSecret = MaskedSecret
	}
	return c
}

// withStoredSecret keeps the stored secret when the incoming one is empty
// or a mask
func (c Config) withStoredSecret(stored Config) Config {
	if isMasked(c.ClientSecret) && stored.ClientSecret != "" {
		c.ClientSecret = stored.ClientSecret
	}
	return c
}

func isMasked(secret string) bool {
	return strings.Trim(secret, "*") == ""
}

// Profile is the identity an external provider vouched for
type Profile struct {
	Provider   ProviderName      `json:"provider"`
	ExternalID string            `json:"externalId"`
	Email      string            `json:"email"`
	Name       string            `json:"name"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// MethodInput creates or updates one login method
type MethodInput struct {
	ProviderName string `json:"providerName"`
	Status       string `json:"status"`
	Config       Config `json:"config"`
}

// MethodView is a login method as shown to administrators
type MethodView struct {
	ID           string `json:"id"`
	ProviderName string `json:"providerName"`
	Status       string `json:"status"`
	Config       Config `json:"config"`
}
