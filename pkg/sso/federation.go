package sso

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/keystone/pkg/accounts"
	"github.com/platinummonkey/keystone/pkg/audit"
	"github.com/platinummonkey/keystone/pkg/identity"
	"github.com/platinummonkey/keystone/pkg/tokens"
)

const defaultHTTPTimeout = 15 * time.Second

// Accounts is the part of account provisioning a federated login needs
type Accounts interface {
	Platform() identity.Platform
	RegisterFederated(ctx context.Context, name, email string) (*accounts.Account, error)
	CompleteInvite(ctx context.Context, userID, name string) error
	EnterWorkspace(ctx context.Context, userID, workspaceID string) (*identity.Principal, error)
	RecordActivity(ctx context.Context, username string, code audit.ActivityCode, mode, ip string)
}

// Options configures a Federation
type Options struct {
	Store    identity.Store
	Accounts Accounts
	Storage  *Storage

	// BaseURL is the public address provider callbacks are registered under
	BaseURL string

	// OrganizationID selects whose login methods are served. Empty serves the
	// global methods.
	OrganizationID string

	HTTPClient *http.Client
	Logger     *logrus.Logger
}

// Federation runs the enabled identity providers of a deployment and turns
// their verified identities into local principals
type Federation struct {
	store    identity.Store
	accounts Accounts
	storage  *Storage
	baseURL  string
	orgID    string
	client   *http.Client
	logger   *logrus.Logger

	mu        sync.RWMutex
	providers map[ProviderName]Provider
}

var _ tokens.FederatedRefresher = (*Federation)(nil)

// NewFederation creates a federation with no providers loaded
func NewFederation(opts Options) (*Federation, error) {
	if opts.Store == nil || opts.Accounts == nil || opts.Storage == nil {
		return nil, fmt.Errorf("store, accounts and storage are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &Federation{
		store:     opts.Store,
		accounts:  opts.Accounts,
		storage:   opts.Storage,
		baseURL:   opts.BaseURL,
		orgID:     opts.OrganizationID,
		client:    client,
		logger:    logger,
		providers: make(map[ProviderName]Provider),
	}, nil
}

// Scope is the organization id login methods are read from and saved to
func (f *Federation) Scope() *string {
	if f.orgID == "" {
		return nil
	}
	id := f.orgID
	return &id
}

// Initialize loads every enabled login method
func (f *Federation) Initialize(ctx context.Context) error {
	return f.Reload(ctx)
}

// Reload replaces the running providers with the enabled login methods. A
// provider that fails to initialize is logged and left out.
func (f *Federation) Reload(ctx context.Context) error {
	methods, err := f.storage.ListEnabled(ctx, f.Scope())
	if err != nil {
		return err
	}

	var (
		mu     sync.Mutex
		loaded = make(map[ProviderName]Provider, len(methods))
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, m := range methods {
		m := m
		g.Go(func() error {
			p, err := f.load(gctx, m)
			if err != nil {
				f.logger.WithError(err).WithField("provider", m.Name).Error("Failed to initialize SSO provider")
				return nil
			}
			mu.Lock()
			loaded[p.Name()] = p
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	f.mu.Lock()
	f.providers = loaded
	f.mu.Unlock()
	f.logger.WithField("providers", len(loaded)).Info("SSO providers loaded")
	return nil
}

func (f *Federation) load(ctx context.Context, m *identity.LoginMethod) (Provider, error) {
	name, err := ParseProviderName(m.Name)
	if err != nil {
		return nil, err
	}
	cfg, err := f.storage.Decrypt(m)
	if err != nil {
		return nil, err
	}
	p, err := NewProvider(name, cfg, f.baseURL, f.client)
	if err != nil {
		return nil, err
	}
	if err := p.Initialize(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

// Provider returns the running provider called name
func (f *Federation) Provider(name ProviderName) (Provider, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	p, ok := f.providers[name]
	return p, ok
}

// Enabled lists the running providers in display order
func (f *Federation) Enabled() []ProviderName {
	f.mu.RLock()
	defer f.mu.RUnlock()
	names := make([]ProviderName, 0, len(f.providers))
	for _, name := range AllProviders {
		if _, ok := f.providers[name]; ok {
			names = append(names, name)
		}
	}
	return names
}

// TestSetup probes a provider config without saving or running it
func (f *Federation) TestSetup(ctx context.Context, name ProviderName, cfg Config) error {
	p, err := NewProvider(name, cfg, f.baseURL, f.client)
	if err != nil {
		return err
	}
	return p.TestSetup(ctx)
}

// Refresh renews the upstream tokens of a federated principal. The refresh
// token is kept when the provider does not rotate it.
func (f *Federation) Refresh(ctx context.Context, ft *identity.FederatedTokens) (*identity.FederatedTokens, error) {
	if ft == nil || ft.RefreshToken == "" {
		return ft, nil
	}
	p, ok := f.Provider(ProviderName(ft.Provider))
	if !ok {
		return nil, fmt.Errorf("sso provider %q is not enabled", ft.Provider)
	}
	tok, err := p.RefreshToken(ctx, ft.RefreshToken)
	if err != nil {
		f.logger.WithError(err).WithField("provider", ft.Provider).Warn("Failed to refresh federated token")
		return nil, err
	}
	return federatedTokens(p.Name(), tok, ft.RefreshToken), nil
}

func federatedTokens(name ProviderName, tok *oauth2.Token, previousRefresh string) *identity.FederatedTokens {
	ft := &identity.FederatedTokens{
		Provider:     string(name),
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
	}
	if ft.RefreshToken == "" {
		ft.RefreshToken = previousRefresh
	}
	return ft
}
