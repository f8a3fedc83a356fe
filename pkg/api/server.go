package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/cors"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/platinummonkey/keystone/pkg/accounts"
	"github.com/platinummonkey/keystone/pkg/audit"
	"github.com/platinummonkey/keystone/pkg/auth"
	"github.com/platinummonkey/keystone/pkg/gateway"
	"github.com/platinummonkey/keystone/pkg/httputil"
	"github.com/platinummonkey/keystone/pkg/identity"
	"github.com/platinummonkey/keystone/pkg/middleware"
	"github.com/platinummonkey/keystone/pkg/observability"
	"github.com/platinummonkey/keystone/pkg/session"
	"github.com/platinummonkey/keystone/pkg/sso"
	"github.com/platinummonkey/keystone/pkg/tokens"
)

// APIPrefix is the path prefix of every policy guarded route
const APIPrefix = "/api/v1"

// Config holds the settings of the HTTP surface
type Config struct {
	// AppURL is the address of the web client
	AppURL        string
	SecureCookies bool
	// CORSOrigins lists origins allowed to call the API with credentials
	CORSOrigins []string
	// ServiceName names the server spans; empty disables tracing middleware
	ServiceName  string
	MaxBodyBytes int64
}

// Deps are the collaborators of the server. Keys, Activity, Federation,
// Gateway, Health, Registry and Metrics may be nil, which leaves their
// routes out.
type Deps struct {
	Store    identity.Store
	Accounts *accounts.Service
	Tokens   *tokens.Service
	Sessions *session.Manager
	Keys     *auth.KeyManager
	Activity *audit.DBRecorder

	Federation *sso.Federation
	SSOStorage *sso.Storage
	Handoff    *sso.Handoff

	Gateway *gateway.Gateway

	// Policies defaults to the embedded policy table
	Policies *middleware.PolicyTable
	// RateLimiter guards the credential endpoints; defaults to an in-memory
	// token bucket
	RateLimiter middleware.Limiter

	Health   *observability.HealthChecker
	Registry *prometheus.Registry
	Metrics  *observability.Metrics
	Logger   *observability.Logger
}

// Server is the HTTP API of keystone
type Server struct {
	cfg      Config
	store    identity.Store
	accounts *accounts.Service
	tokens   *tokens.Service
	sessions *session.Manager
	metrics  *observability.Metrics
	logger   *observability.Logger

	router  *mux.Router
	v1      *mux.Router
	handler http.Handler
}

var _ sso.LoginCompleter = (*Server)(nil)

// NewServer assembles the router and its middleware
func NewServer(cfg Config, deps Deps) (*Server, error) {
	if deps.Store == nil || deps.Accounts == nil || deps.Tokens == nil || deps.Sessions == nil {
		return nil, errors.New("store, accounts, tokens and sessions are required")
	}
	if deps.Federation != nil && (deps.SSOStorage == nil || deps.Handoff == nil) {
		return nil, errors.New("federation requires login method storage and a hand-off cache")
	}

	s := &Server{
		cfg:      cfg,
		store:    deps.Store,
		accounts: deps.Accounts,
		tokens:   deps.Tokens,
		sessions: deps.Sessions,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
		router:   mux.NewRouter(),
	}
	if s.logger == nil {
		s.logger = observability.NewNopLogger()
	}

	policies := deps.Policies
	if policies == nil {
		var err error
		if policies, err = middleware.DefaultPolicies(); err != nil {
			return nil, err
		}
	}
	limiter := deps.RateLimiter
	if limiter == nil {
		limiter = middleware.NewRateLimiter(middleware.DefaultAuthRateLimitConfig())
	}

	if cfg.ServiceName != "" {
		s.router.Use(observability.TracingMiddleware(cfg.ServiceName))
	}
	if s.metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(s.metrics))
	}
	if deps.Health != nil {
		observability.RegisterHealthRoutes(s.router, deps.Health)
	}
	if deps.Registry != nil {
		observability.RegisterMetricsEndpoint(s.router, deps.Registry)
	}

	v1 := s.router.PathPrefix(APIPrefix).Subrouter()
	s.v1 = v1
	authn := middleware.NewAuthenticator(deps.Tokens, deps.Sessions, deps.Keys, s.logger)
	v1.Use(authn.Handler, middleware.NewAuthorizer(policies).Handler)

	s.registerAuthRoutes(v1, middleware.NewRateLimitMiddleware(limiter, "auth", s.metrics))
	s.registerOrganizationRoutes(v1)
	if deps.Keys != nil {
		auth.NewHandlers(deps.Keys).RegisterRoutes(v1)
	}
	if deps.Activity != nil {
		audit.NewHandlers(deps.Activity).RegisterRoutes(v1)
	}
	if deps.Federation != nil {
		sso.NewHandlers(deps.Federation, deps.SSOStorage, deps.Handoff, s, cfg.AppURL, cfg.SecureCookies).RegisterRoutes(v1)
	}
	if deps.Gateway != nil {
		deps.Gateway.RegisterRoutes(v1)
	}

	chain := []func(http.Handler) http.Handler{
		corsMiddleware(cfg.CORSOrigins),
		httputil.RequestIDMiddleware(s.logger),
		httputil.LoggingMiddleware,
		httputil.RecoveryMiddleware,
	}
	if cfg.MaxBodyBytes > 0 {
		chain = append(chain, httputil.MaxBytesMiddleware(cfg.MaxBodyBytes))
	}
	s.handler = httputil.Chain(chain...)(s.router)
	return s, nil
}

func corsMiddleware(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", httputil.RequestIDHeader},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	})
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Router exposes the underlying router so callers can mount extra routes
func (s *Server) Router() *mux.Router {
	return s.router
}

// RouteRegistrar is implemented by handler groups that mount themselves
type RouteRegistrar interface {
	RegisterRoutes(router *mux.Router)
}

// Mount registers a handler group under the policy guarded prefix. Routes
// missing from the policy table require an authenticated caller.
func (s *Server) Mount(registrar RouteRegistrar) {
	registrar.RegisterRoutes(s.v1)
}
