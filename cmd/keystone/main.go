package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/keystone/pkg/accounts"
	"github.com/platinummonkey/keystone/pkg/api"
	"github.com/platinummonkey/keystone/pkg/audit"
	"github.com/platinummonkey/keystone/pkg/auth"
	"github.com/platinummonkey/keystone/pkg/billing"
	"github.com/platinummonkey/keystone/pkg/config"
	"github.com/platinummonkey/keystone/pkg/gateway"
	"github.com/platinummonkey/keystone/pkg/identity"
	"github.com/platinummonkey/keystone/pkg/middleware"
	"github.com/platinummonkey/keystone/pkg/observability"
	"github.com/platinummonkey/keystone/pkg/sealed"
	"github.com/platinummonkey/keystone/pkg/session"
	"github.com/platinummonkey/keystone/pkg/sso"
	"github.com/platinummonkey/keystone/pkg/storage"
	"github.com/platinummonkey/keystone/pkg/tokens"
)

var version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "Print the version and exit")
	migrateOnly := flag.Bool("migrate-only", false, "Apply the schema and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).
		WithField("service", cfg.Observability.OTelServiceName).
		WithField("version", version)

	if err := run(cfg, logger, *migrateOnly); err != nil {
		logger.WithError(err).Error("keystone exited with an error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger, migrateOnly bool) error {
	ctx := context.Background()

	if migrateOnly {
		cfg.Storage.AutoMigrate = true
	}
	db, err := storage.OpenDatabase(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	if cfg.Auth.Platform == identity.PlatformHosted {
		if err := billing.EnsureSchema(ctx, db.DB); err != nil {
			db.Close()
			return err
		}
	}
	if migrateOnly {
		logger.Info("Schema applied")
		return db.Close()
	}

	otelCfg := cfg.Observability.OTelConfig()
	otelCfg.ServiceVersion = version
	otelProviders, err := observability.InitOTel(ctx, otelCfg, logger)
	if err != nil {
		db.Close()
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	redisClient, err := storage.NewRedisClient(ctx, cfg.Storage)
	if err != nil {
		db.Close()
		return err
	}

	var (
		registry *prometheus.Registry
		metrics  *observability.Metrics
	)
	if cfg.Observability.MetricsEnabled {
		registry = defaultRegistry()
		metrics = observability.NewMetrics(registry)
	}

	store := identity.NewSQLStore(db.DB, db.Dialect)

	var (
		plans    billing.Provider
		features identity.FeatureSource
	)
	switch cfg.Auth.Platform {
	case identity.PlatformHosted:
		provider := billing.NewSQLProvider(db.DB)
		plans, features = provider, provider
	case identity.PlatformEnterprise:
		plans, features = billing.Unlimited{}, billing.Unlimited{}
	}
	resolver := identity.NewResolver(store, features)

	var (
		recorder audit.Recorder = audit.NewLogRecorder(logger)
		activity *audit.DBRecorder
	)
	if cfg.Auth.Platform == identity.PlatformEnterprise {
		activity, err = audit.NewDBRecorder(db.DB)
		if err != nil {
			return err
		}
		recorder = audit.Multi{activity, recorder}
	}

	backends := session.Backends{SQL: store}
	if redisClient != nil {
		backends.Redis = redisClient
	}
	sessionStore, err := session.NewStore(session.Config{
		Backend:        cfg.Session.Backend,
		TTL:            cfg.Auth.RefreshTTL,
		MemoryCapacity: cfg.Session.MemoryCapacity,
		SweepSchedule:  cfg.Session.SweepSchedule,
		ScanBatchSize:  cfg.Session.ScanBatchSize,
	}, backends)
	if err != nil {
		return err
	}
	// with backend none the manager resolves every lookup from the database
	sessions := session.NewManager(sessionStore, resolver, cfg.Auth.RefreshTTL, logger)

	tokenService, err := tokens.NewService(cfg.Auth.TokenConfig())
	if err != nil {
		return err
	}
	tokenService.SetSessions(sessions)

	accountDeps := accounts.Deps{
		Store:    store,
		Resolver: resolver,
		Billing:  plans,
		Mailer:   accounts.NewLogMailer(logger),
		Sessions: sessions,
		Audit:    recorder,
		Metrics:  metrics,
		Logger:   logger,
	}
	accountService, err := accounts.NewService(accounts.Config{
		Platform:   cfg.Auth.Platform,
		AppURL:     cfg.Server.AppURL,
		BcryptCost: cfg.Auth.BcryptCost,
		InviteTTL:  cfg.Auth.InviteTTL,
		ResetTTL:   cfg.Auth.ResetTTL,
	}, accountDeps)
	if err != nil {
		return err
	}

	var (
		federation *sso.Federation
		ssoStorage *sso.Storage
		handoff    *sso.Handoff
	)
	if cfg.SSO.Enabled {
		box, err := sealed.New(cfg.SSO.ConfigSecret, "login-methods")
		if err != nil {
			return err
		}
		ssoStorage = sso.NewStorage(db.DB, box)
		federation, err = sso.NewFederation(sso.Options{
			Store:          store,
			Accounts:       accountService,
			Storage:        ssoStorage,
			BaseURL:        cfg.Server.BaseURL,
			OrganizationID: cfg.SSO.OrganizationID,
			HTTPClient:     &http.Client{Timeout: 15 * time.Second},
			Logger:         ssoLogger(cfg.Observability.LogLevel),
		})
		if err != nil {
			return err
		}
		if err := federation.Initialize(ctx); err != nil {
			return fmt.Errorf("failed to initialize SSO: %w", err)
		}
		tokenService.SetFederation(federation)
		handoff = sso.NewHandoff(cfg.SSO.HandoffTTL)
	}

	gwOpts := gateway.Options{Metrics: metrics, Logger: logger.WithField("component", "gateway")}
	if cfg.WebSocket.DistributedRateLimit {
		gwOpts.Limiter = gateway.NewRedisLimiter(redisClient,
			cfg.WebSocket.Gateway.MessageRateLimit, cfg.WebSocket.Gateway.MessageRateWindow)
	}
	gw, err := gateway.New(cfg.WebSocket.Gateway, tokenService, resolver, gwOpts)
	if err != nil {
		return err
	}
	gw.Start()

	var authLimiter middleware.Limiter
	if cfg.RateLimit.Distributed {
		authLimiter = middleware.NewDistributedRateLimiter(redisClient, cfg.RateLimit.Limits(), "")
	} else {
		authLimiter = middleware.NewRateLimiter(cfg.RateLimit.Limits())
	}

	health := observability.NewHealthChecker(db.DB, redisClient, version)

	deps := api.Deps{
		Store:       store,
		Accounts:    accountService,
		Tokens:      tokenService,
		Sessions:    sessions,
		Keys:        auth.NewKeyManager(db.DB, store),
		Activity:    activity,
		Federation:  federation,
		SSOStorage:  ssoStorage,
		Handoff:     handoff,
		Gateway:     gw,
		RateLimiter: authLimiter,
		Metrics:     metrics,
		Logger:      logger,
	}
	// a dedicated health port takes probes and scrapes off the main listener
	if cfg.Server.HealthPort == "" {
		deps.Health = health
		deps.Registry = registry
	}
	server, err := api.NewServer(api.Config{
		AppURL:        cfg.Server.AppURL,
		SecureCookies: cfg.Server.SecureCookies,
		CORSOrigins:   cfg.Server.CORSOrigins,
		ServiceName:   serviceName(cfg),
		MaxBodyBytes:  cfg.Server.MaxBodyBytes,
	}, deps)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	shutdown.Register("database", func(context.Context) error { return db.Close() })
	if redisClient != nil {
		shutdown.Register("redis", func(context.Context) error { return redisClient.Close() })
	}
	shutdown.Register("opentelemetry", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, otelProviders, logger)
	})

	scheduler := cron.New()
	if sweepable, ok := sessionStore.(session.Sweepable); ok {
		sweeper, err := session.NewSweeper(sweepable, cfg.Session.SweepSchedule, logger)
		if err != nil {
			return err
		}
		sweeper.Start()
		shutdown.Register("session sweeper", sweeper.Stop)
	}
	if metrics != nil {
		if _, err := scheduler.AddFunc("@every 15s", func() {
			metrics.RecordDBStats(db.DB.Stats())
		}); err != nil {
			return fmt.Errorf("failed to schedule pool stats: %w", err)
		}
	}
	if activity != nil && cfg.Auth.ActivityRetention > 0 {
		retention := cfg.Auth.ActivityRetention
		if _, err := scheduler.AddFunc("@daily", func() {
			n, err := activity.Cleanup(context.Background(), retention)
			if err != nil {
				logger.WithError(err).Error("Login activity cleanup failed")
				return
			}
			logger.WithField("removed", n).Info("Login activity cleanup complete")
		}); err != nil {
			return fmt.Errorf("failed to schedule login activity cleanup: %w", err)
		}
	}
	scheduler.Start()
	shutdown.Register("scheduler", func(ctx context.Context) error {
		select {
		case <-scheduler.Stop().Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	shutdown.Register("gateway", gw.Shutdown)

	if cfg.Server.HealthPort != "" {
		healthServer := newHealthServer(cfg, health, registry)
		shutdown.Register("health server", healthServer.Shutdown)
		go serve(healthServer, logger.WithField("listener", "health"))
	}

	logger.WithFields(map[string]any{
		"addr":     httpServer.Addr,
		"platform": string(cfg.Auth.Platform),
		"sessions": cfg.Session.Backend,
		"sso":      cfg.SSO.Enabled,
	}).Info("Starting keystone")
	go serve(httpServer, logger)

	return shutdown.WaitForShutdown(ctx)
}

func serve(srv *http.Server, logger *observability.Logger) {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Error("HTTP server failed")
		os.Exit(1)
	}
}

func newHealthServer(cfg *config.Config, health *observability.HealthChecker, registry *prometheus.Registry) *http.Server {
	router := mux.NewRouter()
	observability.RegisterHealthRoutes(router, health)
	if registry != nil {
		observability.RegisterMetricsEndpoint(router, registry)
	}
	return &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// defaultRegistry returns the process registry, which already carries the
// runtime collectors and the session store counters
func defaultRegistry() *prometheus.Registry {
	if registry, ok := prometheus.DefaultRegisterer.(*prometheus.Registry); ok {
		return registry
	}
	return prometheus.NewRegistry()
}

func serviceName(cfg *config.Config) string {
	if !cfg.Observability.OTelEnabled {
		return ""
	}
	return cfg.Observability.OTelServiceName
}

// ssoLogger builds the logrus logger the identity provider clients log through
func ssoLogger(level observability.LogLevel) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetFormatter(&logrus.JSONFormatter{})
	switch level {
	case observability.DebugLevel:
		l.SetLevel(logrus.DebugLevel)
	case observability.WarnLevel:
		l.SetLevel(logrus.WarnLevel)
	case observability.ErrorLevel:
		l.SetLevel(logrus.ErrorLevel)
	default:
		l.SetLevel(logrus.InfoLevel)
	}
	return l
}
