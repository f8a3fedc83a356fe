package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/keystone/pkg/gateway"
	"github.com/platinummonkey/keystone/pkg/identity"
	"github.com/platinummonkey/keystone/pkg/middleware"
	"github.com/platinummonkey/keystone/pkg/observability"
	"github.com/platinummonkey/keystone/pkg/session"
	"github.com/platinummonkey/keystone/pkg/storage"
	"github.com/platinummonkey/keystone/pkg/tokens"
)

// Config holds all application configuration
type Config struct {
	Server ServerConfig

	// Storage holds the database and Redis connection settings
	Storage storage.Config

	Auth      AuthConfig
	Session   SessionConfig
	WebSocket WebSocketConfig
	RateLimit RateLimitConfig
	SSO       SSOConfig

	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// HealthPort serves /healthz and /metrics separately for k8s probes.
	// Empty serves them on Port.
	HealthPort string

	// AppURL is the web client address used in mail links and redirects
	AppURL string
	// BaseURL is the public address of this server, used for provider callbacks
	BaseURL       string
	SecureCookies bool
	CORSOrigins   []string
	MaxBodyBytes  int64
}

// AuthConfig holds credential and token settings
type AuthConfig struct {
	Platform identity.Platform

	AccessSecret  string
	RefreshSecret string
	// MetaSecret seals the user and workspace binding inside tokens
	MetaSecret string
	Audience   string
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration

	BcryptCost int
	InviteTTL  time.Duration
	ResetTTL   time.Duration

	// ExpireTokensOnRestart accepts that a restart logs everybody out, which
	// is what the in-memory session backend implies
	ExpireTokensOnRestart bool

	// ActivityRetention bounds how long login activity is kept; 0 keeps it
	ActivityRetention time.Duration
}

// TokenConfig returns the token service settings
func (a AuthConfig) TokenConfig() tokens.Config {
	return tokens.Config{
		AccessSecret:  a.AccessSecret,
		RefreshSecret: a.RefreshSecret,
		MetaSecret:    a.MetaSecret,
		Audience:      a.Audience,
		Issuer:        a.Issuer,
		AccessTTL:     a.AccessTTL,
		RefreshTTL:    a.RefreshTTL,
	}
}

// SessionConfig selects the session backend
type SessionConfig struct {
	Backend        string
	MemoryCapacity int
	SweepSchedule  string
	ScanBatchSize  int64
}

// WebSocketConfig holds the gateway limits
type WebSocketConfig struct {
	Gateway gateway.Config
	// DistributedRateLimit shares the per-user message window through Redis
	DistributedRateLimit bool
}

// RateLimitConfig guards the credential endpoints
type RateLimitConfig struct {
	RequestsPerWindow int
	Window            time.Duration
	Burst             int
	// Distributed uses a Redis fixed window shared across instances
	Distributed bool
}

// Limits returns the middleware form of the limits
func (r RateLimitConfig) Limits() *middleware.RateLimitConfig {
	return &middleware.RateLimitConfig{
		RequestsPerWindow: r.RequestsPerWindow,
		WindowDuration:    r.Window,
		BurstSize:         r.Burst,
	}
}

// SSOConfig holds identity provider federation settings
type SSOConfig struct {
	Enabled bool
	// ConfigSecret seals stored provider credentials
	ConfigSecret string
	// OrganizationID scopes the served login methods; empty serves the
	// global ones
	OrganizationID string
	HandoffTTL     time.Duration
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel observability.LogLevel

	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
	OTelSampleRatio    float64
}

// OTelConfig returns the OpenTelemetry setup settings
func (o ObservabilityConfig) OTelConfig() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        o.OTelEnabled,
		Endpoint:       o.OTelEndpoint,
		ServiceName:    o.OTelServiceName,
		ServiceVersion: o.OTelServiceVersion,
		Insecure:       o.OTelInsecure,
		SampleRatio:    o.OTelSampleRatio,
	}
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Auth:          loadAuthConfig(),
		Session:       loadSessionConfig(),
		WebSocket:     loadWebSocketConfig(),
		RateLimit:     loadRateLimitConfig(),
		SSO:           loadSSOConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("KEYSTONE_HOST", "0.0.0.0"),
		Port:            getEnv("KEYSTONE_PORT", "8080"),
		ReadTimeout:     getEnvDuration("KEYSTONE_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("KEYSTONE_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("KEYSTONE_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("KEYSTONE_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("KEYSTONE_HEALTH_PORT", ""),
		AppURL:          getEnv("KEYSTONE_APP_URL", "http://localhost:3000"),
		BaseURL:         getEnv("KEYSTONE_BASE_URL", "http://localhost:8080"),
		SecureCookies:   getEnvBool("KEYSTONE_SECURE_COOKIES", false),
		CORSOrigins:     getEnvList("KEYSTONE_CORS_ORIGINS"),
		MaxBodyBytes:    getEnvInt64("KEYSTONE_MAX_BODY_BYTES", 1<<20),
	}
}

func loadStorageConfig() storage.Config {
	cfg := storage.DefaultConfig()

	cfg.Driver = getEnv("KEYSTONE_DB_DRIVER", cfg.Driver)
	cfg.DatabaseURL = getEnv("KEYSTONE_DATABASE_URL", cfg.DatabaseURL)
	if maxConns := getEnvInt("KEYSTONE_DB_MAX_CONNS", 0); maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	if minConns := getEnvInt("KEYSTONE_DB_MIN_CONNS", 0); minConns > 0 {
		cfg.MinConns = minConns
	}
	if timeout := getEnvDuration("KEYSTONE_DB_TIMEOUT", 0); timeout > 0 {
		cfg.Timeout = timeout
	}
	cfg.AutoMigrate = getEnvBool("KEYSTONE_DB_AUTO_MIGRATE", cfg.AutoMigrate)

	cfg.RedisURL = getEnv("KEYSTONE_REDIS_URL", "")
	cfg.RedisPassword = getEnv("KEYSTONE_REDIS_PASSWORD", "")
	if redisDB := getEnvInt("KEYSTONE_REDIS_DB", -1); redisDB >= 0 {
		cfg.RedisDB = redisDB
	}
	if redisMaxRetries := getEnvInt("KEYSTONE_REDIS_MAX_RETRIES", 0); redisMaxRetries > 0 {
		cfg.RedisMaxRetries = redisMaxRetries
	}
	if redisPoolSize := getEnvInt("KEYSTONE_REDIS_POOL_SIZE", 0); redisPoolSize > 0 {
		cfg.RedisPoolSize = redisPoolSize
	}

	return cfg
}

func loadAuthConfig() AuthConfig {
	return AuthConfig{
		Platform:              identity.Platform(getEnv("KEYSTONE_PLATFORM", string(identity.PlatformSelfHosted))),
		AccessSecret:          getEnv("KEYSTONE_JWT_AUTH_TOKEN_SECRET", ""),
		RefreshSecret:         getEnv("KEYSTONE_JWT_REFRESH_TOKEN_SECRET", ""),
		MetaSecret:            getEnv("KEYSTONE_TOKEN_HASH_SECRET", ""),
		Audience:              getEnv("KEYSTONE_JWT_AUDIENCE", "AUDIENCE"),
		Issuer:                getEnv("KEYSTONE_JWT_ISSUER", "ISSUER"),
		AccessTTL:             getEnvDuration("KEYSTONE_JWT_TOKEN_EXPIRY", 60*time.Minute),
		RefreshTTL:            getEnvDuration("KEYSTONE_JWT_REFRESH_TOKEN_EXPIRY", 129600*time.Minute),
		BcryptCost:            getEnvInt("KEYSTONE_PASSWORD_SALT_ROUNDS", 10),
		InviteTTL:             getEnvDuration("KEYSTONE_INVITE_TOKEN_EXPIRY", 24*time.Hour),
		ResetTTL:              getEnvDuration("KEYSTONE_PASSWORD_RESET_TOKEN_EXPIRY", 15*time.Minute),
		ExpireTokensOnRestart: getEnvBool("KEYSTONE_EXPIRE_TOKENS_ON_RESTART", false),
		ActivityRetention:     getEnvDuration("KEYSTONE_LOGIN_ACTIVITY_RETENTION", 0),
	}
}

func loadSessionConfig() SessionConfig {
	return SessionConfig{
		Backend:        getEnv("KEYSTONE_SESSION_BACKEND", session.BackendSQL),
		MemoryCapacity: getEnvInt("KEYSTONE_SESSION_MEMORY_CAPACITY", 10000),
		SweepSchedule:  getEnv("KEYSTONE_SESSION_SWEEP_SCHEDULE", "@every 10m"),
		ScanBatchSize:  getEnvInt64("KEYSTONE_SESSION_SCAN_BATCH", 1000),
	}
}

func loadWebSocketConfig() WebSocketConfig {
	gw := gateway.DefaultConfig()
	gw.MaxConnections = getEnvInt("KEYSTONE_WS_MAX_CONNECTIONS", gw.MaxConnections)
	gw.MaxConnectionsPerUser = getEnvInt("KEYSTONE_WS_MAX_CONNECTIONS_PER_USER", gw.MaxConnectionsPerUser)
	gw.MessageRateLimit = getEnvInt("KEYSTONE_WS_MESSAGE_RATE_LIMIT", gw.MessageRateLimit)
	gw.MessageRateWindow = getEnvDuration("KEYSTONE_WS_MESSAGE_RATE_WINDOW", gw.MessageRateWindow)
	gw.MaxMessageSize = getEnvInt64("KEYSTONE_WS_MAX_MESSAGE_SIZE", gw.MaxMessageSize)
	gw.StaleTimeout = getEnvDuration("KEYSTONE_WS_STALE_TIMEOUT", gw.StaleTimeout)
	gw.CleanupSchedule = getEnv("KEYSTONE_WS_CLEANUP_SCHEDULE", gw.CleanupSchedule)
	gw.AllowedOrigins = getEnvList("KEYSTONE_WS_ALLOWED_ORIGINS")

	return WebSocketConfig{
		Gateway:              gw,
		DistributedRateLimit: getEnvBool("KEYSTONE_WS_DISTRIBUTED_RATE_LIMIT", false),
	}
}

func loadRateLimitConfig() RateLimitConfig {
	def := middleware.DefaultAuthRateLimitConfig()
	return RateLimitConfig{
		RequestsPerWindow: getEnvInt("KEYSTONE_AUTH_RATE_LIMIT", def.RequestsPerWindow),
		Window:            getEnvDuration("KEYSTONE_AUTH_RATE_WINDOW", def.WindowDuration),
		Burst:             getEnvInt("KEYSTONE_AUTH_RATE_BURST", def.BurstSize),
		Distributed:       getEnvBool("KEYSTONE_AUTH_RATE_LIMIT_DISTRIBUTED", false),
	}
}

func loadSSOConfig() SSOConfig {
	return SSOConfig{
		Enabled:        getEnvBool("KEYSTONE_SSO_ENABLED", false),
		ConfigSecret:   getEnv("KEYSTONE_SSO_CONFIG_SECRET", ""),
		OrganizationID: getEnv("KEYSTONE_SSO_ORGANIZATION_ID", ""),
		HandoffTTL:     getEnvDuration("KEYSTONE_SSO_HANDOFF_TTL", 5*time.Minute),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("KEYSTONE_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("KEYSTONE_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("KEYSTONE_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("KEYSTONE_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("KEYSTONE_OTEL_SERVICE_NAME", "keystone"),
		OTelServiceVersion: getEnv("KEYSTONE_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("KEYSTONE_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("KEYSTONE_OTEL_SAMPLE_RATIO", 1),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort != "" && c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if _, err := identity.DialectFor(c.Storage.Driver); err != nil {
		return err
	}
	if c.Storage.DatabaseURL == "" {
		return fmt.Errorf("database URL is required")
	}

	if !c.Auth.Platform.Valid() {
		return fmt.Errorf("invalid platform: %s (must be %s, %s or %s)", c.Auth.Platform,
			identity.PlatformSelfHosted, identity.PlatformHosted, identity.PlatformEnterprise)
	}
	if c.Auth.AccessSecret == "" || c.Auth.RefreshSecret == "" || c.Auth.MetaSecret == "" {
		return fmt.Errorf("token secrets are required")
	}
	if c.Auth.AccessSecret == c.Auth.RefreshSecret {
		return fmt.Errorf("access and refresh token secrets must differ")
	}
	if c.Auth.AccessTTL <= 0 || c.Auth.RefreshTTL <= 0 {
		return fmt.Errorf("token lifetimes must be positive")
	}
	if c.Auth.RefreshTTL < c.Auth.AccessTTL {
		return fmt.Errorf("refresh token lifetime is shorter than the access token lifetime")
	}

	switch c.Session.Backend {
	case session.BackendMemory:
		if !c.Auth.ExpireTokensOnRestart {
			return fmt.Errorf("memory sessions are lost on restart; set KEYSTONE_EXPIRE_TOKENS_ON_RESTART=true or pick another backend")
		}
	case session.BackendRedis:
		if c.Storage.RedisURL == "" {
			return fmt.Errorf("redis URL is required for redis sessions")
		}
	case session.BackendSQL, session.BackendNone:
	default:
		return fmt.Errorf("invalid session backend: %s (must be memory, redis, sql or none)", c.Session.Backend)
	}

	if err := c.WebSocket.Gateway.Validate(); err != nil {
		return fmt.Errorf("websocket: %w", err)
	}
	if c.WebSocket.DistributedRateLimit && c.Storage.RedisURL == "" {
		return fmt.Errorf("redis URL is required for the distributed websocket rate limit")
	}

	if c.RateLimit.RequestsPerWindow <= 0 || c.RateLimit.Window <= 0 {
		return fmt.Errorf("auth rate limit must be positive")
	}
	if c.RateLimit.Distributed && c.Storage.RedisURL == "" {
		return fmt.Errorf("redis URL is required for the distributed auth rate limit")
	}

	if c.SSO.Enabled {
		if c.SSO.ConfigSecret == "" {
			return fmt.Errorf("SSO config secret is required when SSO is enabled")
		}
		if c.SSO.OrganizationID != "" {
			if err := identity.ValidateID("organizationId", c.SSO.OrganizationID); err != nil {
				return err
			}
		}
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated variable, dropping empty entries
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
