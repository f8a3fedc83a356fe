// Package config loads keystone's configuration from environment variables.
//
// Every variable carries the KEYSTONE_ prefix and has a default except the
// token secrets. LoadConfig reads all groups and runs Validate.
//
// Server settings:
//
//	KEYSTONE_HOST="0.0.0.0"
//	KEYSTONE_PORT="8080"
//	KEYSTONE_HEALTH_PORT=""            # empty serves probes on KEYSTONE_PORT
//	KEYSTONE_APP_URL="http://localhost:3000"
//	KEYSTONE_BASE_URL="http://localhost:8080"
//	KEYSTONE_SECURE_COOKIES="false"
//	KEYSTONE_CORS_ORIGINS="https://app.example.com"
//
// Storage settings:
//
//	KEYSTONE_DB_DRIVER="postgres"      # postgres, sqlite3
//	KEYSTONE_DATABASE_URL="postgres://localhost/keystone?sslmode=disable"
//	KEYSTONE_DB_AUTO_MIGRATE="true"
//	KEYSTONE_REDIS_URL="redis://localhost:6379"
//
// Auth and session settings:
//
//	KEYSTONE_PLATFORM="self-hosted"    # self-hosted, hosted-multi-tenant, enterprise-multi-org
//	KEYSTONE_JWT_AUTH_TOKEN_SECRET=...
//	KEYSTONE_JWT_REFRESH_TOKEN_SECRET=...
//	KEYSTONE_TOKEN_HASH_SECRET=...
//	KEYSTONE_JWT_TOKEN_EXPIRY="60m"
//	KEYSTONE_JWT_REFRESH_TOKEN_EXPIRY="129600m"
//	KEYSTONE_SESSION_BACKEND="sql"     # memory, redis, sql, none
//	KEYSTONE_EXPIRE_TOKENS_ON_RESTART="false"
//	KEYSTONE_LOGIN_ACTIVITY_RETENTION="2160h"  # enterprise; empty keeps everything
//
// WebSocket settings:
//
//	KEYSTONE_WS_MAX_CONNECTIONS="1000"
//	KEYSTONE_WS_MAX_CONNECTIONS_PER_USER="10"
//	KEYSTONE_WS_MESSAGE_RATE_LIMIT="100"
//	KEYSTONE_WS_MESSAGE_RATE_WINDOW="1s"
//	KEYSTONE_WS_MAX_MESSAGE_SIZE="1048576"
//	KEYSTONE_WS_STALE_TIMEOUT="1h"
//
// Observability settings:
//
//	KEYSTONE_LOG_LEVEL="info"          # debug, info, warn, error
//	KEYSTONE_METRICS_ENABLED="true"
//	KEYSTONE_OTEL_ENABLED="true"
//	KEYSTONE_OTEL_ENDPOINT="otel-collector:4317"
package config
