package gateway

import (
	"errors"
	"time"
)

// Config bounds the resources the gateway hands out
type Config struct {
	// MaxConnections caps open sockets across all users
	MaxConnections int
	// MaxConnectionsPerUser caps open sockets of one user
	MaxConnectionsPerUser int
	// MessageRateLimit messages are admitted per MessageRateWindow
	MessageRateLimit  int
	MessageRateWindow time.Duration
	// MaxMessageSize is the largest inbound message in bytes
	MaxMessageSize int64
	// StaleTimeout closes connections without inbound messages for this long
	StaleTimeout time.Duration
	// CleanupSchedule is the cron schedule of the stale connection sweep
	CleanupSchedule string
	// AllowedOrigins lists origins permitted to upgrade; empty means same origin
	AllowedOrigins []string
}

// DefaultConfig returns the default limits
func DefaultConfig() Config {
	return Config{
		MaxConnections:        1000,
		MaxConnectionsPerUser: 10,
		MessageRateLimit:      100,
		MessageRateWindow:     time.Second,
		MaxMessageSize:        1 << 20,
		StaleTimeout:          time.Hour,
		CleanupSchedule:       "@every 1m",
	}
}

// Validate checks the limits are usable
func (c Config) Validate() error {
	if c.MaxConnections <= 0 || c.MaxConnectionsPerUser <= 0 {
		return errors.New("connection limits must be positive")
	}
	if c.MaxConnectionsPerUser > c.MaxConnections {
		return errors.New("per-user connection limit exceeds the global limit")
	}
	if c.MessageRateLimit <= 0 || c.MessageRateWindow <= 0 {
		return errors.New("message rate limit and window must be positive")
	}
	if c.MaxMessageSize <= 0 {
		return errors.New("max message size must be positive")
	}
	if c.StaleTimeout <= 0 {
		return errors.New("stale timeout must be positive")
	}
	return nil
}
