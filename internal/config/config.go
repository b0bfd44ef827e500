package config

import (
	"context"
	"time"
)

// ListenerConfig holds the network settings for the HTTP listener.
type ListenerConfig struct {
	Port              int
	ReadHeaderTimeout time.Duration
}

type contextKey struct{}

// WithContext returns a new context carrying the given Config.
func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, contextKey{}, cfg)
}

// FromContext retrieves the Config from the context.
func FromContext(ctx context.Context) *Config {
	cfg, _ := ctx.Value(contextKey{}).(*Config)
	return cfg
}

// Config holds all configuration for the messaging service. It is built once
// at startup from flags/env and passed explicitly; there is no process-global
// settings object.
type Config struct {
	// Database
	DBURL                   string
	DatastoreType           string // "postgres" or "sqlite"
	DatastoreMigrateAtStart bool
	DBMaxOpenConns          int
	DBMaxIdleConns          int

	// Pagination
	DefaultPageSize int
	MaxPageSize     int

	// Authorization.
	// When OIDCIssuer is set, bearer tokens are verified against the issuer.
	// When JWTSecret is set, bearer tokens are verified as HMAC-signed JWTs.
	// When neither is set, the bearer token is taken as the subject directly
	// (static mode, for tests and trusted gateways).
	OIDCIssuer       string
	OIDCDiscoveryURL string
	JWTSecret        string
	AdminOIDCRole    string
	// AdminUsers is a comma-separated list of subjects (user ids or emails)
	// granted the admin role regardless of their stored role.
	AdminUsers string

	// Rate limiting. Zero disables the middleware.
	RateLimitPerMinute int
	RateLimitBurst     int

	// Notifications
	NotificationRetention     time.Duration
	NotificationSweepInterval time.Duration
	NotificationSweepBatch    int

	// Server
	Listener            ListenerConfig
	ManagementAccessLog bool
	MaxBodySize         int64
	DrainTimeout        int // seconds

	// MetricsLabels is a comma-separated list of key=value pairs added as
	// constant labels to all Prometheus metrics. Values support ${VAR}
	// expansion.
	MetricsLabels string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DatastoreType:           "postgres",
		DatastoreMigrateAtStart: true,
		DBMaxOpenConns:          25,
		DBMaxIdleConns:          5,

		DefaultPageSize: 20,
		MaxPageSize:     100,

		AdminOIDCRole: "admin",

		RateLimitBurst: 20,

		NotificationRetention:     30 * 24 * time.Hour,
		NotificationSweepInterval: time.Hour,
		NotificationSweepBatch:    1000,

		Listener: ListenerConfig{
			Port:              8080,
			ReadHeaderTimeout: 5 * time.Second,
		},
		MaxBodySize:  1 * 1024 * 1024, // 1 MB
		DrainTimeout: 30,
	}
}
