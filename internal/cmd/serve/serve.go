package serve

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chatstack/messaging-service/internal/config"
	registrystore "github.com/chatstack/messaging-service/internal/registry/store"
	"github.com/gin-gonic/gin"
	"github.com/urfave/cli/v3"

	// Import all plugins to trigger init() registration
	_ "github.com/chatstack/messaging-service/internal/plugin/route/system"
	_ "github.com/chatstack/messaging-service/internal/plugin/store/postgres"
	_ "github.com/chatstack/messaging-service/internal/plugin/store/sqlite"
)

// Command returns the serve sub-command.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	var readHeaderTimeoutSecs int = 5
	var retentionDays int = 30
	var sweepIntervalMins int = 60
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the messaging service HTTP server",
		Flags: flags(&cfg, &readHeaderTimeoutSecs, &retentionDays, &sweepIntervalMins),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg.Listener.ReadHeaderTimeout = time.Duration(readHeaderTimeoutSecs) * time.Second
			cfg.NotificationRetention = time.Duration(retentionDays) * 24 * time.Hour
			cfg.NotificationSweepInterval = time.Duration(sweepIntervalMins) * time.Minute
			return run(config.WithContext(ctx, &cfg), cfg)
		},
	}
}

func flags(cfg *config.Config, readHeaderTimeoutSecs, retentionDays, sweepIntervalMins *int) []cli.Flag {
	return []cli.Flag{

		// ── Server ────────────────────────────────────────────────
		&cli.IntFlag{
			Name:        "port",
			Category:    "Server:",
			Sources:     cli.EnvVars("MESSAGING_SERVICE_PORT"),
			Destination: &cfg.Listener.Port,
			Value:       cfg.Listener.Port,
			Usage:       "HTTP server port",
		},
		&cli.IntFlag{
			Name:        "read-header-timeout-seconds",
			Category:    "Server:",
			Sources:     cli.EnvVars("MESSAGING_SERVICE_READ_HEADER_TIMEOUT_SECONDS"),
			Destination: readHeaderTimeoutSecs,
			Value:       *readHeaderTimeoutSecs,
			Usage:       "HTTP read header timeout in seconds",
		},
		&cli.IntFlag{
			Name:        "drain-timeout-seconds",
			Category:    "Server:",
			Sources:     cli.EnvVars("MESSAGING_SERVICE_DRAIN_TIMEOUT_SECONDS"),
			Destination: &cfg.DrainTimeout,
			Value:       cfg.DrainTimeout,
			Usage:       "Seconds to wait for in-flight requests on shutdown",
		},
		&cli.BoolFlag{
			Name:        "management-access-log",
			Category:    "Server:",
			Sources:     cli.EnvVars("MESSAGING_SERVICE_MANAGEMENT_ACCESS_LOG"),
			Destination: &cfg.ManagementAccessLog,
			Usage:       "Enable HTTP access logging for management endpoints (/health, /ready, /metrics)",
		},

		// ── Database ───────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "db-kind",
			Category:    "Database:",
			Sources:     cli.EnvVars("MESSAGING_SERVICE_DB_KIND"),
			Destination: &cfg.DatastoreType,
			Value:       cfg.DatastoreType,
			Usage:       "Backend store (" + strings.Join(registrystore.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "db-url",
			Category:    "Database:",
			Sources:     cli.EnvVars("MESSAGING_SERVICE_DB_URL"),
			Destination: &cfg.DBURL,
			Usage:       "Database connection URL (file path for sqlite)",
			Required:    true,
		},
		&cli.BoolFlag{
			Name:        "db-migrate-at-start",
			Category:    "Database:",
			Sources:     cli.EnvVars("MESSAGING_SERVICE_DB_MIGRATE_AT_START"),
			Destination: &cfg.DatastoreMigrateAtStart,
			Value:       cfg.DatastoreMigrateAtStart,
			Usage:       "Run schema migrations before serving",
		},
		&cli.IntFlag{
			Name:        "db-max-open-conns",
			Category:    "Database:",
			Sources:     cli.EnvVars("MESSAGING_SERVICE_DB_MAX_OPEN_CONNS"),
			Destination: &cfg.DBMaxOpenConns,
			Value:       cfg.DBMaxOpenConns,
			Usage:       "Maximum number of open database connections",
		},
		&cli.IntFlag{
			Name:        "db-max-idle-conns",
			Category:    "Database:",
			Sources:     cli.EnvVars("MESSAGING_SERVICE_DB_MAX_IDLE_CONNS"),
			Destination: &cfg.DBMaxIdleConns,
			Value:       cfg.DBMaxIdleConns,
			Usage:       "Maximum number of idle database connections",
		},

		// ── Pagination ────────────────────────────────────────────
		&cli.IntFlag{
			Name:        "page-size-default",
			Category:    "Pagination:",
			Sources:     cli.EnvVars("MESSAGING_SERVICE_PAGE_SIZE_DEFAULT"),
			Destination: &cfg.DefaultPageSize,
			Value:       cfg.DefaultPageSize,
			Usage:       "Default page size for listings",
		},
		&cli.IntFlag{
			Name:        "page-size-max",
			Category:    "Pagination:",
			Sources:     cli.EnvVars("MESSAGING_SERVICE_PAGE_SIZE_MAX"),
			Destination: &cfg.MaxPageSize,
			Value:       cfg.MaxPageSize,
			Usage:       "Maximum page size a client may request",
		},

		// ── Authorization ─────────────────────────────────────────
		&cli.StringFlag{
			Name:        "oidc-issuer",
			Category:    "Authorization:",
			Sources:     cli.EnvVars("MESSAGING_SERVICE_OIDC_ISSUER"),
			Destination: &cfg.OIDCIssuer,
			Usage:       "OIDC issuer URL (enables OIDC auth)",
		},
		&cli.StringFlag{
			Name:        "oidc-discovery-url",
			Category:    "Authorization:",
			Sources:     cli.EnvVars("MESSAGING_SERVICE_OIDC_DISCOVERY_URL"),
			Destination: &cfg.OIDCDiscoveryURL,
			Usage:       "OIDC discovery URL (internal URL when issuer is not directly reachable)",
		},
		&cli.StringFlag{
			Name:        "jwt-secret",
			Category:    "Authorization:",
			Sources:     cli.EnvVars("MESSAGING_SERVICE_JWT_SECRET"),
			Destination: &cfg.JWTSecret,
			Usage:       "HMAC secret for JWT bearer tokens (enables JWT auth without OIDC)",
		},
		&cli.StringFlag{
			Name:        "roles-admin-oidc-role",
			Category:    "Authorization:",
			Sources:     cli.EnvVars("MESSAGING_SERVICE_ROLES_ADMIN_OIDC_ROLE"),
			Destination: &cfg.AdminOIDCRole,
			Value:       cfg.AdminOIDCRole,
			Usage:       "Token role name that maps to admin permissions",
		},
		&cli.StringFlag{
			Name:        "roles-admin-users",
			Category:    "Authorization:",
			Sources:     cli.EnvVars("MESSAGING_SERVICE_ROLES_ADMIN_USERS"),
			Destination: &cfg.AdminUsers,
			Usage:       "Comma-separated user IDs or emails with admin permissions",
		},

		// ── Rate Limiting ─────────────────────────────────────────
		&cli.IntFlag{
			Name:        "rate-limit-per-minute",
			Category:    "Rate Limiting:",
			Sources:     cli.EnvVars("MESSAGING_SERVICE_RATE_LIMIT_PER_MINUTE"),
			Destination: &cfg.RateLimitPerMinute,
			Value:       cfg.RateLimitPerMinute,
			Usage:       "Requests per minute allowed per caller (0 = unlimited)",
		},
		&cli.IntFlag{
			Name:        "rate-limit-burst",
			Category:    "Rate Limiting:",
			Sources:     cli.EnvVars("MESSAGING_SERVICE_RATE_LIMIT_BURST"),
			Destination: &cfg.RateLimitBurst,
			Value:       cfg.RateLimitBurst,
			Usage:       "Burst size for the per-caller rate limiter",
		},

		// ── Notifications ─────────────────────────────────────────
		&cli.IntFlag{
			Name:        "notification-retention-days",
			Category:    "Notifications:",
			Sources:     cli.EnvVars("MESSAGING_SERVICE_NOTIFICATION_RETENTION_DAYS"),
			Destination: retentionDays,
			Value:       *retentionDays,
			Usage:       "Days to keep read notifications before the sweeper removes them (0 = keep forever)",
		},
		&cli.IntFlag{
			Name:        "notification-sweep-interval-minutes",
			Category:    "Notifications:",
			Sources:     cli.EnvVars("MESSAGING_SERVICE_NOTIFICATION_SWEEP_INTERVAL_MINUTES"),
			Destination: sweepIntervalMins,
			Value:       *sweepIntervalMins,
			Usage:       "Minutes between retention sweeps",
		},
		&cli.IntFlag{
			Name:        "notification-sweep-batch-size",
			Category:    "Notifications:",
			Sources:     cli.EnvVars("MESSAGING_SERVICE_NOTIFICATION_SWEEP_BATCH_SIZE"),
			Destination: &cfg.NotificationSweepBatch,
			Value:       cfg.NotificationSweepBatch,
			Usage:       "Notifications deleted per sweep transaction",
		},

		// ── Monitoring ────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "metrics-labels",
			Category:    "Monitoring:",
			Sources:     cli.EnvVars("MESSAGING_SERVICE_METRICS_LABELS"),
			Destination: &cfg.MetricsLabels,
			Value:       "service=messaging-service",
			Usage:       "Comma-separated key=value pairs added as constant labels to all Prometheus metrics. Supports ${VAR} expansion.",
		},
	}
}

func run(ctx context.Context, cfg config.Config) error {
	srv, err := StartServer(ctx, &cfg)
	if err != nil {
		return err
	}

	<-ctx.Done()
	log.Info("Shutting down...")

	drainCtx, drainCancel := context.WithTimeout(context.Background(), time.Duration(cfg.DrainTimeout)*time.Second)
	defer drainCancel()
	if err := srv.Shutdown(drainCtx); err != nil {
		log.Error("Shutdown error", "err", err)
	}
	log.Info("Server stopped")
	return nil
}

func maxBodySizeMiddleware(maxBodySize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodySize)
		c.Next()
	}
}
