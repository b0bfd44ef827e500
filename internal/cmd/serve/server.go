package serve

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/chatstack/messaging-service/internal/config"
	"github.com/chatstack/messaging-service/internal/plugin/route/admin"
	"github.com/chatstack/messaging-service/internal/plugin/route/conversations"
	"github.com/chatstack/messaging-service/internal/plugin/route/messages"
	"github.com/chatstack/messaging-service/internal/plugin/route/notifications"
	routesystem "github.com/chatstack/messaging-service/internal/plugin/route/system"
	"github.com/chatstack/messaging-service/internal/plugin/route/users"
	storemetrics "github.com/chatstack/messaging-service/internal/plugin/store/metrics"
	registrymigrate "github.com/chatstack/messaging-service/internal/registry/migrate"
	registryroute "github.com/chatstack/messaging-service/internal/registry/route"
	registrystore "github.com/chatstack/messaging-service/internal/registry/store"
	"github.com/chatstack/messaging-service/internal/security"
	"github.com/chatstack/messaging-service/internal/service"
	"github.com/gin-gonic/gin"
)

// Server holds the running server and its subsystems.
type Server struct {
	Config *config.Config
	Store  registrystore.MessagingStore
	Router *gin.Engine
	Port   int

	httpServer *http.Server
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// StartServer initializes all subsystems and starts the HTTP server.
// Use cfg.Listener.Port=0 for a random port; the actual port is Server.Port.
func StartServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	log.Info("Starting messaging service",
		"httpPort", cfg.Listener.Port,
		"db", cfg.DatastoreType,
	)

	// Initialize Prometheus metrics with configured constant labels.
	metricsLabels, err := security.ParseMetricsLabels(cfg.MetricsLabels)
	if err != nil {
		return nil, fmt.Errorf("invalid --metrics-labels: %w", err)
	}
	security.InitMetrics(metricsLabels)

	// Run migrations
	if err := registrymigrate.RunAll(ctx); err != nil {
		return nil, fmt.Errorf("migrations failed: %w", err)
	}

	// Initialize store
	storeLoader, err := registrystore.Select(cfg.DatastoreType)
	if err != nil {
		return nil, err
	}
	store, err := storeLoader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	store = storemetrics.Wrap(store)

	// Set up gin
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.ManagementAccessLog {
		router.Use(security.AccessLogMiddleware())
	} else {
		router.Use(security.AccessLogMiddleware("/health", "/ready", "/metrics"))
	}
	router.Use(security.MetricsMiddleware())
	router.Use(maxBodySizeMiddleware(cfg.MaxBodySize))

	// Create shared token resolver and request middleware chain. Rate
	// limiting runs after auth so callers are keyed by token subject.
	resolver := security.NewTokenResolver(cfg)
	chain := []gin.HandlerFunc{
		security.AuthMiddleware(resolver),
		security.RateLimitMiddleware(cfg.RateLimitPerMinute, cfg.RateLimitBurst),
		security.RequireUser(store),
	}

	// Mount API routes
	users.MountRoutes(router, store, chain...)
	conversations.MountRoutes(router, store, chain...)
	messages.MountRoutes(router, store, chain...)
	notifications.MountRoutes(router, store, chain...)
	admin.MountRoutes(router, store, chain...)

	// Mount management route plugins (health, ready, metrics).
	for _, loader := range registryroute.ManagementRouteLoaders() {
		if err := loader(router); err != nil {
			return nil, fmt.Errorf("failed to load management routes: %w", err)
		}
	}

	// Start background services
	sweeper := service.NewRetentionSweeper(store,
		cfg.NotificationRetention,
		cfg.NotificationSweepInterval,
		cfg.NotificationSweepBatch,
	)
	go sweeper.Start(ctx)

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Listener.Port))
	if err != nil {
		return nil, fmt.Errorf("failed to listen on port %d: %w", cfg.Listener.Port, err)
	}
	httpServer := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: cfg.Listener.ReadHeaderTimeout,
	}
	go func() {
		if err := httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", "err", err)
		}
	}()

	port := listener.Addr().(*net.TCPAddr).Port
	log.Info("Server listening", "port", port)

	routesystem.MarkReady()
	return &Server{
		Config:     cfg,
		Store:      store,
		Router:     router,
		Port:       port,
		httpServer: httpServer,
	}, nil
}
