package serve

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"

	"github.com/memoric/memoric/internal/config"
	"github.com/memoric/memoric/internal/memory"
	"github.com/memoric/memoric/internal/plugin/route/admin"
	"github.com/memoric/memoric/internal/plugin/route/memories"
	routesystem "github.com/memoric/memoric/internal/plugin/route/system"
	storemetrics "github.com/memoric/memoric/internal/plugin/store/metrics"
	registrycache "github.com/memoric/memoric/internal/registry/cache"
	registrymigrate "github.com/memoric/memoric/internal/registry/migrate"
	registryroute "github.com/memoric/memoric/internal/registry/route"
	registrystore "github.com/memoric/memoric/internal/registry/store"
	"github.com/memoric/memoric/internal/security"
	"github.com/memoric/memoric/internal/service"
)

// Server holds the running server and its subsystems.
type Server struct {
	Config  *config.Config
	Store   registrystore.MemoryStore
	Manager *memory.Manager
	Router  *gin.Engine
	Port    int

	httpServer *http.Server
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// StartServer initializes all subsystems and starts the HTTP listener.
// Use cfg.Port=0 for a random port. Actual port: Server.Port.
func StartServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	log.Info("Starting memoric",
		"port", cfg.Port,
		"db", cfg.DBKind,
		"cache", cfg.CacheKind,
	)

	// Initialize Prometheus metrics with configured constant labels.
	metricsLabels, err := security.ParseMetricsLabels(cfg.MetricsLabels)
	if err != nil {
		return nil, fmt.Errorf("invalid --metrics-labels: %w", err)
	}
	security.InitMetrics(metricsLabels)

	// Apply the policy file before anything reads cfg.Policy.
	if cfg.PolicyFile != "" {
		policyCfg, err := config.LoadPolicyFile(cfg.PolicyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load policy file: %w", err)
		}
		cfg.Policy = policyCfg
	}
	if err := cfg.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy configuration: %w", err)
	}

	// Run migrations. Each migrator gates itself on MigrateAtStart and the
	// configured backend.
	if err := registrymigrate.RunAll(ctx); err != nil {
		return nil, fmt.Errorf("migrations failed: %w", err)
	}

	// Initialize the occurrence cache and inject it into the context so the
	// manager can pick it up.
	if cacheLoader, err := registrycache.Select(cfg.CacheKind); err != nil {
		log.Warn("Cache not available", "cache", cfg.CacheKind, "err", err)
	} else if occCache, err := cacheLoader(ctx); err != nil {
		log.Warn("Failed to initialize cache", "cache", cfg.CacheKind, "err", err)
	} else {
		ctx = registrycache.WithOccurrenceCacheContext(ctx, occCache)
	}

	// Initialize store
	storeLoader, err := registrystore.Select(cfg.DBKind)
	if err != nil {
		return nil, err
	}
	store, err := storeLoader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	store = storemetrics.Wrap(store)

	// The manager owns retrieval, the policy executor, and the event bus.
	manager := memory.New(ctx, cfg, store)

	// Set up gin
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(security.AccessLogMiddleware("/health", "/ready", "/metrics"))
	router.Use(security.MetricsMiddleware())
	router.Use(maxBodySizeMiddleware(cfg.MaxBodySize))
	if cfg.CORSEnabled {
		router.Use(corsMiddleware(cfg.CORSOrigins))
	}

	// Mount system route plugins (health, ready, metrics).
	for _, loader := range registryroute.Loaders() {
		if err := loader(router); err != nil {
			return nil, fmt.Errorf("failed to load routes: %w", err)
		}
	}

	// Create shared resolver and auth middleware.
	resolver := security.NewResolver(cfg)
	auth := security.AuthMiddleware(resolver)

	// Mount the agent and admin APIs.
	memories.MountRoutes(router, manager, auth)
	admin.MountRoutes(router, manager, cfg, auth)

	// Start the background policy runner.
	runner := service.NewPolicyRunner(manager, cfg.PolicyInterval, cfg.PolicyRunTimeout)
	go runner.Start(ctx)

	// Start HTTP
	ln, err := net.Listen("tcp", ":"+strconv.Itoa(cfg.Port))
	if err != nil {
		return nil, err
	}
	httpServer := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
	go func() {
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server stopped", "err", err)
		}
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	log.Info("Server listening", "port", port)

	routesystem.MarkReady()
	return &Server{
		Config:     cfg,
		Store:      store,
		Manager:    manager,
		Router:     router,
		Port:       port,
		httpServer: httpServer,
	}, nil
}
