package serve

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/urfave/cli/v3"

	"github.com/memoric/memoric/internal/config"
	registrycache "github.com/memoric/memoric/internal/registry/cache"
	registrystore "github.com/memoric/memoric/internal/registry/store"

	// Import all plugins to trigger init() registration
	_ "github.com/memoric/memoric/internal/plugin/cache/noop"
	_ "github.com/memoric/memoric/internal/plugin/cache/redis"
	_ "github.com/memoric/memoric/internal/plugin/cache/ristretto"
	_ "github.com/memoric/memoric/internal/plugin/route/system"
	_ "github.com/memoric/memoric/internal/plugin/store/postgres"
	_ "github.com/memoric/memoric/internal/plugin/store/sqlite"
	_ "github.com/memoric/memoric/internal/plugin/textproc/external"
)

// Command returns the serve sub-command.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	var readHeaderTimeoutSecs int = 5
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the memory HTTP server and the background policy runner",
		Flags: flags(&cfg, &readHeaderTimeoutSecs),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := cfg.ApplyEnvOverrides(); err != nil {
				return err
			}
			cfg.ReadHeaderTimeout = time.Duration(readHeaderTimeoutSecs) * time.Second
			return run(config.WithContext(ctx, &cfg), cfg)
		},
	}
}

func flags(cfg *config.Config, readHeaderTimeoutSecs *int) []cli.Flag {
	return []cli.Flag{

		// ── Server ────────────────────────────────────────────────
		&cli.IntFlag{
			Name:        "port",
			Category:    "Server:",
			Sources:     cli.EnvVars("MEMORIC_PORT"),
			Destination: &cfg.Port,
			Value:       cfg.Port,
			Usage:       "HTTP server port (0 = OS-assigned random port)",
		},
		&cli.IntFlag{
			Name:        "read-header-timeout-seconds",
			Category:    "Server:",
			Sources:     cli.EnvVars("MEMORIC_READ_HEADER_TIMEOUT_SECONDS"),
			Destination: readHeaderTimeoutSecs,
			Value:       *readHeaderTimeoutSecs,
			Usage:       "HTTP read header timeout in seconds",
		},
		&cli.IntFlag{
			Name:        "drain-timeout-seconds",
			Category:    "Server:",
			Sources:     cli.EnvVars("MEMORIC_DRAIN_TIMEOUT_SECONDS"),
			Destination: &cfg.DrainTimeout,
			Value:       cfg.DrainTimeout,
			Usage:       "Graceful shutdown drain timeout in seconds",
		},
		&cli.Int64Flag{
			Name:        "max-body-size",
			Category:    "Server:",
			Sources:     cli.EnvVars("MEMORIC_MAX_BODY_SIZE"),
			Destination: &cfg.MaxBodySize,
			Value:       cfg.MaxBodySize,
			Usage:       "Maximum request body size in bytes",
		},
		&cli.BoolFlag{
			Name:        "cors-enabled",
			Category:    "Server:",
			Sources:     cli.EnvVars("MEMORIC_CORS_ENABLED"),
			Destination: &cfg.CORSEnabled,
			Usage:       "Enable CORS handling",
		},
		&cli.StringFlag{
			Name:        "cors-origins",
			Category:    "Server:",
			Sources:     cli.EnvVars("MEMORIC_CORS_ORIGINS"),
			Destination: &cfg.CORSOrigins,
			Usage:       "Comma-separated allowed CORS origins (empty = any)",
		},

		// ── Database ───────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "db-kind",
			Category:    "Database:",
			Sources:     cli.EnvVars("MEMORIC_DB_KIND"),
			Destination: &cfg.DBKind,
			Value:       cfg.DBKind,
			Usage:       "Backend store (" + strings.Join(registrystore.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "db-url",
			Category:    "Database:",
			Sources:     cli.EnvVars("MEMORIC_DB_URL"),
			Destination: &cfg.DBURL,
			Value:       cfg.DBURL,
			Usage:       "Database connection URL",
		},
		&cli.IntFlag{
			Name:        "db-pool-size",
			Category:    "Database:",
			Sources:     cli.EnvVars("MEMORIC_DB_POOL_SIZE"),
			Destination: &cfg.PoolSize,
			Value:       cfg.PoolSize,
			Usage:       "Number of idle database connections to keep open",
		},
		&cli.IntFlag{
			Name:        "db-pool-overflow",
			Category:    "Database:",
			Sources:     cli.EnvVars("MEMORIC_DB_POOL_OVERFLOW"),
			Destination: &cfg.PoolOverflow,
			Value:       cfg.PoolOverflow,
			Usage:       "Connections allowed beyond the pool size under load",
		},
		&cli.BoolFlag{
			Name:        "migrate-at-start",
			Category:    "Database:",
			Sources:     cli.EnvVars("MEMORIC_DB_MIGRATE_AT_START"),
			Destination: &cfg.MigrateAtStart,
			Value:       cfg.MigrateAtStart,
			Usage:       "Run schema migrations on startup",
		},

		// ── Cache ─────────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "cache-kind",
			Category:    "Cache:",
			Sources:     cli.EnvVars("MEMORIC_CACHE_KIND"),
			Destination: &cfg.CacheKind,
			Value:       cfg.CacheKind,
			Usage:       "Occurrence cache backend (" + strings.Join(registrycache.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "redis-url",
			Category:    "Cache:",
			Sources:     cli.EnvVars("MEMORIC_REDIS_URL"),
			Destination: &cfg.RedisURL,
			Usage:       "Redis connection URL",
		},
		&cli.DurationFlag{
			Name:        "occurrence-cache-ttl",
			Category:    "Cache:",
			Sources:     cli.EnvVars("MEMORIC_OCCURRENCE_CACHE_TTL"),
			Destination: &cfg.OccurrenceCacheTTL,
			Value:       cfg.OccurrenceCacheTTL,
			Usage:       "Occurrence cache entry TTL (redis only)",
		},
		&cli.Int64Flag{
			Name:        "ristretto-max-cost",
			Category:    "Cache:",
			Sources:     cli.EnvVars("MEMORIC_RISTRETTO_MAX_COST"),
			Destination: &cfg.RistrettoMaxCost,
			Value:       cfg.RistrettoMaxCost,
			Usage:       "Ristretto cache capacity in entries",
		},

		// ── Authorization ─────────────────────────────────────────
		&cli.StringFlag{
			Name:        "global-clients",
			Category:    "Authorization:",
			Sources:     cli.EnvVars("MEMORIC_GLOBAL_CLIENTS"),
			Destination: &cfg.GlobalClients,
			Usage:       "Comma-separated client IDs allowed global-scope retrieval",
		},
		&cli.StringFlag{
			Name:        "admin-clients",
			Category:    "Authorization:",
			Sources:     cli.EnvVars("MEMORIC_ADMIN_CLIENTS"),
			Destination: &cfg.AdminClients,
			Usage:       "Comma-separated client IDs allowed the admin endpoints",
		},

		// ── Policy ────────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "policy-file",
			Category:    "Policy:",
			Sources:     cli.EnvVars("MEMORIC_POLICY_FILE"),
			Destination: &cfg.PolicyFile,
			Usage:       "YAML file overriding lifecycle policy defaults",
		},
		&cli.DurationFlag{
			Name:        "policy-interval",
			Category:    "Policy:",
			Sources:     cli.EnvVars("MEMORIC_POLICY_INTERVAL"),
			Destination: &cfg.PolicyInterval,
			Usage:       "Background policy sweep cadence (0 = disabled)",
		},
		&cli.DurationFlag{
			Name:        "policy-run-timeout",
			Category:    "Policy:",
			Sources:     cli.EnvVars("MEMORIC_POLICY_RUN_TIMEOUT"),
			Destination: &cfg.PolicyRunTimeout,
			Value:       cfg.PolicyRunTimeout,
			Usage:       "Upper bound on a single policy sweep",
		},

		// ── Monitoring ────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "metrics-labels",
			Category:    "Monitoring:",
			Sources:     cli.EnvVars("MEMORIC_METRICS_LABELS"),
			Destination: &cfg.MetricsLabels,
			Value:       "service=memoric",
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
