package config

import (
	"context"
	"time"
)

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

// Config holds all configuration for the memory service.
type Config struct {
	// Database backend type: "sqlite" or "postgres".
	DBKind string

	// Database connection string. For sqlite this is a file DSN.
	DBURL string

	// Run datastore migrations on startup.
	MigrateAtStart bool

	// Connection pool: PoolSize idle connections, PoolSize+PoolOverflow open.
	PoolSize     int
	PoolOverflow int

	// Occurrence cache backend type: "none", "ristretto", or "redis".
	CacheKind string

	// Redis, for CacheKind=redis.
	RedisURL string

	// Occurrence cache entry TTL (redis only; ristretto entries live until
	// invalidated or evicted by cost).
	OccurrenceCacheTTL time.Duration

	// Ristretto cache capacity in entries.
	RistrettoMaxCost int64

	// Server
	Port              int
	ReadHeaderTimeout time.Duration

	// MaxBodySize caps request bodies in bytes.
	MaxBodySize int64

	// CORS
	CORSEnabled bool
	CORSOrigins string

	// Graceful shutdown drain timeout (seconds)
	DrainTimeout int

	// Security
	// APIKeys maps API key values to client IDs.
	APIKeys map[string]string // key value → clientId
	// Comma-separated client IDs granted the global-scope capability.
	GlobalClients string
	// Comma-separated client IDs granted admin endpoints.
	AdminClients string

	// MetricsLabels is a comma-separated list of key=value pairs added as
	// constant labels to all Prometheus metrics. Values support ${VAR}
	// expansion. Defaults to "service=memoric".
	MetricsLabels string

	// Policy
	// PolicyFile is an optional YAML file overriding policy defaults.
	PolicyFile string
	// PolicyInterval runs policies in the background at this cadence.
	// Zero disables the background runner; policies then run only on
	// explicit trigger.
	PolicyInterval time.Duration
	// PolicyRunTimeout bounds a single policy run.
	PolicyRunTimeout time.Duration

	Policy PolicyConfig
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DBKind:             "sqlite",
		DBURL:              "file:memoric.db?_busy_timeout=5000&_journal_mode=WAL",
		MigrateAtStart:     true,
		PoolSize:           5,
		PoolOverflow:       10,
		CacheKind:          "none",
		OccurrenceCacheTTL: 10 * time.Minute,
		RistrettoMaxCost:   100_000,
		Port:               8080,
		ReadHeaderTimeout:  5 * time.Second,
		MaxBodySize:        1 << 20,
		DrainTimeout:       30,
		PolicyRunTimeout:   2 * time.Minute,
		Policy:             DefaultPolicyConfig(),
	}
}
