package security

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// RetrievalsTotal counts retrieval operations by effective scope.
	RetrievalsTotal *prometheus.CounterVec

	// RetrievalCandidates observes how many candidate rows each retrieval
	// pulled before scoring.
	RetrievalCandidates prometheus.Histogram

	// PolicyRunsTotal counts per-phase policy outcomes ("ok", "failed",
	// "partial").
	PolicyRunsTotal *prometheus.CounterVec

	// PolicyPhaseSeconds observes per-phase policy durations.
	PolicyPhaseSeconds *prometheus.HistogramVec

	// EventsTotal counts lifecycle events appended to the event log.
	EventsTotal *prometheus.CounterVec

	// StoreOpSeconds observes store operation latency by operation and
	// backing engine.
	StoreOpSeconds *prometheus.HistogramVec

	// CacheHitsTotal / CacheMissesTotal track occurrence cache lookups.
	CacheHitsTotal   prometheus.Counter
	CacheMissesTotal prometheus.Counter

	// DBPoolOpenConnections tracks the number of currently open database connections.
	DBPoolOpenConnections prometheus.Gauge

	// DBPoolMaxConnections tracks the configured maximum database connections.
	DBPoolMaxConnections prometheus.Gauge
)

var validLabelKey = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ParseMetricsLabels parses a comma-separated list of key=value pairs into
// Prometheus labels. Values support ${VAR} / $VAR environment variable expansion.
// Label values may not contain commas. Returns nil for an empty string.
func ParseMetricsLabels(s string) (prometheus.Labels, error) {
	s = os.Expand(s, os.Getenv)
	if s == "" {
		return nil, nil
	}
	labels := prometheus.Labels{}
	for _, pair := range strings.Split(s, ",") {
		idx := strings.IndexByte(pair, '=')
		if idx < 0 {
			return nil, fmt.Errorf("invalid label %q: expected key=value", pair)
		}
		k, v := pair[:idx], pair[idx+1:]
		if !validLabelKey.MatchString(k) {
			return nil, fmt.Errorf("invalid label key %q: must match [a-zA-Z_][a-zA-Z0-9_]*", k)
		}
		labels[k] = v
	}
	return labels, nil
}

var initMetricsOnce sync.Once

// InitMetrics registers all Prometheus metrics with the given constant labels.
// Must be called before starting the HTTP server or any store/cache initialization
// that records metrics. Safe to call multiple times; only the first call registers.
func InitMetrics(constLabels prometheus.Labels) {
	initMetricsOnce.Do(func() {
		initMetricsInner(constLabels)
	})
}

func initMetricsInner(constLabels prometheus.Labels) {
	reg := prometheus.WrapRegistererWith(constLabels, prometheus.DefaultRegisterer)
	f := promauto.With(reg)

	httpRequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memoric_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "status"},
	)

	httpRequestDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "memoric_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	RetrievalsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memoric_retrievals_total",
			Help: "Total retrieval operations by effective scope",
		},
		[]string{"scope"},
	)

	RetrievalCandidates = f.NewHistogram(prometheus.HistogramOpts{
		Name:    "memoric_retrieval_candidates",
		Help:    "Candidate rows pulled per retrieval before scoring",
		Buckets: prometheus.ExponentialBuckets(1, 4, 8),
	})

	PolicyRunsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memoric_policy_runs_total",
			Help: "Policy phase executions by outcome",
		},
		[]string{"phase", "outcome"},
	)

	PolicyPhaseSeconds = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "memoric_policy_phase_seconds",
			Help:    "Policy phase duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"phase"},
	)

	EventsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memoric_events_total",
			Help: "Lifecycle events appended to the event log",
		},
		[]string{"kind"},
	)

	StoreOpSeconds = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "memoric_store_op_seconds",
			Help:    "Store operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op", "backend"},
	)

	CacheHitsTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "memoric_cache_hits_total",
		Help: "Occurrence cache hits",
	})

	CacheMissesTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "memoric_cache_misses_total",
		Help: "Occurrence cache misses",
	})

	DBPoolOpenConnections = f.NewGauge(prometheus.GaugeOpts{
		Name: "memoric_db_pool_open_connections",
		Help: "Number of open database connections",
	})

	DBPoolMaxConnections = f.NewGauge(prometheus.GaugeOpts{
		Name: "memoric_db_pool_max_connections",
		Help: "Maximum number of database connections",
	})
}

// MetricsMiddleware records HTTP request metrics for Prometheus.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if httpRequestsTotal == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		duration := time.Since(start)

		httpRequestsTotal.WithLabelValues(c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method).Observe(duration.Seconds())
	}
}
