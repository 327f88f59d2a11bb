package retrieval

import (
	"context"
	"fmt"
	"time"

	"github.com/memoric/memoric/internal/config"
	"github.com/memoric/memoric/internal/events"
	"github.com/memoric/memoric/internal/model"
	registrycache "github.com/memoric/memoric/internal/registry/cache"
	registrystore "github.com/memoric/memoric/internal/registry/store"
	"github.com/memoric/memoric/internal/scoring"
	"github.com/memoric/memoric/internal/security"
)

// Scope selects the record population a retrieval ranks.
type Scope string

const (
	// ScopeThread matches records sharing the query thread id.
	ScopeThread Scope = "thread"
	// ScopeTopic matches records whose metadata topic equals the query topic.
	ScopeTopic Scope = "topic"
	// ScopeUser matches every record the user owns.
	ScopeUser Scope = "user"
	// ScopeGlobal matches records across users within one namespace. Gated
	// behind the global capability when user scope enforcement is on.
	ScopeGlobal Scope = "global"
)

// ParseScope validates a scope name.
func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case ScopeThread, ScopeTopic, ScopeUser, ScopeGlobal:
		return Scope(s), nil
	default:
		return "", &registrystore.ValidationError{
			Field:   "scope",
			Message: fmt.Sprintf("unknown scope %q; valid: thread, topic, user, global", s),
		}
	}
}

// Query describes one retrieval. Zero fields fall back to configured
// defaults where one exists.
type Query struct {
	UserID    string
	Scope     Scope
	ThreadID  string
	SessionID string
	Topic     string
	Namespace string

	// MetadataFilter is matched by containment against record metadata.
	MetadataFilter map[string]interface{}

	// Tiers restricts candidates to the given tiers. Empty means all.
	Tiers []model.Tier

	// Text and Entities feed the scoring boosts; they do not filter.
	Text     string
	Entities []string

	Limit             int
	IncludeSummarized bool

	// AllowGlobal marks the caller as holding the global capability.
	AllowGlobal bool
}

// Result is a ranked retrieval outcome. Scope is the effective scope after
// any fallback.
type Result struct {
	Records    []scoring.ScoredRecord
	Scope      Scope
	Candidates int
}

// Retriever resolves a scope to a candidate set, scores it, and returns the
// top records. Empty results are a valid outcome, not an error.
type Retriever struct {
	store   registrystore.MemoryStore
	engine  *scoring.Engine
	cache   registrycache.OccurrenceCache
	bus     *events.Bus
	cfg     config.RetrievalConfig
	privacy config.PrivacyConfig
	now     func() time.Time
}

// Option tweaks a Retriever.
type Option func(*Retriever)

// WithCache plugs in an occurrence cache consulted before the cluster table.
func WithCache(c registrycache.OccurrenceCache) Option {
	return func(r *Retriever) { r.cache = c }
}

// WithBus emits a retrieved event per query.
func WithBus(b *events.Bus) Option {
	return func(r *Retriever) { r.bus = b }
}

// WithNow overrides the clock.
func WithNow(now func() time.Time) Option {
	return func(r *Retriever) { r.now = now }
}

// New builds a Retriever over the given store and scoring engine.
func New(store registrystore.MemoryStore, engine *scoring.Engine, cfg config.RetrievalConfig, privacy config.PrivacyConfig, opts ...Option) *Retriever {
	r := &Retriever{
		store:   store,
		engine:  engine,
		cfg:     cfg,
		privacy: privacy,
		now:     time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Retrieve runs one scoped retrieval: resolve the scope to a candidate set,
// score and rank it, and keep the top Limit records.
func (r *Retriever) Retrieve(ctx context.Context, q Query) (*Result, error) {
	start := r.now()

	if q.Scope == "" {
		q.Scope = Scope(r.cfg.Scope)
	}
	if _, err := ParseScope(string(q.Scope)); err != nil {
		return nil, err
	}
	if q.Limit <= 0 {
		q.Limit = r.cfg.DefaultTopK
	}
	if q.Namespace == "" {
		q.Namespace = model.DefaultNamespace
	}
	if err := r.authorize(q); err != nil {
		return nil, err
	}

	pred, err := r.predicate(q)
	if err != nil {
		return nil, err
	}

	candidates, err := r.store.GetRecords(ctx, pred)
	if err != nil {
		return nil, err
	}

	scope := q.Scope
	if len(candidates) == 0 && q.Scope == ScopeThread && Scope(r.cfg.Fallback) == ScopeTopic && q.Topic != "" {
		fq := q
		fq.Scope = ScopeTopic
		pred, err = r.predicate(fq)
		if err != nil {
			return nil, err
		}
		candidates, err = r.store.GetRecords(ctx, pred)
		if err != nil {
			return nil, err
		}
		scope = ScopeTopic
	}

	ranked := r.engine.Rank(candidates, r.occurrences(ctx), scoring.Signals{
		Topic:    q.Topic,
		Text:     q.Text,
		Entities: q.Entities,
	})
	if len(ranked) > q.Limit {
		ranked = ranked[:q.Limit]
	}

	res := &Result{Records: ranked, Scope: scope, Candidates: len(candidates)}
	r.observe(ctx, q, res, start)
	return res, nil
}

func (r *Retriever) authorize(q Query) error {
	if q.Scope == ScopeGlobal {
		if r.privacy.EnforceUserScope && !q.AllowGlobal {
			return &registrystore.ScopeError{Scope: "global"}
		}
		if q.Namespace != model.DefaultNamespace && !r.privacy.AllowSharedNamespace {
			return &registrystore.ScopeError{Scope: "namespace:" + q.Namespace}
		}
		return nil
	}
	if q.UserID == "" {
		return &registrystore.ValidationError{Field: "user_id", Message: "required"}
	}
	return nil
}

// predicate translates a scoped query into a store predicate. Candidate
// pulls are bounded well above the requested limit so scoring can reorder.
func (r *Retriever) predicate(q Query) (registrystore.RecordPredicate, error) {
	pred := registrystore.RecordPredicate{
		UserID:            q.UserID,
		Namespace:         q.Namespace,
		SessionID:         q.SessionID,
		Tiers:             q.Tiers,
		MetadataFilter:    q.MetadataFilter,
		IncludeSummarized: q.IncludeSummarized,
		Limit:             r.candidateLimit(q.Limit),
		Order:             registrystore.OrderUpdatedDesc,
	}
	switch q.Scope {
	case ScopeThread:
		if q.ThreadID == "" {
			return pred, &registrystore.ValidationError{Field: "thread_id", Message: "required for thread scope"}
		}
		pred.ThreadID = q.ThreadID
	case ScopeTopic:
		if q.Topic == "" {
			return pred, &registrystore.ValidationError{Field: "topic", Message: "required for topic scope"}
		}
		filter := map[string]interface{}{model.KeyTopic: q.Topic}
		for k, v := range q.MetadataFilter {
			filter[k] = v
		}
		pred.MetadataFilter = filter
	case ScopeUser:
	case ScopeGlobal:
		pred.UserID = ""
		pred.GlobalScope = true
	}
	return pred, nil
}

func (r *Retriever) candidateLimit(limit int) int {
	n := limit * r.cfg.CandidateMultiplier
	if n < r.cfg.CandidateFloor {
		n = r.cfg.CandidateFloor
	}
	return n
}

// occurrences resolves per-record cluster occurrence counts for the
// repetition signal: cache first, then one cluster-table load per user on
// a miss. Records without a (topic, category) pair score zero repetition.
func (r *Retriever) occurrences(ctx context.Context) func(*model.MemoryRecord) int64 {
	counts := map[string]int64{}
	loaded := map[string]bool{}

	return func(rec *model.MemoryRecord) int64 {
		topic, category := rec.Metadata.Topic(), rec.Metadata.Category()
		if topic == "" || category == "" {
			return 0
		}
		key := rec.UserID + "\x1f" + topic + "\x1f" + category
		if n, ok := counts[key]; ok {
			return n
		}
		if r.cache != nil && r.cache.Available() {
			if n, ok := r.cache.Get(ctx, rec.UserID, topic, category); ok {
				if security.CacheHitsTotal != nil {
					security.CacheHitsTotal.Inc()
				}
				counts[key] = n
				return n
			}
			if security.CacheMissesTotal != nil {
				security.CacheMissesTotal.Inc()
			}
		}
		if !loaded[rec.UserID] {
			loaded[rec.UserID] = true
			r.loadClusters(ctx, rec.UserID, counts)
		}
		return counts[key]
	}
}

// loadClusters fills counts with every cluster occurrence for one user and
// backfills the cache. Lookup failures degrade to zero occurrences.
func (r *Retriever) loadClusters(ctx context.Context, userID string, counts map[string]int64) {
	clusters, err := r.store.GetClusters(ctx, registrystore.ClusterQuery{UserID: userID})
	if err != nil {
		return
	}
	for _, c := range clusters {
		counts[userID+"\x1f"+c.Topic+"\x1f"+c.Category] = c.Occurrences
		if r.cache != nil && r.cache.Available() {
			_ = r.cache.Set(ctx, userID, c.Topic, c.Category, c.Occurrences)
		}
	}
}

func (r *Retriever) observe(ctx context.Context, q Query, res *Result, start time.Time) {
	if security.RetrievalsTotal != nil {
		security.RetrievalsTotal.WithLabelValues(string(res.Scope)).Inc()
		security.RetrievalCandidates.Observe(float64(res.Candidates))
	}
	if r.bus == nil {
		return
	}
	var sum float64
	for _, s := range res.Records {
		sum += s.Score
	}
	avg := 0.0
	if len(res.Records) > 0 {
		avg = sum / float64(len(res.Records))
	}
	r.bus.Publish(ctx, model.MemoryEvent{
		Kind:   model.EventRetrieved,
		UserID: q.UserID,
		Metadata: map[string]interface{}{
			"scope":      string(res.Scope),
			"count":      len(res.Records),
			"candidates": res.Candidates,
			"avg_score":  avg,
			"latency_ms": r.now().Sub(start).Milliseconds(),
		},
		Success: true,
	})
}
