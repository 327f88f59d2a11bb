package memory

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/memoric/memoric/internal/config"
	"github.com/memoric/memoric/internal/events"
	"github.com/memoric/memoric/internal/model"
	"github.com/memoric/memoric/internal/policy"
	registrycache "github.com/memoric/memoric/internal/registry/cache"
	"github.com/memoric/memoric/internal/registry/enrich"
	registrystore "github.com/memoric/memoric/internal/registry/store"
	"github.com/memoric/memoric/internal/registry/textproc"
	"github.com/memoric/memoric/internal/retrieval"
	"github.com/memoric/memoric/internal/scoring"
	"github.com/memoric/memoric/internal/security"
)

// Additive score boosts for query affinity. Bounded so a boost reorders
// close candidates without overwhelming the weighted base score.
const (
	topicBoostAmount  = 0.15
	entityBoostAmount = 0.05
	entityBoostMax    = 0.15
)

// Manager is the facade over the memory lifecycle: saving and enriching
// records, scoped retrieval, context assembly, tier moves, and policy
// execution.
type Manager struct {
	cfg        *config.Config
	store      registrystore.MemoryStore
	bus        *events.Bus
	retriever  *retrieval.Retriever
	executor   *policy.Executor
	enricher   enrich.Enricher
	trimmer    textproc.Trimmer
	summarizer textproc.Summarizer
	cache      registrycache.OccurrenceCache
	now        func() time.Time

	mu      sync.Mutex
	lastRun *RunReport
}

// RunReport records when policies last ran and what they touched.
type RunReport struct {
	At     time.Time     `json:"at"`
	Counts policy.Counts `json:"counts"`
}

// Option tweaks Manager construction.
type Option func(*Manager)

// WithNow overrides the clock.
func WithNow(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithTrimmer bypasses the configured trimmer plugin.
func WithTrimmer(t textproc.Trimmer) Option {
	return func(m *Manager) { m.trimmer = t }
}

// WithSummarizer bypasses the configured summarizer plugin.
func WithSummarizer(s textproc.Summarizer) Option {
	return func(m *Manager) { m.summarizer = s }
}

// WithEnricher bypasses the configured enricher plugin.
func WithEnricher(e enrich.Enricher) Option {
	return func(m *Manager) { m.enricher = e }
}

// WithCache plugs in the occurrence cache explicitly.
func WithCache(c registrycache.OccurrenceCache) Option {
	return func(m *Manager) { m.cache = c }
}

// New wires a Manager from config. Text processors and the enricher come
// from their plugin registries with warn-and-default semantics; the
// occurrence cache is taken from the context when the server loaded one.
func New(ctx context.Context, cfg *config.Config, store registrystore.MemoryStore, opts ...Option) *Manager {
	m := &Manager{cfg: cfg, store: store, now: time.Now}
	for _, o := range opts {
		o(m)
	}
	if m.cache == nil {
		m.cache = registrycache.OccurrenceCacheFromContext(ctx)
	}
	if m.trimmer == nil {
		m.trimmer = buildTrimmer(ctx, cfg.Policy.TextProcessing.Trimmer)
	}
	if m.summarizer == nil {
		m.summarizer = buildSummarizer(ctx, cfg.Policy.TextProcessing.Summarizer)
	}
	if m.enricher == nil {
		m.enricher = buildEnricher(ctx, cfg.Policy.Metadata.Enrichment)
	}
	m.bus = events.NewBus(store)

	engine := scoring.NewEngine(cfg.Policy.Scoring,
		scoring.WithNow(m.now),
		scoring.WithBoosts(
			scoring.TopicBoost(topicBoostAmount),
			scoring.EntityOverlapBoost(entityBoostAmount, entityBoostMax),
		),
	)
	m.retriever = retrieval.New(store, engine, cfg.Policy.Retrieval, cfg.Policy.Privacy,
		retrieval.WithCache(m.cache),
		retrieval.WithBus(m.bus),
		retrieval.WithNow(m.now),
	)
	m.executor = policy.New(store, m.trimmer, m.summarizer, cfg.Policy,
		policy.WithBus(m.bus),
		policy.WithCache(m.cache),
		policy.WithNow(m.now),
	)
	return m
}

// Bus exposes the lifecycle event bus for subscribers.
func (m *Manager) Bus() *events.Bus { return m.bus }

// SaveRequest captures one remember call. Message is an accepted alias for
// Content; Content wins when both are set.
type SaveRequest struct {
	UserID    string                 `json:"user_id"`
	Content   string                 `json:"content"`
	Message   string                 `json:"message"`
	ThreadID  string                 `json:"thread_id"`
	SessionID string                 `json:"session_id"`
	Namespace string                 `json:"namespace"`
	Role      string                 `json:"role"`
	Metadata  map[string]interface{} `json:"metadata"`
}

// Save enriches and stores one record in the short-term tier. Enrichment
// failures are logged and skipped; they never block the save.
func (m *Manager) Save(ctx context.Context, req SaveRequest) (*model.MemoryRecord, error) {
	content := req.Content
	if content == "" {
		content = req.Message
	}
	if req.UserID == "" {
		return nil, &registrystore.ValidationError{Field: "user_id", Message: "required"}
	}
	if content == "" {
		return nil, &registrystore.ValidationError{Field: "content", Message: "required"}
	}

	md := model.Metadata{}
	for k, v := range req.Metadata {
		md[k] = v
	}
	if req.Role != "" && md.Role() == "" {
		md[model.KeyRole] = req.Role
	}
	if md.Kind() == "" {
		md[model.KeyKind] = model.KindRecord
	}
	if m.enricher != nil {
		enriched, err := m.enricher.Enrich(ctx, content, md)
		if err != nil {
			log.Warn("Metadata enrichment failed; saving without", "user", req.UserID, "err", err)
		} else {
			md = enriched
		}
	}

	namespace := req.Namespace
	if namespace == "" {
		namespace = model.DefaultNamespace
	}
	rec := &model.MemoryRecord{
		UserID:    req.UserID,
		Namespace: namespace,
		ThreadID:  req.ThreadID,
		SessionID: req.SessionID,
		Content:   content,
		Metadata:  md,
		Tier:      model.TierShortTerm,
	}
	id, err := m.store.InsertRecord(ctx, rec)
	if err != nil {
		return nil, err
	}
	m.bus.Publish(ctx, model.MemoryEvent{
		Kind:       model.EventCreated,
		UserID:     req.UserID,
		ResourceID: strconv.FormatInt(id, 10),
		Metadata: map[string]interface{}{
			"thread_id": req.ThreadID,
			"tier":      string(rec.Tier),
		},
		Success: true,
	})
	return rec, nil
}

// RetrieveRequest captures one retrieval call. MaxResults is an accepted
// alias for TopK; TopK wins when both are set.
type RetrieveRequest struct {
	UserID            string                 `json:"user_id"`
	Scope             string                 `json:"scope"`
	ThreadID          string                 `json:"thread_id"`
	SessionID         string                 `json:"session_id"`
	Topic             string                 `json:"topic"`
	Namespace         string                 `json:"namespace"`
	Query             string                 `json:"query"`
	Entities          []string               `json:"entities"`
	MetadataFilter    map[string]interface{} `json:"metadata_filter"`
	Tiers             []string               `json:"tiers"`
	TopK              int                    `json:"top_k"`
	MaxResults        int                    `json:"max_results"`
	IncludeSummarized *bool                  `json:"include_summarized"`
}

// Retrieve runs one scoped, scored retrieval. The global scope requires the
// caller identity to hold the global capability while user scope
// enforcement is on.
func (m *Manager) Retrieve(ctx context.Context, req RetrieveRequest) (*retrieval.Result, error) {
	limit := req.TopK
	if limit <= 0 {
		limit = req.MaxResults
	}
	tiers, err := parseTiers(req.Tiers)
	if err != nil {
		return nil, err
	}
	includeSummarized := m.cfg.Policy.Retrieval.IncludeSummarized
	if req.IncludeSummarized != nil {
		includeSummarized = *req.IncludeSummarized
	}
	return m.retriever.Retrieve(ctx, retrieval.Query{
		UserID:            req.UserID,
		Scope:             retrieval.Scope(req.Scope),
		ThreadID:          req.ThreadID,
		SessionID:         req.SessionID,
		Topic:             req.Topic,
		Namespace:         req.Namespace,
		MetadataFilter:    req.MetadataFilter,
		Tiers:             tiers,
		Text:              req.Query,
		Entities:          req.Entities,
		Limit:             limit,
		IncludeSummarized: includeSummarized,
		AllowGlobal:       security.IdentityFromContext(ctx).Has(security.CapabilityGlobal),
	})
}

// Get returns one record by id within the user's scope.
func (m *Manager) Get(ctx context.Context, userID string, id int64) (*model.MemoryRecord, error) {
	if userID == "" {
		return nil, &registrystore.ValidationError{Field: "user_id", Message: "required"}
	}
	return m.store.GetRecord(ctx, userID, id)
}

// Delete removes one record by id within the user's scope.
func (m *Manager) Delete(ctx context.Context, userID string, id int64) error {
	if userID == "" {
		return &registrystore.ValidationError{Field: "user_id", Message: "required"}
	}
	if err := m.store.DeleteRecord(ctx, userID, id); err != nil {
		return err
	}
	m.bus.Publish(ctx, model.MemoryEvent{
		Kind:       model.EventDeleted,
		UserID:     userID,
		ResourceID: strconv.FormatInt(id, 10),
		Success:    true,
	})
	return nil
}

// PromoteTier moves the given records to the target tier. Tier moves are
// forward-only: a record already at or beyond the target is rejected when
// it sits above it, and skipped when it is already there.
func (m *Manager) PromoteTier(ctx context.Context, userID string, ids []int64, target model.Tier) (int64, error) {
	if userID == "" {
		return 0, &registrystore.ValidationError{Field: "user_id", Message: "required"}
	}
	if len(ids) == 0 {
		return 0, &registrystore.ValidationError{Field: "ids", Message: "required"}
	}
	if !target.Valid() {
		return 0, &registrystore.ValidationError{
			Field:   "target_tier",
			Message: fmt.Sprintf("unknown tier %q; valid: %v", target, model.Tiers()),
		}
	}
	recs, err := m.store.GetRecords(ctx, registrystore.RecordPredicate{
		UserID:            userID,
		IDs:               ids,
		IncludeSummarized: true,
	})
	if err != nil {
		return 0, err
	}
	current := make(map[int64]model.Tier, len(recs))
	for _, rec := range recs {
		current[rec.ID] = rec.Tier
	}
	for _, id := range ids {
		tier, ok := current[id]
		if !ok {
			return 0, &registrystore.NotFoundError{Resource: "memory", ID: strconv.FormatInt(id, 10)}
		}
		if tier.Rank() > target.Rank() {
			return 0, &registrystore.ValidationError{
				Field:   "target_tier",
				Message: fmt.Sprintf("record %d is already in %s; tier moves are forward-only", id, tier),
			}
		}
	}
	n, err := m.store.PromoteRecords(ctx, userID, ids, target, m.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		m.bus.Publish(ctx, model.MemoryEvent{
			Kind:   model.EventMigrated,
			UserID: userID,
			Metadata: map[string]interface{}{
				"to":     string(target),
				"count":  n,
				"manual": true,
			},
			Success: true,
		})
	}
	return n, nil
}

// RunPolicies executes every lifecycle phase over all users and remembers
// the outcome for Inspect.
func (m *Manager) RunPolicies(ctx context.Context) (policy.Counts, error) {
	counts, err := m.executor.Run(ctx)
	m.mu.Lock()
	m.lastRun = &RunReport{At: m.now(), Counts: counts}
	m.mu.Unlock()
	return counts, err
}

// RebuildClusters rebuilds one user's clusters outside a full policy run.
// Returns the number of cluster rows that changed.
func (m *Manager) RebuildClusters(ctx context.Context, userID string) (int64, error) {
	if userID == "" {
		return 0, &registrystore.ValidationError{Field: "user_id", Message: "required"}
	}
	return m.executor.RebuildClusters(ctx, userID)
}

// Clusters lists clusters matching the query.
func (m *Manager) Clusters(ctx context.Context, q registrystore.ClusterQuery) ([]model.MemoryCluster, error) {
	return m.store.GetClusters(ctx, q)
}

// Events lists lifecycle events matching the query, newest first.
func (m *Manager) Events(ctx context.Context, q registrystore.EventQuery) ([]model.MemoryEvent, error) {
	return m.store.ListEvents(ctx, q)
}

// TierStat reports the record population of one tier against its soft
// capacity.
type TierStat struct {
	Tier        model.Tier `json:"tier"`
	Count       int64      `json:"count"`
	Capacity    int64      `json:"capacity,omitempty"`
	Utilization float64    `json:"utilization,omitempty"`
}

// TierStats returns per-tier record counts, globally or for one user, with
// utilization against any configured soft capacity.
func (m *Manager) TierStats(ctx context.Context, userID string) ([]TierStat, error) {
	counts, err := m.store.TierCounts(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]TierStat, 0, len(model.Tiers()))
	for _, t := range model.Tiers() {
		st := TierStat{Tier: t, Count: counts[t]}
		if capacity := m.cfg.Policy.Tier(t).Capacity; capacity > 0 {
			st.Capacity = capacity
			st.Utilization = float64(st.Count) / float64(capacity)
		}
		out = append(out, st)
	}
	return out, nil
}

// Snapshot is a point-in-time diagnostic view of the store.
type Snapshot struct {
	Backend  string               `json:"backend"`
	Tiers    map[model.Tier]int64 `json:"tiers"`
	Users    int                  `json:"users"`
	Clusters int                  `json:"clusters"`
	LastRun  *RunReport           `json:"last_policy_run,omitempty"`
}

// Inspect reports the backend dialect, tier populations, user and cluster
// counts, and the last policy run.
func (m *Manager) Inspect(ctx context.Context) (*Snapshot, error) {
	tiers, err := m.store.TierCounts(ctx, "")
	if err != nil {
		return nil, err
	}
	users, err := m.store.ListUserIDs(ctx)
	if err != nil {
		return nil, err
	}
	clusters, err := m.store.GetClusters(ctx, registrystore.ClusterQuery{})
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	last := m.lastRun
	m.mu.Unlock()
	return &Snapshot{
		Backend:  m.store.Dialect(),
		Tiers:    tiers,
		Users:    len(users),
		Clusters: len(clusters),
		LastRun:  last,
	}, nil
}

func parseTiers(names []string) ([]model.Tier, error) {
	if len(names) == 0 {
		return nil, nil
	}
	out := make([]model.Tier, 0, len(names))
	for _, name := range names {
		t, err := model.ParseTier(name)
		if err != nil {
			return nil, &registrystore.ValidationError{Field: "tiers", Message: err.Error()}
		}
		out = append(out, t)
	}
	return out, nil
}
