package policy

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/memoric/memoric/internal/config"
	"github.com/memoric/memoric/internal/events"
	"github.com/memoric/memoric/internal/model"
	registrycache "github.com/memoric/memoric/internal/registry/cache"
	registrystore "github.com/memoric/memoric/internal/registry/store"
	"github.com/memoric/memoric/internal/registry/textproc"
	"github.com/memoric/memoric/internal/security"
)

// Phase names, in execution order.
const (
	PhaseMigrate         = "migrate"
	PhaseExpire          = "expire"
	PhaseTrim            = "trim"
	PhaseSummarize       = "summarize"
	PhaseThreadSummarize = "thread_summarize"
	PhaseCluster         = "cluster"
)

// Counts reports how many records each phase touched during a run.
type Counts struct {
	Migrated         int64 `json:"migrated"`
	Expired          int64 `json:"expired"`
	Trimmed          int64 `json:"trimmed"`
	Summarized       int64 `json:"summarized"`
	ThreadSummarized int64 `json:"thread_summarized"`
	Clustered        int64 `json:"clustered"`

	// Partial marks a run that hit its deadline before covering every user.
	Partial bool `json:"partial,omitempty"`
}

func (c *Counts) add(o Counts) {
	c.Migrated += o.Migrated
	c.Expired += o.Expired
	c.Trimmed += o.Trimmed
	c.Summarized += o.Summarized
	c.ThreadSummarized += o.ThreadSummarized
	c.Clustered += o.Clustered
}

// Map renders the counts as event and log metadata.
func (c Counts) Map() map[string]interface{} {
	m := map[string]interface{}{
		"migrated":          c.Migrated,
		"expired":           c.Expired,
		"trimmed":           c.Trimmed,
		"summarized":        c.Summarized,
		"thread_summarized": c.ThreadSummarized,
		"clustered":         c.Clustered,
	}
	if c.Partial {
		m["partial"] = true
	}
	return m
}

// Executor runs the lifecycle phases over the record population: migrate
// aged records forward, delete expired ones, rewrite over-length content,
// fold completed threads into summaries, and rebuild clusters. Every phase
// is idempotent, so an interrupted run can simply be rerun.
type Executor struct {
	store      registrystore.MemoryStore
	trimmer    textproc.Trimmer
	summarizer textproc.Summarizer
	cfg        config.PolicyConfig
	bus        *events.Bus
	cache      registrycache.OccurrenceCache
	now        func() time.Time
	locks      *keyedMutex
}

// Option tweaks an Executor.
type Option func(*Executor)

// WithBus emits lifecycle events as phases touch records.
func WithBus(b *events.Bus) Option {
	return func(e *Executor) { e.bus = b }
}

// WithCache invalidates the user's occurrence cache after cluster rebuilds.
func WithCache(c registrycache.OccurrenceCache) Option {
	return func(e *Executor) { e.cache = c }
}

// WithNow overrides the clock used for age cutoffs.
func WithNow(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// New builds an Executor. The trimmer and summarizer run outside store
// transactions, so a slow external processor never holds row locks.
func New(store registrystore.MemoryStore, trimmer textproc.Trimmer, summarizer textproc.Summarizer, cfg config.PolicyConfig, opts ...Option) *Executor {
	e := &Executor{
		store:      store,
		trimmer:    trimmer,
		summarizer: summarizer,
		cfg:        cfg,
		now:        time.Now,
		locks:      newKeyedMutex(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Run executes every phase for every user, processing users in batches with
// bounded concurrency. A phase failure for one user is logged and recorded
// but never stops the others. When the deadline expires mid-run the counts
// collected so far are returned with Partial set, alongside a TimeoutError.
func (e *Executor) Run(ctx context.Context) (Counts, error) {
	users, err := e.store.ListUserIDs(ctx)
	if err != nil {
		return Counts{}, err
	}

	batch := e.cfg.Policies.UserBatchSize
	if batch <= 0 {
		batch = 100
	}
	concurrency := e.cfg.Policies.UserConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	var total Counts
	timedOut := false
	for start := 0; start < len(users) && !timedOut; start += batch {
		if ctx.Err() != nil {
			timedOut = true
			break
		}
		end := start + batch
		if end > len(users) {
			end = len(users)
		}
		counts := make([]Counts, end-start)
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(concurrency)
		for i, userID := range users[start:end] {
			g.Go(func() error {
				c, err := e.RunForUser(gctx, userID)
				counts[i] = c
				if isDeadline(err) {
					return err
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			timedOut = true
		}
		for _, c := range counts {
			total.add(c)
		}
	}
	total.Partial = timedOut

	if e.bus != nil {
		md := total.Map()
		md["users"] = len(users)
		e.bus.Publish(context.WithoutCancel(ctx), model.MemoryEvent{
			Kind:     model.EventPolicyRun,
			Metadata: md,
			Success:  true,
		})
	}
	log.Info("Policy run finished",
		"users", len(users),
		"migrated", total.Migrated,
		"expired", total.Expired,
		"trimmed", total.Trimmed,
		"summarized", total.Summarized,
		"thread_summarized", total.ThreadSummarized,
		"clustered", total.Clustered,
		"partial", total.Partial)

	if timedOut {
		return total, &registrystore.TimeoutError{Partial: true}
	}
	return total, nil
}

// RunForUser executes every phase for one user while holding that user's
// advisory lock, so overlapping runs never interleave writes for the same
// user.
func (e *Executor) RunForUser(ctx context.Context, userID string) (Counts, error) {
	unlock := e.locks.lock(userID)
	defer unlock()

	var counts Counts
	for _, ph := range []struct {
		name string
		run  func(context.Context, string) (int64, error)
		dst  *int64
	}{
		{PhaseMigrate, e.migrateUser, &counts.Migrated},
		{PhaseExpire, e.expireUser, &counts.Expired},
		{PhaseTrim, e.trimUser, &counts.Trimmed},
		{PhaseSummarize, e.summarizeUser, &counts.Summarized},
		{PhaseThreadSummarize, e.threadSummarizeUser, &counts.ThreadSummarized},
		{PhaseCluster, e.clusterUser, &counts.Clustered},
	} {
		if err := ctx.Err(); err != nil {
			return counts, err
		}
		start := time.Now()
		n, err := ph.run(ctx, userID)
		*ph.dst += n
		e.observePhase(ph.name, start, err)
		if err == nil {
			continue
		}
		if isDeadline(err) {
			return counts, err
		}
		log.Warn("Policy phase failed", "phase", ph.name, "user", userID, "err", err)
		if e.bus != nil {
			e.bus.Failure(ctx, model.EventPolicyRun, userID, err, map[string]interface{}{"phase": ph.name})
		}
	}
	return counts, nil
}

func (e *Executor) observePhase(phase string, start time.Time, err error) {
	if security.PolicyPhaseSeconds != nil {
		security.PolicyPhaseSeconds.WithLabelValues(phase).Observe(time.Since(start).Seconds())
	}
	if security.PolicyRunsTotal != nil {
		outcome := "ok"
		if err != nil {
			outcome = "failed"
		}
		security.PolicyRunsTotal.WithLabelValues(phase, outcome).Inc()
	}
}

func (e *Executor) chunkSize() int {
	if n := e.cfg.Policies.ChunkSize; n > 0 {
		return n
	}
	return 200
}

// migrateUser moves records forward through tiers once they age past the
// configured thresholds. Each chunk's tier change shrinks the next fetch,
// so the loop terminates without an offset cursor.
func (e *Executor) migrateUser(ctx context.Context, userID string) (int64, error) {
	var moved int64
	now := e.now()
	for _, rule := range e.cfg.EffectiveMigrations() {
		from, err := model.ParseTier(rule.From)
		if err != nil {
			return moved, err
		}
		to, err := model.ParseTier(rule.To)
		if err != nil {
			return moved, err
		}
		cutoff := now.Add(-rule.Age())
		var ruleMoved int64
		for {
			if err := ctx.Err(); err != nil {
				return moved, err
			}
			recs, err := e.store.GetRecords(ctx, registrystore.RecordPredicate{
				UserID:            userID,
				Tiers:             []model.Tier{from},
				CreatedBefore:     &cutoff,
				IncludeSummarized: true,
				Order:             registrystore.OrderCreatedAsc,
				Limit:             e.chunkSize(),
			})
			if err != nil {
				return moved, err
			}
			if len(recs) == 0 {
				break
			}
			n, err := e.store.PromoteRecords(ctx, userID, recordIDs(recs), to, now)
			if err != nil {
				return moved, err
			}
			moved += n
			ruleMoved += n
			if n == 0 || len(recs) < e.chunkSize() {
				break
			}
		}
		if ruleMoved > 0 && e.bus != nil {
			e.bus.Publish(ctx, model.MemoryEvent{
				Kind:   model.EventMigrated,
				UserID: userID,
				Metadata: map[string]interface{}{
					"from":  rule.From,
					"to":    rule.To,
					"count": ruleMoved,
				},
				Success: true,
			})
		}
	}
	return moved, nil
}

// expireUser deletes records that aged out of a tier no migration rule
// leaves. The terminal tier has no expiry unless one is configured.
func (e *Executor) expireUser(ctx context.Context, userID string) (int64, error) {
	var deleted int64
	now := e.now()
	for _, exp := range e.cfg.ExpiryDeletions() {
		cutoff := now.Add(-exp.Age())
		var tierDeleted int64
		for {
			if err := ctx.Err(); err != nil {
				return deleted, err
			}
			recs, err := e.store.GetRecords(ctx, registrystore.RecordPredicate{
				UserID:            userID,
				Tiers:             []model.Tier{exp.Tier},
				CreatedBefore:     &cutoff,
				IncludeSummarized: true,
				Order:             registrystore.OrderCreatedAsc,
				Limit:             e.chunkSize(),
			})
			if err != nil {
				return deleted, err
			}
			if len(recs) == 0 {
				break
			}
			n, err := e.store.DeleteRecords(ctx, userID, recordIDs(recs))
			if err != nil {
				return deleted, err
			}
			deleted += n
			tierDeleted += n
			if n == 0 || len(recs) < e.chunkSize() {
				break
			}
		}
		if tierDeleted > 0 && e.bus != nil {
			e.bus.Publish(ctx, model.MemoryEvent{
				Kind:   model.EventDeleted,
				UserID: userID,
				Metadata: map[string]interface{}{
					"tier":  string(exp.Tier),
					"count": tierDeleted,
				},
				Success: true,
			})
		}
	}
	return deleted, nil
}

// trimUser rewrites over-length content in tiers carrying a trim rule and
// stamps the trimmed provenance flag.
func (e *Executor) trimUser(ctx context.Context, userID string) (int64, error) {
	var trimmed int64
	for _, tp := range e.cfg.Storage.Tiers {
		if tp.Trim.MaxChars <= 0 {
			continue
		}
		tier, err := model.ParseTier(tp.Name)
		if err != nil {
			return trimmed, err
		}
		recs, err := e.store.GetRecords(ctx, registrystore.RecordPredicate{
			UserID:            userID,
			Tiers:             []model.Tier{tier},
			ContentLongerThan: tp.Trim.MaxChars,
			Order:             registrystore.OrderCreatedAsc,
		})
		if err != nil {
			return trimmed, err
		}
		var tierTrimmed int64
		for i := range recs {
			rec := &recs[i]
			if err := ctx.Err(); err != nil {
				return trimmed, err
			}
			if tp.Trim.SkipHigh() && rec.Metadata.HighImportance() {
				continue
			}
			next := e.trimmer.Trim(rec.Content, tp.Trim.MaxChars)
			if next == rec.Content {
				continue
			}
			md := rec.Metadata.Clone()
			md[model.KeyTrimmed] = true
			if err := e.store.UpdateRecord(ctx, userID, rec.ID, registrystore.RecordPatch{
				Content:  &next,
				Metadata: md,
			}); err != nil {
				return trimmed, err
			}
			trimmed++
			tierTrimmed++
		}
		if tierTrimmed > 0 && e.bus != nil {
			e.bus.Publish(ctx, model.MemoryEvent{
				Kind:     model.EventTrimmed,
				UserID:   userID,
				Metadata: map[string]interface{}{"tier": tp.Name, "count": tierTrimmed},
				Success:  true,
			})
		}
	}
	return trimmed, nil
}

// summarizeUser condenses over-length content in tiers carrying a summarize
// rule. Records already carrying the summarized provenance flag are left
// alone, so a conservative summarizer cannot loop over its own output.
func (e *Executor) summarizeUser(ctx context.Context, userID string) (int64, error) {
	var summarized int64
	for _, tp := range e.cfg.Storage.Tiers {
		rule := tp.Summarize
		if rule.MinChars <= 0 {
			continue
		}
		tier, err := model.ParseTier(tp.Name)
		if err != nil {
			return summarized, err
		}
		recs, err := e.store.GetRecords(ctx, registrystore.RecordPredicate{
			UserID:            userID,
			Tiers:             []model.Tier{tier},
			ContentLongerThan: rule.MinChars - 1,
			Order:             registrystore.OrderCreatedAsc,
		})
		if err != nil {
			return summarized, err
		}
		target := rule.TargetChars
		if target <= 0 {
			target = rule.MinChars
		}
		var tierSummarized int64
		for i := range recs {
			rec := &recs[i]
			if err := ctx.Err(); err != nil {
				return summarized, err
			}
			if rule.SkipHigh() && rec.Metadata.HighImportance() {
				continue
			}
			if rec.Metadata.Summarized() {
				continue
			}
			next := e.summarizer.Summarize(ctx, rec.Content, target)
			if next == "" || next == rec.Content {
				continue
			}
			md := rec.Metadata.Clone()
			md[model.KeySummarized] = true
			if err := e.store.UpdateRecord(ctx, userID, rec.ID, registrystore.RecordPatch{
				Content:  &next,
				Metadata: md,
			}); err != nil {
				return summarized, err
			}
			summarized++
			tierSummarized++
		}
		if tierSummarized > 0 && e.bus != nil {
			e.bus.Publish(ctx, model.MemoryEvent{
				Kind:     model.EventSummarized,
				UserID:   userID,
				Metadata: map[string]interface{}{"tier": tp.Name, "count": tierSummarized},
				Success:  true,
			})
		}
	}
	return summarized, nil
}

// threadSummarizeUser folds completed long-term threads into single summary
// records. Members are flagged so default retrievals skip them; the summary
// carries their ids, which makes rerunning over the same thread a no-op.
func (e *Executor) threadSummarizeUser(ctx context.Context, userID string) (int64, error) {
	ts := e.cfg.Summarization.Thread
	if !ts.Enabled {
		return 0, nil
	}
	recs, err := e.store.GetRecords(ctx, registrystore.RecordPredicate{
		UserID: userID,
		Tiers:  []model.Tier{model.TierLongTerm},
		Order:  registrystore.OrderCreatedAsc,
	})
	if err != nil {
		return 0, err
	}
	groups := map[string][]model.MemoryRecord{}
	for _, rec := range recs {
		if rec.ThreadID == "" || rec.Metadata.Kind() == model.KindThreadSummary {
			continue
		}
		groups[rec.ThreadID] = append(groups[rec.ThreadID], rec)
	}
	threadIDs := make([]string, 0, len(groups))
	for id := range groups {
		threadIDs = append(threadIDs, id)
	}
	sort.Strings(threadIDs)

	var created int64
	now := e.now()
	for _, threadID := range threadIDs {
		group := groups[threadID]
		if len(group) < ts.MinRecords {
			continue
		}
		if err := ctx.Err(); err != nil {
			return created, err
		}
		ids := recordIDs(group)
		already, err := e.threadAlreadySummarized(ctx, userID, threadID, ids)
		if err != nil {
			return created, err
		}
		if already {
			continue
		}

		summary := e.summarizer.Summarize(ctx, threadInput(group, ts), ts.MaxChars)
		if summary == "" {
			continue
		}
		rec := &model.MemoryRecord{
			UserID:    userID,
			Namespace: group[0].Namespace,
			ThreadID:  threadID,
			Tier:      model.TierLongTerm,
			Content:   summary,
			Metadata: model.Metadata{
				model.KeyKind:      model.KindThreadSummary,
				model.KeySourceIDs: ids,
				model.KeyTopics:    topicsOf(group),
				model.KeyEntities:  entitiesOf(group),
			},
		}
		err = e.store.RunInTransaction(ctx, func(tx registrystore.MemoryStore) error {
			if _, err := tx.InsertRecord(ctx, rec); err != nil {
				return err
			}
			return tx.MarkSummarized(ctx, userID, ids, now)
		})
		if err != nil {
			return created, err
		}
		created++
		if e.bus != nil {
			e.bus.Publish(ctx, model.MemoryEvent{
				Kind:       model.EventThreadSummarized,
				UserID:     userID,
				ResourceID: strconv.FormatInt(rec.ID, 10),
				Metadata: map[string]interface{}{
					"thread_id":    threadID,
					"source_count": len(ids),
				},
				Success: true,
			})
		}
	}
	return created, nil
}

// threadAlreadySummarized reports whether an existing summary for the
// thread already covers every id in the group.
func (e *Executor) threadAlreadySummarized(ctx context.Context, userID, threadID string, ids []int64) (bool, error) {
	summaries, err := e.store.GetRecords(ctx, registrystore.RecordPredicate{
		UserID:            userID,
		ThreadID:          threadID,
		Tiers:             []model.Tier{model.TierLongTerm},
		MetadataFilter:    map[string]interface{}{model.KeyKind: model.KindThreadSummary},
		IncludeSummarized: true,
	})
	if err != nil {
		return false, err
	}
	for _, s := range summaries {
		covered := map[int64]bool{}
		for _, id := range s.Metadata.SourceIDs() {
			covered[id] = true
		}
		all := true
		for _, id := range ids {
			if !covered[id] {
				all = false
				break
			}
		}
		if all {
			return true, nil
		}
	}
	return false, nil
}

// threadInput renders a thread chronologically for the summarizer, one line
// per record, optionally prefixed with the group's topics and entities.
func threadInput(group []model.MemoryRecord, ts config.ThreadSummarization) string {
	var b strings.Builder
	if ts.IncludeMetadata {
		if topics := topicsOf(group); len(topics) > 0 {
			b.WriteString("topics: ")
			b.WriteString(strings.Join(topics, ", "))
			b.WriteString("\n")
		}
		if entities := entitiesOf(group); len(entities) > 0 {
			b.WriteString("entities: ")
			b.WriteString(strings.Join(entities, ", "))
			b.WriteString("\n")
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
	}
	for _, rec := range group {
		if role := rec.Metadata.Role(); role != "" {
			b.WriteString(role)
			b.WriteString(": ")
		}
		b.WriteString(rec.Content)
		b.WriteString("\n")
	}
	return b.String()
}

// clusterUser rebuilds the user's clusters when clustering is enabled.
func (e *Executor) clusterUser(ctx context.Context, userID string) (int64, error) {
	if !e.cfg.Clustering.Enabled {
		return 0, nil
	}
	return e.RebuildClusters(ctx, userID)
}

// RebuildClusters regroups the user's unsummarized long-term records by
// (topic, category) and upserts one cluster per group of at least
// MinClusterSize members. Returns how many cluster rows actually changed;
// rebuilding over unchanged records only refreshes last_built_at and
// reports zero.
func (e *Executor) RebuildClusters(ctx context.Context, userID string) (int64, error) {
	recs, err := e.store.GetRecords(ctx, registrystore.RecordPredicate{
		UserID: userID,
		Tiers:  []model.Tier{model.TierLongTerm},
		Order:  registrystore.OrderCreatedAsc,
	})
	if err != nil {
		return 0, err
	}

	type clusterKey struct{ topic, category string }
	groups := map[clusterKey][]model.MemoryRecord{}
	for _, rec := range recs {
		topic, category := rec.Metadata.Topic(), rec.Metadata.Category()
		if topic == "" || category == "" {
			continue
		}
		k := clusterKey{topic, category}
		groups[k] = append(groups[k], rec)
	}
	keys := make([]clusterKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].topic != keys[j].topic {
			return keys[i].topic < keys[j].topic
		}
		return keys[i].category < keys[j].category
	})

	var changed int64
	now := e.now()
	for _, k := range keys {
		group := groups[k]
		if len(group) < e.cfg.Clustering.MinClusterSize {
			continue
		}
		if err := ctx.Err(); err != nil {
			return changed, err
		}
		parts := make([]string, 0, len(group))
		first, last := group[0].CreatedAt, group[0].CreatedAt
		for _, rec := range group {
			parts = append(parts, rec.Content)
			if rec.CreatedAt.Before(first) {
				first = rec.CreatedAt
			}
			if rec.CreatedAt.After(last) {
				last = rec.CreatedAt
			}
		}
		cluster := &model.MemoryCluster{
			UserID:      userID,
			Topic:       k.topic,
			Category:    k.category,
			MemoryIDs:   recordIDs(group),
			Summary:     e.summarizer.Summarize(ctx, strings.Join(parts, "\n"), e.cfg.Clustering.MaxChars),
			FirstSeen:   first,
			LastSeen:    last,
			LastBuiltAt: now,
			Occurrences: int64(len(group)),
		}
		ch, err := e.store.UpsertCluster(ctx, cluster)
		if err != nil {
			return changed, err
		}
		if ch {
			changed++
		}
		if err := e.linkThreads(ctx, userID, group); err != nil {
			return changed, err
		}
	}

	if e.cache != nil && e.cache.Available() {
		if err := e.cache.InvalidateUser(ctx, userID); err != nil {
			log.Warn("Occurrence cache invalidation failed", "user", userID, "err", err)
		}
	}
	if changed > 0 && e.bus != nil {
		e.bus.Publish(ctx, model.MemoryEvent{
			Kind:     model.EventClustered,
			UserID:   userID,
			Metadata: map[string]interface{}{"changed": changed},
			Success:  true,
		})
	}
	return changed, nil
}

// linkThreads writes the advisory related_threads list on records whose
// cluster spans multiple threads. updated_at is pinned so an advisory write
// never refreshes recency.
func (e *Executor) linkThreads(ctx context.Context, userID string, group []model.MemoryRecord) error {
	threadSet := map[string]bool{}
	for _, rec := range group {
		if rec.ThreadID != "" {
			threadSet[rec.ThreadID] = true
		}
	}
	if len(threadSet) < 2 {
		return nil
	}
	threads := sortedKeys(threadSet)
	for i := range group {
		rec := &group[i]
		related := make([]string, 0, len(threads))
		for _, t := range threads {
			if t != rec.ThreadID {
				related = append(related, t)
			}
		}
		if stringSlicesEqual(rec.RelatedThreads, related) {
			continue
		}
		updatedAt := rec.UpdatedAt
		if err := e.store.UpdateRecord(ctx, userID, rec.ID, registrystore.RecordPatch{
			RelatedThreads: related,
			UpdatedAt:      &updatedAt,
		}); err != nil {
			return err
		}
	}
	return nil
}

func recordIDs(recs []model.MemoryRecord) []int64 {
	ids := make([]int64, len(recs))
	for i := range recs {
		ids[i] = recs[i].ID
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })
	return ids
}

func topicsOf(group []model.MemoryRecord) []string {
	set := map[string]bool{}
	for _, rec := range group {
		if t := rec.Metadata.Topic(); t != "" {
			set[t] = true
		}
		for _, t := range rec.Metadata.Topics() {
			if t != "" {
				set[t] = true
			}
		}
	}
	return sortedKeys(set)
}

func entitiesOf(group []model.MemoryRecord) []string {
	set := map[string]bool{}
	for _, rec := range group {
		for _, e := range rec.Metadata.Entities() {
			if e != "" {
				set[e] = true
			}
		}
	}
	return sortedKeys(set)
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func stringSlicesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func isDeadline(err error) bool {
	if err == nil {
		return false
	}
	var timeout *registrystore.TimeoutError
	return errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) ||
		errors.As(err, &timeout)
}
