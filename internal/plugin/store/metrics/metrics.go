package metrics

import (
	"context"
	"time"

	"github.com/memoric/memoric/internal/model"
	"github.com/memoric/memoric/internal/registry/store"
	"github.com/memoric/memoric/internal/security"
)

// Wrap returns a MemoryStore that records operation latency for every call,
// labeled with the backing engine.
func Wrap(inner store.MemoryStore) store.MemoryStore {
	return &metricsStore{inner: inner, backend: inner.Dialect()}
}

type metricsStore struct {
	inner   store.MemoryStore
	backend string
}

func (m *metricsStore) observe(op string, start time.Time) {
	if security.StoreOpSeconds != nil {
		security.StoreOpSeconds.WithLabelValues(op, m.backend).Observe(time.Since(start).Seconds())
	}
}

func (m *metricsStore) InsertRecord(ctx context.Context, rec *model.MemoryRecord) (int64, error) {
	defer m.observe("insert_record", time.Now())
	return m.inner.InsertRecord(ctx, rec)
}

func (m *metricsStore) GetRecord(ctx context.Context, userID string, id int64) (*model.MemoryRecord, error) {
	defer m.observe("get_record", time.Now())
	return m.inner.GetRecord(ctx, userID, id)
}

func (m *metricsStore) UpdateRecord(ctx context.Context, userID string, id int64, patch store.RecordPatch) error {
	defer m.observe("update_record", time.Now())
	return m.inner.UpdateRecord(ctx, userID, id, patch)
}

func (m *metricsStore) DeleteRecord(ctx context.Context, userID string, id int64) error {
	defer m.observe("delete_record", time.Now())
	return m.inner.DeleteRecord(ctx, userID, id)
}

func (m *metricsStore) DeleteRecords(ctx context.Context, userID string, ids []int64) (int64, error) {
	defer m.observe("delete_records", time.Now())
	return m.inner.DeleteRecords(ctx, userID, ids)
}

func (m *metricsStore) GetRecords(ctx context.Context, pred store.RecordPredicate) ([]model.MemoryRecord, error) {
	defer m.observe("get_records", time.Now())
	return m.inner.GetRecords(ctx, pred)
}

func (m *metricsStore) CountRecords(ctx context.Context, pred store.RecordPredicate) (int64, error) {
	defer m.observe("count_records", time.Now())
	return m.inner.CountRecords(ctx, pred)
}

func (m *metricsStore) PromoteRecords(ctx context.Context, userID string, ids []int64, target model.Tier, now time.Time) (int64, error) {
	defer m.observe("promote_records", time.Now())
	return m.inner.PromoteRecords(ctx, userID, ids, target, now)
}

func (m *metricsStore) MarkSummarized(ctx context.Context, userID string, ids []int64, now time.Time) error {
	defer m.observe("mark_summarized", time.Now())
	return m.inner.MarkSummarized(ctx, userID, ids, now)
}

func (m *metricsStore) TierCounts(ctx context.Context, userID string) (map[model.Tier]int64, error) {
	defer m.observe("tier_counts", time.Now())
	return m.inner.TierCounts(ctx, userID)
}

func (m *metricsStore) ListUserIDs(ctx context.Context) ([]string, error) {
	defer m.observe("list_user_ids", time.Now())
	return m.inner.ListUserIDs(ctx)
}

func (m *metricsStore) UpsertCluster(ctx context.Context, cluster *model.MemoryCluster) (bool, error) {
	defer m.observe("upsert_cluster", time.Now())
	return m.inner.UpsertCluster(ctx, cluster)
}

func (m *metricsStore) GetClusters(ctx context.Context, q store.ClusterQuery) ([]model.MemoryCluster, error) {
	defer m.observe("get_clusters", time.Now())
	return m.inner.GetClusters(ctx, q)
}

func (m *metricsStore) AppendEvent(ctx context.Context, ev *model.MemoryEvent) error {
	defer m.observe("append_event", time.Now())
	return m.inner.AppendEvent(ctx, ev)
}

func (m *metricsStore) ListEvents(ctx context.Context, q store.EventQuery) ([]model.MemoryEvent, error) {
	defer m.observe("list_events", time.Now())
	return m.inner.ListEvents(ctx, q)
}

// RunInTransaction times the whole transaction; fn runs against the
// undecorated transaction view.
func (m *metricsStore) RunInTransaction(ctx context.Context, fn func(tx store.MemoryStore) error) error {
	defer m.observe("run_in_transaction", time.Now())
	return m.inner.RunInTransaction(ctx, fn)
}

func (m *metricsStore) Dialect() string {
	return m.inner.Dialect()
}
