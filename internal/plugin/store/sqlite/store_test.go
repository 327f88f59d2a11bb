package sqlite_test

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memoric/memoric/internal/config"
	"github.com/memoric/memoric/internal/model"
	"github.com/memoric/memoric/internal/plugin/store/sqlite"
	registrymigrate "github.com/memoric/memoric/internal/registry/migrate"
	registrystore "github.com/memoric/memoric/internal/registry/store"
)

func setupTestStore(t *testing.T) (registrystore.MemoryStore, context.Context) {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.DBKind = "sqlite"
	cfg.DBURL = "file:" + filepath.Join(t.TempDir(), "memoric.db") + "?_busy_timeout=5000&_journal_mode=WAL"
	ctx := config.WithContext(context.Background(), &cfg)

	// Ensure the sqlite store plugin is registered.
	_ = sqlite.ForceImport

	err := registrymigrate.RunAll(ctx)
	require.NoError(t, err)

	loader, err := registrystore.Select("sqlite")
	require.NoError(t, err)

	store, err := loader(ctx)
	require.NoError(t, err)

	return store, ctx
}

func insertRecord(t *testing.T, store registrystore.MemoryStore, ctx context.Context, rec model.MemoryRecord) int64 {
	t.Helper()
	id, err := store.InsertRecord(ctx, &rec)
	require.NoError(t, err)
	return id
}

func TestInsertRecordDefaults(t *testing.T) {
	store, ctx := setupTestStore(t)

	id := insertRecord(t, store, ctx, model.MemoryRecord{
		UserID:  "user1",
		Content: "plain record",
	})

	got, err := store.GetRecord(ctx, "user1", id)
	require.NoError(t, err)
	assert.Equal(t, model.DefaultNamespace, got.Namespace)
	assert.Equal(t, model.TierShortTerm, got.Tier)
	assert.NotNil(t, got.Metadata)
	assert.False(t, got.Summarized)
	assert.False(t, got.CreatedAt.IsZero())
	assert.Equal(t, got.CreatedAt, got.UpdatedAt)
}

func TestInsertRecordValidation(t *testing.T) {
	store, ctx := setupTestStore(t)

	var validation *sqlite.ValidationError
	_, err := store.InsertRecord(ctx, &model.MemoryRecord{Content: "no user"})
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "user_id", validation.Field)

	_, err = store.InsertRecord(ctx, &model.MemoryRecord{UserID: "user1"})
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "content", validation.Field)
}

func TestUserIsolation(t *testing.T) {
	store, ctx := setupTestStore(t)

	aliceID := insertRecord(t, store, ctx, model.MemoryRecord{UserID: "alice", Content: "alice memory"})
	insertRecord(t, store, ctx, model.MemoryRecord{UserID: "alice", Content: "another alice memory"})
	insertRecord(t, store, ctx, model.MemoryRecord{UserID: "bob", Content: "bob memory"})

	aliceRecs, err := store.GetRecords(ctx, registrystore.RecordPredicate{UserID: "alice"})
	require.NoError(t, err)
	assert.Len(t, aliceRecs, 2)

	bobRecs, err := store.GetRecords(ctx, registrystore.RecordPredicate{UserID: "bob"})
	require.NoError(t, err)
	assert.Len(t, bobRecs, 1)
	assert.Equal(t, "bob memory", bobRecs[0].Content)

	// Cross-user reads and deletes never touch another user's rows.
	_, err = store.GetRecord(ctx, "bob", aliceID)
	var notFound *sqlite.NotFoundError
	assert.ErrorAs(t, err, &notFound)

	require.NoError(t, store.DeleteRecord(ctx, "bob", aliceID))
	_, err = store.GetRecord(ctx, "alice", aliceID)
	assert.NoError(t, err)

	// Smuggling another user's id through the metadata filter leaks
	// nothing; the filter only ever narrows the caller's own rows.
	leaked, err := store.GetRecords(ctx, registrystore.RecordPredicate{
		UserID:         "bob",
		MetadataFilter: map[string]interface{}{"user_id": "alice"},
	})
	require.NoError(t, err)
	assert.Empty(t, leaked)

	// A predicate without a user must opt into global scope explicitly.
	_, err = store.GetRecords(ctx, registrystore.RecordPredicate{})
	var validation *sqlite.ValidationError
	assert.ErrorAs(t, err, &validation)

	all, err := store.GetRecords(ctx, registrystore.RecordPredicate{GlobalScope: true})
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestGetRecordsFilters(t *testing.T) {
	store, ctx := setupTestStore(t)

	base := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	insertRecord(t, store, ctx, model.MemoryRecord{
		UserID: "user1", ThreadID: "t1", SessionID: "s1",
		Content: "short thread note", Tier: model.TierShortTerm,
		CreatedAt: base, UpdatedAt: base,
	})
	insertRecord(t, store, ctx, model.MemoryRecord{
		UserID: "user1", ThreadID: "t1",
		Content: "a considerably longer mid tier note about the same thread",
		Tier:    model.TierMidTerm,
		CreatedAt: base.Add(time.Hour), UpdatedAt: base.Add(time.Hour),
	})
	summarizedID := insertRecord(t, store, ctx, model.MemoryRecord{
		UserID: "user1", ThreadID: "t2",
		Content: "folded into a summary", Tier: model.TierLongTerm,
		CreatedAt: base.Add(2 * time.Hour), UpdatedAt: base.Add(2 * time.Hour),
	})
	now := time.Now().UTC()
	require.NoError(t, store.MarkSummarized(ctx, "user1", []int64{summarizedID}, now))

	recs, err := store.GetRecords(ctx, registrystore.RecordPredicate{UserID: "user1", ThreadID: "t1"})
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	recs, err = store.GetRecords(ctx, registrystore.RecordPredicate{UserID: "user1", SessionID: "s1"})
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	recs, err = store.GetRecords(ctx, registrystore.RecordPredicate{
		UserID: "user1",
		Tiers:  []model.Tier{model.TierShortTerm, model.TierMidTerm},
	})
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	// Summarized records are excluded unless asked for.
	recs, err = store.GetRecords(ctx, registrystore.RecordPredicate{UserID: "user1"})
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	recs, err = store.GetRecords(ctx, registrystore.RecordPredicate{UserID: "user1", IncludeSummarized: true})
	require.NoError(t, err)
	assert.Len(t, recs, 3)

	// Created bounds are inclusive.
	cutoff := base.Add(time.Hour)
	recs, err = store.GetRecords(ctx, registrystore.RecordPredicate{
		UserID: "user1", CreatedBefore: &cutoff, IncludeSummarized: true,
	})
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	recs, err = store.GetRecords(ctx, registrystore.RecordPredicate{
		UserID: "user1", CreatedAfter: &cutoff, IncludeSummarized: true,
	})
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	recs, err = store.GetRecords(ctx, registrystore.RecordPredicate{
		UserID: "user1", ContentLongerThan: 30, IncludeSummarized: true,
	})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, model.TierMidTerm, recs[0].Tier)
}

func TestMetadataContainmentFilter(t *testing.T) {
	store, ctx := setupTestStore(t)

	insertRecord(t, store, ctx, model.MemoryRecord{
		UserID:  "user1",
		Content: "tagged record",
		Metadata: model.Metadata{
			"tags":     []string{"a", "b"},
			"topic":    "billing",
			"priority": 3,
			"nested":   map[string]interface{}{"env": "prod", "region": "us"},
		},
	})
	insertRecord(t, store, ctx, model.MemoryRecord{
		UserID:   "user1",
		Content:  "untagged record",
		Metadata: model.Metadata{"topic": "billing"},
	})

	// Mirrors the postgres containment grid: both dialects must return
	// identical result sets for the same filter.
	cases := []struct {
		name   string
		filter map[string]interface{}
		want   int
	}{
		{"single tag subset", map[string]interface{}{"tags": []string{"a"}}, 1},
		{"full tag set", map[string]interface{}{"tags": []string{"a", "b"}}, 1},
		{"tag not stored", map[string]interface{}{"tags": []string{"a", "c"}}, 0},
		{"scalar equality", map[string]interface{}{"topic": "billing"}, 2},
		{"scalar against stored list", map[string]interface{}{"tags": "a"}, 1},
		{"numeric equality", map[string]interface{}{"priority": 3}, 1},
		{"nested partial object", map[string]interface{}{"nested": map[string]interface{}{"env": "prod"}}, 1},
		{"nested mismatch", map[string]interface{}{"nested": map[string]interface{}{"env": "dev"}}, 0},
		{"absent key", map[string]interface{}{"missing": "x"}, 0},
		{"combined scalar and list subset", map[string]interface{}{"topic": "billing", "tags": []string{"a"}}, 1},
		{"combined with missing element", map[string]interface{}{"topic": "billing", "tags": []string{"c"}}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			recs, err := store.GetRecords(ctx, registrystore.RecordPredicate{
				UserID:         "user1",
				MetadataFilter: tc.filter,
			})
			require.NoError(t, err)
			assert.Len(t, recs, tc.want)
		})
	}
}

func TestContainmentFilterPagination(t *testing.T) {
	store, ctx := setupTestStore(t)

	// More rows than one candidate page so the scan has to cross a page
	// boundary while filtering.
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	const total = 510
	for i := 0; i < total; i++ {
		tags := []string{"b"}
		if i%3 == 0 {
			tags = []string{"a", "x"}
		}
		at := base.Add(time.Duration(i) * time.Second)
		insertRecord(t, store, ctx, model.MemoryRecord{
			UserID:    "user1",
			Content:   fmt.Sprintf("record %d", i),
			Metadata:  model.Metadata{"tags": tags, "seq": i},
			CreatedAt: at,
			UpdatedAt: at,
		})
	}

	recs, err := store.GetRecords(ctx, registrystore.RecordPredicate{
		UserID:         "user1",
		MetadataFilter: map[string]interface{}{"tags": []string{"a"}},
		Limit:          50,
	})
	require.NoError(t, err)
	require.Len(t, recs, 50)
	// Newest matching rows first: seq 507, 504, ...
	assert.Equal(t, float64(507), recs[0].Metadata["seq"])
	assert.Equal(t, float64(504), recs[1].Metadata["seq"])
	assert.Equal(t, float64(507-49*3), recs[49].Metadata["seq"])

	count, err := store.CountRecords(ctx, registrystore.RecordPredicate{
		UserID:         "user1",
		MetadataFilter: map[string]interface{}{"tags": []string{"a"}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(170), count)
}

func TestRecordOrdering(t *testing.T) {
	store, ctx := setupTestStore(t)

	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	id1 := insertRecord(t, store, ctx, model.MemoryRecord{
		UserID: "user1", Content: "first", CreatedAt: at, UpdatedAt: at.Add(time.Minute),
	})
	id2 := insertRecord(t, store, ctx, model.MemoryRecord{
		UserID: "user1", Content: "second", CreatedAt: at.Add(time.Second), UpdatedAt: at.Add(time.Minute),
	})
	id3 := insertRecord(t, store, ctx, model.MemoryRecord{
		UserID: "user1", Content: "third", CreatedAt: at.Add(2 * time.Second), UpdatedAt: at.Add(2 * time.Minute),
	})

	// Default order: updated_at desc, ties broken by id desc.
	recs, err := store.GetRecords(ctx, registrystore.RecordPredicate{UserID: "user1"})
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, id3, recs[0].ID)
	assert.Equal(t, id2, recs[1].ID)
	assert.Equal(t, id1, recs[2].ID)

	recs, err = store.GetRecords(ctx, registrystore.RecordPredicate{
		UserID: "user1",
		Order:  registrystore.OrderCreatedAsc,
	})
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, id1, recs[0].ID)
	assert.Equal(t, id3, recs[2].ID)

	recs, err = store.GetRecords(ctx, registrystore.RecordPredicate{UserID: "user1", Limit: 2})
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestPromoteRecordsForwardOnly(t *testing.T) {
	store, ctx := setupTestStore(t)

	shortID := insertRecord(t, store, ctx, model.MemoryRecord{UserID: "user1", Content: "short"})
	midID := insertRecord(t, store, ctx, model.MemoryRecord{UserID: "user1", Content: "mid", Tier: model.TierMidTerm})
	longID := insertRecord(t, store, ctx, model.MemoryRecord{UserID: "user1", Content: "long", Tier: model.TierLongTerm})

	now := time.Now().UTC()
	n, err := store.PromoteRecords(ctx, "user1", []int64{shortID, midID, longID}, model.TierLongTerm, now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	for _, id := range []int64{shortID, midID, longID} {
		got, err := store.GetRecord(ctx, "user1", id)
		require.NoError(t, err)
		assert.Equal(t, model.TierLongTerm, got.Tier)
	}

	// There is nothing below the lowest tier to promote from.
	_, err = store.PromoteRecords(ctx, "user1", []int64{shortID}, model.TierShortTerm, now)
	var validation *sqlite.ValidationError
	assert.ErrorAs(t, err, &validation)

	n, err = store.PromoteRecords(ctx, "user1", nil, model.TierLongTerm, now)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMarkSummarized(t *testing.T) {
	store, ctx := setupTestStore(t)

	id := insertRecord(t, store, ctx, model.MemoryRecord{UserID: "user1", Content: "to fold"})
	now := time.Now().UTC().Truncate(time.Second).Add(time.Hour)
	require.NoError(t, store.MarkSummarized(ctx, "user1", []int64{id}, now))

	got, err := store.GetRecord(ctx, "user1", id)
	require.NoError(t, err)
	assert.True(t, got.Summarized)
	assert.True(t, now.Equal(got.UpdatedAt))
}

func TestTierCountsAndListUserIDs(t *testing.T) {
	store, ctx := setupTestStore(t)

	insertRecord(t, store, ctx, model.MemoryRecord{UserID: "carol", Content: "one"})
	insertRecord(t, store, ctx, model.MemoryRecord{UserID: "carol", Content: "two"})
	insertRecord(t, store, ctx, model.MemoryRecord{UserID: "carol", Content: "three", Tier: model.TierMidTerm})
	insertRecord(t, store, ctx, model.MemoryRecord{UserID: "dave", Content: "four"})

	counts, err := store.TierCounts(ctx, "carol")
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[model.TierShortTerm])
	assert.Equal(t, int64(1), counts[model.TierMidTerm])
	assert.Equal(t, int64(0), counts[model.TierLongTerm])

	users, err := store.ListUserIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"carol", "dave"}, users)
}

func TestDeleteRecords(t *testing.T) {
	store, ctx := setupTestStore(t)

	id1 := insertRecord(t, store, ctx, model.MemoryRecord{UserID: "user1", Content: "one"})
	id2 := insertRecord(t, store, ctx, model.MemoryRecord{UserID: "user1", Content: "two"})
	otherID := insertRecord(t, store, ctx, model.MemoryRecord{UserID: "user2", Content: "other"})

	n, err := store.DeleteRecords(ctx, "user1", []int64{id1, id2, otherID})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = store.GetRecord(ctx, "user2", otherID)
	assert.NoError(t, err)

	n, err = store.DeleteRecords(ctx, "user1", nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestUpsertClusterLifecycle(t *testing.T) {
	store, ctx := setupTestStore(t)

	first := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	c := model.MemoryCluster{
		UserID:    "user1",
		Topic:     "deploys",
		Category:  "planning",
		MemoryIDs: []int64{9, 7, 8},
		Summary:   "deploy planning notes",
		FirstSeen: first,
		LastSeen:  first.Add(time.Hour),
	}
	changed, err := store.UpsertCluster(ctx, &c)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, []int64{7, 8, 9}, c.MemoryIDs)
	assert.Equal(t, int64(3), c.Occurrences)
	firstBuilt := c.LastBuiltAt

	// Identical rebuild: no change, only last_built_at moves.
	again := model.MemoryCluster{
		UserID:      "user1",
		Topic:       "deploys",
		Category:    "planning",
		MemoryIDs:   []int64{7, 8, 9},
		Summary:     "deploy planning notes",
		LastBuiltAt: firstBuilt.Add(time.Minute),
	}
	changed, err = store.UpsertCluster(ctx, &again)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, c.ID, again.ID)
	assert.True(t, again.LastBuiltAt.After(firstBuilt))

	// Growth widens the seen window and accumulates occurrences.
	grown := model.MemoryCluster{
		UserID:    "user1",
		Topic:     "deploys",
		Category:  "planning",
		MemoryIDs: []int64{7, 8, 9, 10},
		Summary:   "deploy planning notes, extended",
		FirstSeen: first.Add(-time.Hour),
		LastSeen:  first.Add(2 * time.Hour),
	}
	changed, err = store.UpsertCluster(ctx, &grown)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, []int64{7, 8, 9, 10}, grown.MemoryIDs)
	assert.Equal(t, int64(4), grown.Occurrences)
	assert.True(t, first.Add(-time.Hour).Equal(grown.FirstSeen))
	assert.True(t, first.Add(2*time.Hour).Equal(grown.LastSeen))

	clusters, err := store.GetClusters(ctx, registrystore.ClusterQuery{UserID: "user1"})
	require.NoError(t, err)
	require.Len(t, clusters, 1)

	clusters, err = store.GetClusters(ctx, registrystore.ClusterQuery{UserID: "user1", Topic: "deploys", Category: "planning"})
	require.NoError(t, err)
	require.Len(t, clusters, 1)

	clusters, err = store.GetClusters(ctx, registrystore.ClusterQuery{UserID: "user1", Topic: "other"})
	require.NoError(t, err)
	assert.Empty(t, clusters)
}

func TestEventsAppendAndList(t *testing.T) {
	store, ctx := setupTestStore(t)

	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	for i, kind := range []string{model.EventCreated, model.EventRetrieved, model.EventCreated, model.EventPolicyRun} {
		err := store.AppendEvent(ctx, &model.MemoryEvent{
			Kind:       kind,
			UserID:     "user1",
			Success:    kind != model.EventPolicyRun,
			OccurredAt: base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	events, err := store.ListEvents(ctx, registrystore.EventQuery{UserID: "user1"})
	require.NoError(t, err)
	require.Len(t, events, 4)
	// Newest first.
	assert.Equal(t, model.EventPolicyRun, events[0].Kind)
	assert.False(t, events[0].Success)

	events, err = store.ListEvents(ctx, registrystore.EventQuery{
		UserID: "user1",
		Kinds:  []string{model.EventCreated},
	})
	require.NoError(t, err)
	assert.Len(t, events, 2)

	after := base.Add(time.Minute)
	before := base.Add(2 * time.Minute)
	events, err = store.ListEvents(ctx, registrystore.EventQuery{
		UserID: "user1",
		After:  &after,
		Before: &before,
	})
	require.NoError(t, err)
	assert.Len(t, events, 2)

	events, err = store.ListEvents(ctx, registrystore.EventQuery{UserID: "user1", Limit: 1})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestEventAppendFillsIdentity(t *testing.T) {
	store, ctx := setupTestStore(t)

	ev := model.MemoryEvent{Kind: model.EventCreated, UserID: "user1", Success: true}
	require.NoError(t, store.AppendEvent(ctx, &ev))
	assert.NotEqual(t, "00000000-0000-0000-0000-000000000000", ev.ID.String())
	assert.False(t, ev.OccurredAt.IsZero())
}

func TestRunInTransactionRollsBack(t *testing.T) {
	store, ctx := setupTestStore(t)

	sentinel := &sqlite.ValidationError{Field: "test", Message: "abort"}
	err := store.RunInTransaction(ctx, func(tx registrystore.MemoryStore) error {
		_, err := tx.InsertRecord(ctx, &model.MemoryRecord{UserID: "user1", Content: "rolled back"})
		require.NoError(t, err)
		return sentinel
	})
	assert.Error(t, err)

	count, err := store.CountRecords(ctx, registrystore.RecordPredicate{UserID: "user1"})
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestRunInTransactionCommits(t *testing.T) {
	store, ctx := setupTestStore(t)

	err := store.RunInTransaction(ctx, func(tx registrystore.MemoryStore) error {
		if _, err := tx.InsertRecord(ctx, &model.MemoryRecord{UserID: "user1", Content: "kept"}); err != nil {
			return err
		}
		return tx.AppendEvent(ctx, &model.MemoryEvent{Kind: model.EventCreated, UserID: "user1", Success: true})
	})
	require.NoError(t, err)

	count, err := store.CountRecords(ctx, registrystore.RecordPredicate{UserID: "user1"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	events, err := store.ListEvents(ctx, registrystore.EventQuery{UserID: "user1"})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}
