package events_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memoric/memoric/internal/config"
	"github.com/memoric/memoric/internal/events"
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

func TestPublishStampsAndPersists(t *testing.T) {
	store, ctx := setupTestStore(t)
	bus := events.NewBus(store)

	bus.Publish(ctx, model.MemoryEvent{
		Kind:     model.EventCreated,
		UserID:   "user1",
		Metadata: map[string]interface{}{"tier": "short_term"},
	})

	evs, err := store.ListEvents(ctx, registrystore.EventQuery{UserID: "user1"})
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, model.EventCreated, evs[0].Kind)
	assert.NotEqual(t, uuid.Nil, evs[0].ID)
	assert.False(t, evs[0].OccurredAt.IsZero())
	assert.True(t, evs[0].Success)
}

func TestPublishKeepsCallerStamps(t *testing.T) {
	store, ctx := setupTestStore(t)
	bus := events.NewBus(store)

	id := uuid.New()
	bus.Publish(ctx, model.MemoryEvent{ID: id, Kind: model.EventDeleted, UserID: "user1"})

	evs, err := store.ListEvents(ctx, registrystore.EventQuery{UserID: "user1"})
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, id, evs[0].ID)
}

func TestPublishWithoutStoreServesSubscribers(t *testing.T) {
	bus := events.NewBus(nil)

	var seen []model.MemoryEvent
	bus.Subscribe(func(ev model.MemoryEvent) { seen = append(seen, ev) })

	bus.Publish(context.Background(), model.MemoryEvent{Kind: model.EventRetrieved, UserID: "user1"})

	require.Len(t, seen, 1)
	assert.Equal(t, model.EventRetrieved, seen[0].Kind)
	assert.NotEqual(t, uuid.Nil, seen[0].ID)
}

func TestSubscriberPanicIsContained(t *testing.T) {
	bus := events.NewBus(nil)

	bus.Subscribe(func(ev model.MemoryEvent) { panic("boom") })
	var delivered int
	bus.Subscribe(func(ev model.MemoryEvent) { delivered++ })

	// Must not panic, and later subscribers still see the event.
	bus.Publish(context.Background(), model.MemoryEvent{Kind: model.EventCreated})
	assert.Equal(t, 1, delivered)
}

func TestSubscribeNilIgnored(t *testing.T) {
	bus := events.NewBus(nil)
	bus.Subscribe(nil)
	bus.Publish(context.Background(), model.MemoryEvent{Kind: model.EventCreated})
}

func TestFailureCarriesErrorText(t *testing.T) {
	store, ctx := setupTestStore(t)
	bus := events.NewBus(store)

	bus.Failure(ctx, model.EventPolicyRun, "user1", errors.New("store unavailable"),
		map[string]interface{}{"phase": "migrate"})

	evs, err := store.ListEvents(ctx, registrystore.EventQuery{UserID: "user1", Kinds: []string{model.EventPolicyRun}})
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.False(t, evs[0].Success)
	assert.Equal(t, "store unavailable", evs[0].Error)
	assert.Equal(t, "migrate", evs[0].Metadata["phase"])
}
