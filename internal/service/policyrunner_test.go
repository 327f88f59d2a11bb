package service_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/memoric/memoric/internal/config"
	"github.com/memoric/memoric/internal/memory"
	"github.com/memoric/memoric/internal/model"
	"github.com/memoric/memoric/internal/plugin/store/sqlite"
	registrymigrate "github.com/memoric/memoric/internal/registry/migrate"
	registrystore "github.com/memoric/memoric/internal/registry/store"
	"github.com/memoric/memoric/internal/service"
)

func setupManager(t *testing.T) (*memory.Manager, registrystore.MemoryStore, context.Context) {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.DBKind = "sqlite"
	cfg.DBURL = "file:" + filepath.Join(t.TempDir(), "memoric.db") + "?_busy_timeout=5000&_journal_mode=WAL"
	ctx := config.WithContext(context.Background(), &cfg)

	// Ensure the sqlite store plugin is registered.
	_ = sqlite.ForceImport

	require.NoError(t, registrymigrate.RunAll(ctx))

	loader, err := registrystore.Select("sqlite")
	require.NoError(t, err)
	store, err := loader(ctx)
	require.NoError(t, err)

	return memory.New(ctx, &cfg, store), store, ctx
}

func TestPolicyRunnerDisabledWithZeroInterval(t *testing.T) {
	mgr, _, ctx := setupManager(t)

	runner := service.NewPolicyRunner(mgr, 0, 0)
	done := make(chan struct{})
	go func() {
		runner.Start(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("runner with zero interval should return immediately")
	}
}

func TestPolicyRunnerSweepsOnTick(t *testing.T) {
	mgr, store, ctx := setupManager(t)

	oldAt := time.Now().UTC().Add(-8 * 24 * time.Hour)
	id, err := store.InsertRecord(ctx, &model.MemoryRecord{
		UserID: "user1", Content: "aged", CreatedAt: oldAt, UpdatedAt: oldAt,
	})
	require.NoError(t, err)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	runner := service.NewPolicyRunner(mgr, 10*time.Millisecond, time.Second)
	go runner.Start(runCtx)

	require.Eventually(t, func() bool {
		rec, err := store.GetRecord(ctx, "user1", id)
		return err == nil && rec.Tier == model.TierMidTerm
	}, 5*time.Second, 20*time.Millisecond, "aged record should migrate on a sweep")
}

func TestPolicyRunnerStopsOnCancel(t *testing.T) {
	mgr, _, ctx := setupManager(t)

	runCtx, cancel := context.WithCancel(ctx)
	runner := service.NewPolicyRunner(mgr, time.Hour, 0)

	done := make(chan struct{})
	go func() {
		runner.Start(runCtx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("runner should stop when its context is cancelled")
	}
}
