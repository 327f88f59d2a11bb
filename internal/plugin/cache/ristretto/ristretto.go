package ristretto

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	ristretto "github.com/dgraph-io/ristretto/v2"

	"github.com/memoric/memoric/internal/config"
	registrycache "github.com/memoric/memoric/internal/registry/cache"
)

const defaultMaxCost = 100_000

func init() {
	registrycache.Register(registrycache.Plugin{
		Name: "ristretto",
		Loader: func(ctx context.Context) (registrycache.OccurrenceCache, error) {
			cfg := config.FromContext(ctx)
			maxCost := int64(defaultMaxCost)
			if cfg != nil && cfg.RistrettoMaxCost > 0 {
				maxCost = cfg.RistrettoMaxCost
			}
			return New(maxCost)
		},
	})
}

// New builds an in-process occurrence cache holding up to maxCost entries.
func New(maxCost int64) (*Cache, error) {
	inner, err := ristretto.NewCache(&ristretto.Config[string, int64]{
		NumCounters: maxCost * 10,
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("ristretto cache: %w", err)
	}
	return &Cache{cache: inner}, nil
}

// Cache is an in-process OccurrenceCache. Ristretto has no per-prefix
// deletion, so each user carries an epoch that is part of the cache key;
// bumping the epoch orphans that user's entries and eviction reclaims them.
type Cache struct {
	cache  *ristretto.Cache[string, int64]
	epochs sync.Map // userID → *atomic.Int64
}

var _ registrycache.OccurrenceCache = (*Cache)(nil)

func (c *Cache) epoch(userID string) *atomic.Int64 {
	v, _ := c.epochs.LoadOrStore(userID, new(atomic.Int64))
	return v.(*atomic.Int64)
}

func (c *Cache) key(userID, topic, category string) string {
	return fmt.Sprintf("%d\x1f%s\x1f%s\x1f%s", c.epoch(userID).Load(), userID, topic, category)
}

func (c *Cache) Available() bool { return true }

func (c *Cache) Get(_ context.Context, userID, topic, category string) (int64, bool) {
	return c.cache.Get(c.key(userID, topic, category))
}

func (c *Cache) Set(_ context.Context, userID, topic, category string, occurrences int64) error {
	c.cache.Set(c.key(userID, topic, category), occurrences, 1)
	return nil
}

func (c *Cache) InvalidateUser(_ context.Context, userID string) error {
	c.epoch(userID).Add(1)
	return nil
}

// Wait blocks until buffered writes are applied. Reads issued before Wait
// returns may miss entries that are still in flight.
func (c *Cache) Wait() { c.cache.Wait() }
