package noop

import (
	"context"

	"github.com/memoric/memoric/internal/registry/cache"
)

func init() {
	cache.Register(cache.Plugin{
		Name: "none",
		Loader: func(ctx context.Context) (cache.OccurrenceCache, error) {
			return &noopOccurrenceCache{}, nil
		},
	})
}

// noopOccurrenceCache misses every read; retrieval falls back to the
// cluster table.
type noopOccurrenceCache struct{}

func (n *noopOccurrenceCache) Available() bool { return false }
func (n *noopOccurrenceCache) Get(_ context.Context, _, _, _ string) (int64, bool) {
	return 0, false
}
func (n *noopOccurrenceCache) Set(_ context.Context, _, _, _ string, _ int64) error { return nil }
func (n *noopOccurrenceCache) InvalidateUser(_ context.Context, _ string) error     { return nil }

var _ cache.OccurrenceCache = (*noopOccurrenceCache)(nil)
