package cache

import (
	"context"
	"fmt"
)

type occurrenceCacheKey struct{}

// WithOccurrenceCacheContext returns a new context carrying the given OccurrenceCache.
func WithOccurrenceCacheContext(ctx context.Context, c OccurrenceCache) context.Context {
	return context.WithValue(ctx, occurrenceCacheKey{}, c)
}

// OccurrenceCacheFromContext retrieves the OccurrenceCache from the context.
// Returns nil if none was set.
func OccurrenceCacheFromContext(ctx context.Context) OccurrenceCache {
	c, _ := ctx.Value(occurrenceCacheKey{}).(OccurrenceCache)
	return c
}

// OccurrenceCache caches per-user cluster occurrence counts so scoring does
// not hit the cluster table for every retrieval candidate. Entries are
// invalidated whenever a user's clusters are rebuilt.
type OccurrenceCache interface {
	Available() bool
	Get(ctx context.Context, userID, topic, category string) (int64, bool)
	Set(ctx context.Context, userID, topic, category string, occurrences int64) error
	InvalidateUser(ctx context.Context, userID string) error
}

// Loader creates a cache from config.
type Loader func(ctx context.Context) (OccurrenceCache, error)

// Plugin represents a cache plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a cache plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered cache plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named cache plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown cache %q; valid: %v", name, Names())
}
