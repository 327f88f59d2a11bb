package enrich

import (
	"context"
	"fmt"

	"github.com/memoric/memoric/internal/model"
)

// Enricher derives metadata from record content at save time. The result
// must be a superset of existing: implementations may add keys but never
// overwrite or drop caller-supplied ones.
type Enricher interface {
	Enrich(ctx context.Context, content string, existing model.Metadata) (model.Metadata, error)
}

// Loader creates an Enricher from config.
type Loader func(ctx context.Context) (Enricher, error)

// Plugin represents an enricher plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds an enricher plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered enricher plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named enricher plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown enricher %q; valid: %v", name, Names())
}
