package migrate

import (
	"context"
	"fmt"
	"sort"

	"github.com/charmbracelet/log"
)

// Migrator runs schema migrations for one store plugin.
type Migrator interface {
	Name() string
	Migrate(ctx context.Context) error
}

// Plugin pairs a migrator with an order so execution is deterministic.
type Plugin struct {
	Order    int
	Migrator Migrator
}

var registered []Plugin

// Register adds a migration plugin. Called from init() in plugin packages.
func Register(p Plugin) {
	registered = append(registered, p)
	sort.SliceStable(registered, func(i, j int) bool { return registered[i].Order < registered[j].Order })
}

// RunAll executes every registered migrator in order, stopping at the first
// failure.
func RunAll(ctx context.Context) error {
	for _, p := range registered {
		log.Debug("Migration: running", "name", p.Migrator.Name())
		if err := p.Migrator.Migrate(ctx); err != nil {
			return fmt.Errorf("migration %s failed: %w", p.Migrator.Name(), err)
		}
	}
	return nil
}
