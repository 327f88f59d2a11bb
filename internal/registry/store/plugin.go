package store

import (
	"context"
	"fmt"
	"time"

	"github.com/memoric/memoric/internal/model"
)

// RecordOrder selects the sort applied to record queries.
type RecordOrder string

const (
	// OrderUpdatedDesc sorts by updated_at descending, id descending on ties.
	OrderUpdatedDesc RecordOrder = "updated_desc"
	// OrderCreatedAsc sorts by created_at ascending, id ascending on ties.
	OrderCreatedAsc RecordOrder = "created_asc"
)

// RecordPredicate narrows record queries. UserID is mandatory unless
// GlobalScope is set explicitly.
type RecordPredicate struct {
	UserID      string
	GlobalScope bool

	Namespace string
	ThreadID  string
	SessionID string
	Tiers     []model.Tier
	IDs       []int64

	CreatedBefore *time.Time
	CreatedAfter  *time.Time

	// MetadataFilter is a containment predicate over the metadata column.
	// Engines with a native JSON containment operator push it into SQL;
	// others fetch candidates and evaluate model.Metadata.Contains per row.
	MetadataFilter map[string]interface{}

	// IncludeSummarized also returns records folded into a thread summary.
	IncludeSummarized bool

	// ContentLongerThan keeps only records whose content exceeds this many
	// characters. Zero disables the check.
	ContentLongerThan int

	Limit int
	Order RecordOrder
}

// RecordPatch is a partial record update. Nil fields are left unchanged.
// UserID and CreatedAt are never patchable; UpdatedAt is refreshed to the
// store clock unless the caller pins it.
type RecordPatch struct {
	Content        *string
	Metadata       model.Metadata // full replacement when non-nil
	Tier           *model.Tier
	Summarized     *bool
	RelatedThreads []string // full replacement when non-nil
	UpdatedAt      *time.Time
}

// ClusterQuery narrows cluster listings. Empty fields match everything.
type ClusterQuery struct {
	UserID   string
	Topic    string
	Category string
	Limit    int
}

// EventQuery narrows lifecycle event listings, newest first.
type EventQuery struct {
	UserID string
	Kinds  []string
	After  *time.Time
	Before *time.Time
	Limit  int
}

// MemoryStore defines the primary data access interface for the memory
// service. Implementations must translate engine errors into the typed
// errors in this package.
type MemoryStore interface {
	// Records
	InsertRecord(ctx context.Context, rec *model.MemoryRecord) (int64, error)
	GetRecord(ctx context.Context, userID string, id int64) (*model.MemoryRecord, error)
	UpdateRecord(ctx context.Context, userID string, id int64, patch RecordPatch) error
	DeleteRecord(ctx context.Context, userID string, id int64) error
	DeleteRecords(ctx context.Context, userID string, ids []int64) (int64, error)
	GetRecords(ctx context.Context, pred RecordPredicate) ([]model.MemoryRecord, error)
	CountRecords(ctx context.Context, pred RecordPredicate) (int64, error)

	// PromoteRecords moves the given records to target, skipping any that
	// are not currently in a lower tier. Returns the number moved.
	PromoteRecords(ctx context.Context, userID string, ids []int64, target model.Tier, now time.Time) (int64, error)

	// MarkSummarized flags records as folded into a thread summary so
	// default retrievals stop returning them.
	MarkSummarized(ctx context.Context, userID string, ids []int64, now time.Time) error

	// Aggregates
	TierCounts(ctx context.Context, userID string) (map[model.Tier]int64, error)
	ListUserIDs(ctx context.Context) ([]string, error)

	// Clusters
	// UpsertCluster inserts or replaces the cluster keyed by
	// (user_id, topic, category). Identical member ids and summary leave
	// the row untouched apart from last_built_at and report changed=false.
	UpsertCluster(ctx context.Context, cluster *model.MemoryCluster) (changed bool, err error)
	GetClusters(ctx context.Context, q ClusterQuery) ([]model.MemoryCluster, error)

	// Events
	AppendEvent(ctx context.Context, ev *model.MemoryEvent) error
	ListEvents(ctx context.Context, q EventQuery) ([]model.MemoryEvent, error)

	// RunInTransaction executes fn against a transaction-bound view of the
	// store, committing when fn returns nil.
	RunInTransaction(ctx context.Context, fn func(tx MemoryStore) error) error

	// Dialect names the backing engine ("postgres", "sqlite").
	Dialect() string
}

// Loader creates a MemoryStore from config.
type Loader func(ctx context.Context) (MemoryStore, error)

// Plugin represents a store plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a store plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered store plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named store plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown store %q; valid: %v", name, Names())
}
