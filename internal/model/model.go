package model

import (
	"time"

	"github.com/google/uuid"
)

// DefaultNamespace is the namespace records fall into when the caller
// does not name one.
const DefaultNamespace = "default"

// MemoryRecord is the unit of remembered agent context. Records enter at
// short_term and move forward through tiers under policy control; content
// may be rewritten (trimmed, summarized) along the way.
type MemoryRecord struct {
	ID             int64     `json:"id"              gorm:"primaryKey;autoIncrement"`
	UserID         string    `json:"user_id"         gorm:"not null"`
	Namespace      string    `json:"namespace"       gorm:"not null;default:'default'"`
	ThreadID       string    `json:"thread_id"       gorm:"not null;default:''"`
	SessionID      string    `json:"session_id"      gorm:"not null;default:''"`
	Content        string    `json:"content"         gorm:"not null"`
	Metadata       Metadata  `json:"metadata"        gorm:"serializer:json;not null;default:'{}'"` // JSONB on engines that have it
	Tier           Tier      `json:"tier"            gorm:"not null;default:'short_term'"`
	Summarized     bool      `json:"summarized"      gorm:"not null;default:false"`
	RelatedThreads []string  `json:"related_threads" gorm:"serializer:json"`
	CreatedAt      time.Time `json:"created_at"      gorm:"not null"`
	UpdatedAt      time.Time `json:"updated_at"      gorm:"not null"`
}

func (MemoryRecord) TableName() string { return "memories" }

// MemoryCluster is aggregated long-term knowledge derived from records that
// share a (user_id, topic, category) triple. Clusters are derived state and
// may be rebuilt idempotently at any time.
type MemoryCluster struct {
	ID          uuid.UUID `json:"id"            gorm:"primaryKey;type:uuid"`
	UserID      string    `json:"user_id"       gorm:"not null"`
	Topic       string    `json:"topic"         gorm:"not null"`
	Category    string    `json:"category"      gorm:"not null"`
	MemoryIDs   []int64   `json:"memory_ids"    gorm:"serializer:json;not null"` // kept sorted ascending
	Summary     string    `json:"summary"       gorm:"not null;default:''"`
	FirstSeen   time.Time `json:"first_seen"    gorm:"not null"`
	LastSeen    time.Time `json:"last_seen"     gorm:"not null"`
	LastBuiltAt time.Time `json:"last_built_at" gorm:"not null"`
	Occurrences int64     `json:"occurrences"   gorm:"not null;default:0"`
}

func (MemoryCluster) TableName() string { return "memory_clusters" }

// Event kinds appended to the lifecycle log.
const (
	EventCreated          = "created"
	EventRetrieved        = "retrieved"
	EventMigrated         = "migrated"
	EventTrimmed          = "trimmed"
	EventSummarized       = "summarized"
	EventThreadSummarized = "thread_summarized"
	EventClustered        = "clustered"
	EventDeleted          = "deleted"
	EventPolicyRun        = "policy_run"
)

// MemoryEvent is one append-only lifecycle log entry. Persistence is
// best-effort: a failed append never fails the operation that emitted it.
type MemoryEvent struct {
	ID         uuid.UUID              `json:"id"                    gorm:"primaryKey;type:uuid"`
	Kind       string                 `json:"kind"                  gorm:"not null"`
	UserID     string                 `json:"user_id"               gorm:"not null;default:''"`
	ResourceID string                 `json:"resource_id,omitempty" gorm:"not null;default:''"`
	Metadata   map[string]interface{} `json:"metadata"              gorm:"serializer:json"`
	Success    bool                   `json:"success"               gorm:"not null;default:true"`
	Error      string                 `json:"error,omitempty"       gorm:"not null;default:''"`
	OccurredAt time.Time              `json:"timestamp"             gorm:"not null"`
}

func (MemoryEvent) TableName() string { return "memory_events" }
