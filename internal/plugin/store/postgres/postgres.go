package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/memoric/memoric/internal/config"
	"github.com/memoric/memoric/internal/model"
	registrymigrate "github.com/memoric/memoric/internal/registry/migrate"
	registrystore "github.com/memoric/memoric/internal/registry/store"
	"github.com/memoric/memoric/internal/security"
)

func init() {
	registrystore.Register(registrystore.Plugin{
		Name: "postgres",
		Loader: func(ctx context.Context) (registrystore.MemoryStore, error) {
			cfg := config.FromContext(ctx)
			db, err := gorm.Open(postgres.Open(cfg.DBURL), &gorm.Config{})
			if err != nil {
				return nil, fmt.Errorf("failed to connect to postgres: %w", err)
			}
			sqlDB, err := db.DB()
			if err != nil {
				return nil, fmt.Errorf("failed to get underlying db: %w", err)
			}
			maxOpen := cfg.PoolSize + cfg.PoolOverflow
			sqlDB.SetMaxOpenConns(maxOpen)
			sqlDB.SetMaxIdleConns(cfg.PoolSize)
			if security.DBPoolMaxConnections != nil {
				security.DBPoolMaxConnections.Set(float64(maxOpen))
			}

			// Periodically update the open connections gauge.
			go func() {
				ticker := time.NewTicker(15 * time.Second)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						if security.DBPoolOpenConnections != nil {
							security.DBPoolOpenConnections.Set(float64(sqlDB.Stats().OpenConnections))
						}
					}
				}
			}()

			return &PostgresStore{db: db, cfg: cfg}, nil
		},
	})

	registrymigrate.Register(registrymigrate.Plugin{Order: 100, Migrator: &postgresMigrator{}})
}

type postgresMigrator struct{}

func (m *postgresMigrator) Name() string { return "postgres-schema" }
func (m *postgresMigrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg == nil || !cfg.MigrateAtStart || cfg.DBKind != "postgres" {
		return nil
	}
	log.Info("Running migration", "name", m.Name())
	db, err := gorm.Open(postgres.Open(cfg.DBURL), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("migration: failed to connect: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	if _, err := sqlDB.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migration: failed to execute schema: %w", err)
	}
	log.Info("Postgres schema migration complete")
	return nil
}

// PostgresStore implements MemoryStore using GORM + PostgreSQL. The
// metadata containment filter is pushed into SQL with the native jsonb
// containment operator.
type PostgresStore struct {
	db  *gorm.DB
	cfg *config.Config
}

var _ registrystore.MemoryStore = (*PostgresStore)(nil)

func (s *PostgresStore) Dialect() string { return "postgres" }

// --- Records ---

func (s *PostgresStore) InsertRecord(ctx context.Context, rec *model.MemoryRecord) (int64, error) {
	if rec.UserID == "" {
		return 0, &ValidationError{Field: "user_id", Message: "required"}
	}
	if rec.Content == "" {
		return 0, &ValidationError{Field: "content", Message: "required"}
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.CreatedAt
	}
	if rec.Namespace == "" {
		rec.Namespace = model.DefaultNamespace
	}
	if rec.Tier == "" {
		rec.Tier = model.TierShortTerm
	}
	if rec.Metadata == nil {
		rec.Metadata = model.Metadata{}
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return 0, translateError(err, "memory", strconv.FormatInt(rec.ID, 10))
	}
	return rec.ID, nil
}

func (s *PostgresStore) GetRecord(ctx context.Context, userID string, id int64) (*model.MemoryRecord, error) {
	var rec model.MemoryRecord
	err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&rec).Error
	if err != nil {
		return nil, translateError(err, "memory", strconv.FormatInt(id, 10))
	}
	return &rec, nil
}

func (s *PostgresStore) UpdateRecord(ctx context.Context, userID string, id int64, patch registrystore.RecordPatch) error {
	updates := patchUpdates(patch)
	res := s.db.WithContext(ctx).Model(&model.MemoryRecord{}).
		Where("id = ? AND user_id = ?", id, userID).
		Updates(updates)
	if res.Error != nil {
		return translateError(res.Error, "memory", strconv.FormatInt(id, 10))
	}
	if res.RowsAffected == 0 {
		return &NotFoundError{Resource: "memory", ID: strconv.FormatInt(id, 10)}
	}
	return nil
}

// patchUpdates converts a RecordPatch into a gorm update map. user_id and
// created_at are never included.
func patchUpdates(patch registrystore.RecordPatch) map[string]interface{} {
	updates := map[string]interface{}{}
	if patch.Content != nil {
		updates["content"] = *patch.Content
	}
	if patch.Metadata != nil {
		updates["metadata"] = patch.Metadata
	}
	if patch.Tier != nil {
		updates["tier"] = string(*patch.Tier)
	}
	if patch.Summarized != nil {
		updates["summarized"] = *patch.Summarized
	}
	if patch.RelatedThreads != nil {
		updates["related_threads"] = patch.RelatedThreads
	}
	if patch.UpdatedAt != nil {
		updates["updated_at"] = *patch.UpdatedAt
	} else {
		updates["updated_at"] = time.Now().UTC()
	}
	return updates
}

func (s *PostgresStore) DeleteRecord(ctx context.Context, userID string, id int64) error {
	err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Delete(&model.MemoryRecord{}).Error
	return translateError(err, "memory", strconv.FormatInt(id, 10))
}

func (s *PostgresStore) DeleteRecords(ctx context.Context, userID string, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := s.db.WithContext(ctx).
		Where("user_id = ? AND id IN ?", userID, ids).
		Delete(&model.MemoryRecord{})
	return res.RowsAffected, translateError(res.Error, "memory", "")
}

func (s *PostgresStore) GetRecords(ctx context.Context, pred registrystore.RecordPredicate) ([]model.MemoryRecord, error) {
	tx, err := s.applyPredicate(s.db.WithContext(ctx).Model(&model.MemoryRecord{}), pred)
	if err != nil {
		return nil, err
	}
	switch pred.Order {
	case registrystore.OrderCreatedAsc:
		tx = tx.Order("created_at ASC, id ASC")
	default:
		tx = tx.Order("updated_at DESC, id DESC")
	}
	if pred.Limit > 0 {
		tx = tx.Limit(pred.Limit)
	}
	var recs []model.MemoryRecord
	if err := tx.Find(&recs).Error; err != nil {
		return nil, translateError(err, "memory", "")
	}
	return recs, nil
}

func (s *PostgresStore) CountRecords(ctx context.Context, pred registrystore.RecordPredicate) (int64, error) {
	tx, err := s.applyPredicate(s.db.WithContext(ctx).Model(&model.MemoryRecord{}), pred)
	if err != nil {
		return 0, err
	}
	var count int64
	if err := tx.Count(&count).Error; err != nil {
		return 0, translateError(err, "memory", "")
	}
	return count, nil
}

func (s *PostgresStore) applyPredicate(tx *gorm.DB, pred registrystore.RecordPredicate) (*gorm.DB, error) {
	if pred.UserID == "" && !pred.GlobalScope {
		return nil, &ValidationError{Field: "user_id", Message: "required unless global_scope is set"}
	}
	if pred.UserID != "" {
		tx = tx.Where("user_id = ?", pred.UserID)
	}
	if pred.Namespace != "" {
		tx = tx.Where("namespace = ?", pred.Namespace)
	}
	if pred.ThreadID != "" {
		tx = tx.Where("thread_id = ?", pred.ThreadID)
	}
	if pred.SessionID != "" {
		tx = tx.Where("session_id = ?", pred.SessionID)
	}
	if len(pred.Tiers) > 0 {
		tiers := make([]string, len(pred.Tiers))
		for i, t := range pred.Tiers {
			tiers[i] = string(t)
		}
		tx = tx.Where("tier IN ?", tiers)
	}
	if len(pred.IDs) > 0 {
		tx = tx.Where("id IN ?", pred.IDs)
	}
	if pred.CreatedBefore != nil {
		tx = tx.Where("created_at <= ?", *pred.CreatedBefore)
	}
	if pred.CreatedAfter != nil {
		tx = tx.Where("created_at >= ?", *pred.CreatedAfter)
	}
	if !pred.IncludeSummarized {
		tx = tx.Where("summarized = ?", false)
	}
	if pred.ContentLongerThan > 0 {
		tx = tx.Where("length(content) > ?", pred.ContentLongerThan)
	}
	for key, value := range pred.MetadataFilter {
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, &ValidationError{Field: "metadata_filter", Message: fmt.Sprintf("key %q: %v", key, err)}
		}
		tx = tx.Where("metadata -> ? @> ?::jsonb", key, string(raw))
	}
	return tx, nil
}

func (s *PostgresStore) PromoteRecords(ctx context.Context, userID string, ids []int64, target model.Tier, now time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	below := target.Below()
	if len(below) == 0 {
		return 0, &ValidationError{Field: "tier", Message: fmt.Sprintf("no tier precedes %s", target)}
	}
	from := make([]string, len(below))
	for i, t := range below {
		from[i] = string(t)
	}
	res := s.db.WithContext(ctx).Model(&model.MemoryRecord{}).
		Where("user_id = ? AND id IN ? AND tier IN ?", userID, ids, from).
		Updates(map[string]interface{}{"tier": string(target), "updated_at": now})
	return res.RowsAffected, translateError(res.Error, "memory", "")
}

func (s *PostgresStore) MarkSummarized(ctx context.Context, userID string, ids []int64, now time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Model(&model.MemoryRecord{}).
		Where("user_id = ? AND id IN ?", userID, ids).
		Updates(map[string]interface{}{"summarized": true, "updated_at": now}).Error
	return translateError(err, "memory", "")
}

// --- Aggregates ---

func (s *PostgresStore) TierCounts(ctx context.Context, userID string) (map[model.Tier]int64, error) {
	type tierCount struct {
		Tier  model.Tier
		Count int64
	}
	tx := s.db.WithContext(ctx).Model(&model.MemoryRecord{}).
		Select("tier, count(*) as count").
		Group("tier")
	if userID != "" {
		tx = tx.Where("user_id = ?", userID)
	}
	var rows []tierCount
	if err := tx.Scan(&rows).Error; err != nil {
		return nil, translateError(err, "memory", "")
	}
	counts := make(map[model.Tier]int64, len(model.Tiers()))
	for _, t := range model.Tiers() {
		counts[t] = 0
	}
	for _, row := range rows {
		counts[row.Tier] = row.Count
	}
	return counts, nil
}

func (s *PostgresStore) ListUserIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&model.MemoryRecord{}).
		Distinct("user_id").
		Order("user_id").
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, translateError(err, "memory", "")
	}
	return ids, nil
}

// --- Clusters ---

func (s *PostgresStore) UpsertCluster(ctx context.Context, cluster *model.MemoryCluster) (bool, error) {
	changed, err := s.upsertCluster(ctx, cluster)
	var conflict *ConflictError
	if errors.As(err, &conflict) {
		// Lost an insert race; the winner's row exists now, retry once.
		return s.upsertCluster(ctx, cluster)
	}
	return changed, err
}

func (s *PostgresStore) upsertCluster(ctx context.Context, cluster *model.MemoryCluster) (bool, error) {
	if cluster.UserID == "" || cluster.Topic == "" || cluster.Category == "" {
		return false, &ValidationError{Field: "cluster", Message: "user_id, topic, and category are required"}
	}
	ids := append([]int64(nil), cluster.MemoryIDs...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	cluster.MemoryIDs = ids

	now := cluster.LastBuiltAt
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var existing model.MemoryCluster
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND topic = ? AND category = ?", cluster.UserID, cluster.Topic, cluster.Category).
		First(&existing).Error
	switch {
	case err == nil:
		if int64SlicesEqual(existing.MemoryIDs, ids) && existing.Summary == cluster.Summary {
			if err := s.db.WithContext(ctx).Model(&existing).
				Update("last_built_at", now).Error; err != nil {
				return false, translateError(err, "cluster", existing.ID.String())
			}
			existing.LastBuiltAt = now
			*cluster = existing
			return false, nil
		}
		updates := map[string]interface{}{
			"memory_ids":    ids,
			"summary":       cluster.Summary,
			"last_built_at": now,
			"occurrences":   maxInt64(existing.Occurrences, int64(len(ids))),
			"first_seen":    minTime(existing.FirstSeen, cluster.FirstSeen),
			"last_seen":     maxTime(existing.LastSeen, cluster.LastSeen),
		}
		if err := s.db.WithContext(ctx).Model(&existing).Updates(updates).Error; err != nil {
			return false, translateError(err, "cluster", existing.ID.String())
		}
		refreshed, err := s.getCluster(ctx, cluster.UserID, cluster.Topic, cluster.Category)
		if err != nil {
			return false, err
		}
		*cluster = *refreshed
		return true, nil

	case errors.Is(err, gorm.ErrRecordNotFound):
		if cluster.ID == uuid.Nil {
			cluster.ID = uuid.New()
		}
		if cluster.FirstSeen.IsZero() {
			cluster.FirstSeen = now
		}
		if cluster.LastSeen.IsZero() {
			cluster.LastSeen = now
		}
		cluster.LastBuiltAt = now
		if cluster.Occurrences == 0 {
			cluster.Occurrences = int64(len(ids))
		}
		if err := s.db.WithContext(ctx).Create(cluster).Error; err != nil {
			return false, translateError(err, "cluster", cluster.ID.String())
		}
		return true, nil

	default:
		return false, translateError(err, "cluster", "")
	}
}

func (s *PostgresStore) getCluster(ctx context.Context, userID, topic, category string) (*model.MemoryCluster, error) {
	var c model.MemoryCluster
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND topic = ? AND category = ?", userID, topic, category).
		First(&c).Error
	if err != nil {
		return nil, translateError(err, "cluster", "")
	}
	return &c, nil
}

func (s *PostgresStore) GetClusters(ctx context.Context, q registrystore.ClusterQuery) ([]model.MemoryCluster, error) {
	tx := s.db.WithContext(ctx).Model(&model.MemoryCluster{})
	if q.UserID != "" {
		tx = tx.Where("user_id = ?", q.UserID)
	}
	if q.Topic != "" {
		tx = tx.Where("topic = ?", q.Topic)
	}
	if q.Category != "" {
		tx = tx.Where("category = ?", q.Category)
	}
	tx = tx.Order("user_id ASC, topic ASC, category ASC")
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}
	var clusters []model.MemoryCluster
	if err := tx.Find(&clusters).Error; err != nil {
		return nil, translateError(err, "cluster", "")
	}
	return clusters, nil
}

// --- Events ---

func (s *PostgresStore) AppendEvent(ctx context.Context, ev *model.MemoryEvent) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	return translateError(s.db.WithContext(ctx).Create(ev).Error, "event", ev.ID.String())
}

func (s *PostgresStore) ListEvents(ctx context.Context, q registrystore.EventQuery) ([]model.MemoryEvent, error) {
	tx := s.db.WithContext(ctx).Model(&model.MemoryEvent{})
	if q.UserID != "" {
		tx = tx.Where("user_id = ?", q.UserID)
	}
	if len(q.Kinds) > 0 {
		tx = tx.Where("kind IN ?", q.Kinds)
	}
	if q.After != nil {
		tx = tx.Where("occurred_at >= ?", *q.After)
	}
	if q.Before != nil {
		tx = tx.Where("occurred_at <= ?", *q.Before)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	var events []model.MemoryEvent
	if err := tx.Order("occurred_at DESC, id DESC").Limit(limit).Find(&events).Error; err != nil {
		return nil, translateError(err, "event", "")
	}
	return events, nil
}

// --- Transactions ---

func (s *PostgresStore) RunInTransaction(ctx context.Context, fn func(tx registrystore.MemoryStore) error) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&PostgresStore{db: tx, cfg: s.cfg})
	})
	return translateError(err, "transaction", "")
}

// --- helpers ---

func translateError(err error, resource, id string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &NotFoundError{Resource: resource, ID: id}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{}
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return &ConflictError{
			Message: fmt.Sprintf("%s already exists", resource),
			Code:    pgErr.Code,
			Details: map[string]interface{}{"constraint": pgErr.ConstraintName},
		}
	}
	// Typed errors from nested calls pass through unchanged.
	var (
		notFound   *NotFoundError
		validation *ValidationError
		conflict   *ConflictError
	)
	if errors.As(err, &notFound) || errors.As(err, &validation) || errors.As(err, &conflict) {
		return err
	}
	return fmt.Errorf("%s: %w", resource, err)
}

func int64SlicesEqual(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func minTime(a, b time.Time) time.Time {
	if b.IsZero() || (!a.IsZero() && a.Before(b)) {
		return a
	}
	return b
}

func maxTime(a, b time.Time) time.Time {
	if b.IsZero() || (!a.IsZero() && a.After(b)) {
		return a
	}
	return b
}
