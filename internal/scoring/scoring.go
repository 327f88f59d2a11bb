package scoring

import (
	"math"
	"sort"
	"time"

	"github.com/memoric/memoric/internal/config"
	"github.com/memoric/memoric/internal/model"
)

// Signals carries query-side context that boost rules can match against.
type Signals struct {
	Topic    string
	Text     string
	Entities []string
}

// BoostRule adjusts a record's base score. Positive values promote the
// record, negative values demote it.
type BoostRule func(rec *model.MemoryRecord, sig Signals, now time.Time) float64

// ScoredRecord pairs a record with its relevance score.
type ScoredRecord struct {
	Record model.MemoryRecord `json:"record"`
	Score  float64            `json:"score"`
}

// Engine computes deterministic relevance scores from importance, recency,
// and repetition. The same inputs always produce the same score: there is
// no randomness and the clock is injectable.
type Engine struct {
	wImportance float64
	wRecency    float64
	wRepetition float64
	halfLife    float64 // seconds
	saturation  float64
	boosts      []BoostRule
	now         func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithNow replaces the engine clock.
func WithNow(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithBoosts appends boost rules applied after the weighted base score.
func WithBoosts(rules ...BoostRule) Option {
	return func(e *Engine) { e.boosts = append(e.boosts, rules...) }
}

// NewEngine builds an Engine from scoring configuration.
func NewEngine(cfg config.ScoringConfig, opts ...Option) *Engine {
	e := &Engine{
		wImportance: cfg.Importance,
		wRecency:    cfg.Recency,
		wRepetition: cfg.Repetition,
		halfLife:    cfg.HalfLifeSeconds,
		saturation:  cfg.RepetitionSaturation,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Score computes the relevance of a single record given how often its
// (topic, category) pair occurs for the user.
func (e *Engine) Score(rec *model.MemoryRecord, occurrences int64, sig Signals) float64 {
	return e.score(rec, occurrences, sig, e.now())
}

func (e *Engine) score(rec *model.MemoryRecord, occurrences int64, sig Signals, now time.Time) float64 {
	imp := rec.Metadata.ImportanceNorm()

	age := now.Sub(rec.UpdatedAt).Seconds()
	if age < 0 {
		age = 0
	}
	recency := 0.0
	if e.halfLife > 0 {
		recency = math.Exp(-age / e.halfLife)
	}

	repetition := 0.0
	if e.saturation > 0 && occurrences > 0 {
		repetition = math.Min(1, float64(occurrences)/e.saturation)
	}

	score := e.wImportance*imp + e.wRecency*recency + e.wRepetition*repetition
	for _, boost := range e.boosts {
		score += boost(rec, sig, now)
	}

	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// Rank scores every record against one clock reading and returns them in
// descending score order. Equal scores fall back to updated_at descending,
// then id descending, so the order is total and reproducible.
func (e *Engine) Rank(recs []model.MemoryRecord, occurrences func(*model.MemoryRecord) int64, sig Signals) []ScoredRecord {
	now := e.now()
	scored := make([]ScoredRecord, len(recs))
	for i := range recs {
		var occ int64
		if occurrences != nil {
			occ = occurrences(&recs[i])
		}
		scored[i] = ScoredRecord{Record: recs[i], Score: e.score(&recs[i], occ, sig, now)}
	}
	sort.Slice(scored, func(i, j int) bool {
		a, b := scored[i], scored[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.Record.UpdatedAt.Equal(b.Record.UpdatedAt) {
			return a.Record.UpdatedAt.After(b.Record.UpdatedAt)
		}
		return a.Record.ID > b.Record.ID
	})
	return scored
}

// TopicBoost promotes records whose topic matches the query topic.
func TopicBoost(amount float64) BoostRule {
	return func(rec *model.MemoryRecord, sig Signals, _ time.Time) float64 {
		if sig.Topic != "" && rec.Metadata.Topic() == sig.Topic {
			return amount
		}
		return 0
	}
}

// EntityOverlapBoost promotes records sharing entities with the query,
// amount per shared entity up to max.
func EntityOverlapBoost(amount, max float64) BoostRule {
	return func(rec *model.MemoryRecord, sig Signals, _ time.Time) float64 {
		if len(sig.Entities) == 0 {
			return 0
		}
		want := make(map[string]bool, len(sig.Entities))
		for _, e := range sig.Entities {
			want[e] = true
		}
		total := 0.0
		for _, e := range rec.Metadata.Entities() {
			if want[e] {
				total += amount
				if total >= max {
					return max
				}
			}
		}
		return total
	}
}

// StalePenalty demotes records not updated within maxAge.
func StalePenalty(maxAge time.Duration, amount float64) BoostRule {
	return func(rec *model.MemoryRecord, _ Signals, now time.Time) float64 {
		if now.Sub(rec.UpdatedAt) > maxAge {
			return -amount
		}
		return 0
	}
}
