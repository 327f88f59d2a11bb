package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/memoric/memoric/internal/model"
)

// PolicyConfig governs the memory lifecycle: tier retention, migration,
// content rewriting, thread summarization, clustering, retrieval defaults,
// and scoring weights. Loaded from YAML over DefaultPolicyConfig.
type PolicyConfig struct {
	Storage        StorageConfig        `yaml:"storage"`
	Policies       PoliciesConfig       `yaml:"policies"`
	Summarization  SummarizationConfig  `yaml:"summarization"`
	Clustering     ClusteringConfig     `yaml:"clustering"`
	Retrieval      RetrievalConfig      `yaml:"retrieval"`
	Scoring        ScoringConfig        `yaml:"scoring"`
	TextProcessing TextProcessingConfig `yaml:"text_processing"`
	Metadata       MetadataConfig       `yaml:"metadata"`
	Privacy        PrivacyConfig        `yaml:"privacy"`
}

// StorageConfig holds per-tier retention and rewriting rules.
type StorageConfig struct {
	Tiers []TierPolicy `yaml:"tiers"`
}

// TierPolicy configures one lifecycle tier.
type TierPolicy struct {
	Name string `yaml:"name"`

	// ExpiryDays makes records older than this eligible to leave the tier:
	// they migrate forward when a migration rule (configured or derived)
	// starts at this tier, and are deleted otherwise. Zero means no expiry.
	ExpiryDays float64 `yaml:"expiry_days"`

	// Capacity is a soft bound used for utilization reporting. Zero means
	// unbounded.
	Capacity int64 `yaml:"capacity"`

	Trim      TrimPolicy      `yaml:"trim"`
	Summarize SummarizePolicy `yaml:"summarize"`
}

// TrimPolicy configures the trim phase for a tier. Disabled when MaxChars
// is zero.
type TrimPolicy struct {
	MaxChars           int   `yaml:"max_chars"`
	SkipHighImportance *bool `yaml:"skip_high_importance"`
}

// SkipHigh reports whether high-importance records are exempt. Defaults to
// true when unset.
func (p TrimPolicy) SkipHigh() bool {
	return p.SkipHighImportance == nil || *p.SkipHighImportance
}

// SummarizePolicy configures the content summarization phase for a tier.
// Disabled when MinChars is zero.
type SummarizePolicy struct {
	MinChars           int   `yaml:"min_chars"`
	TargetChars        int   `yaml:"target_chars"`
	SkipHighImportance *bool `yaml:"skip_high_importance"`
}

// SkipHigh reports whether high-importance records are exempt. Defaults to
// true when unset.
func (p SummarizePolicy) SkipHigh() bool {
	return p.SkipHighImportance == nil || *p.SkipHighImportance
}

// PoliciesConfig holds migration rules and executor batching knobs.
type PoliciesConfig struct {
	// Migrate lists explicit tier transitions. When empty, transitions are
	// derived from tier expiries (see EffectiveMigrations).
	Migrate []MigrateRule `yaml:"migrate"`

	UserBatchSize   int `yaml:"user_batch_size"`
	ChunkSize       int `yaml:"chunk_size"`
	UserConcurrency int `yaml:"user_concurrency"`
}

// MigrateRule moves records from one tier to the next once they age past
// the threshold.
type MigrateRule struct {
	From        string  `yaml:"from"`
	To          string  `yaml:"to"`
	WhenAgeDays float64 `yaml:"when_age_days"`
}

// Age returns the rule threshold as a duration.
func (r MigrateRule) Age() time.Duration {
	return time.Duration(r.WhenAgeDays * float64(24*time.Hour))
}

// SummarizationConfig holds thread folding settings.
type SummarizationConfig struct {
	Thread ThreadSummarization `yaml:"thread"`
}

// ThreadSummarization configures the thread-summarize phase.
type ThreadSummarization struct {
	Enabled    bool `yaml:"enabled"`
	MinRecords int  `yaml:"min_records"`
	MaxChars   int  `yaml:"max_chars"`
	// IncludeMetadata prefixes the summarizer input with a compact
	// topics/entities header extracted from the group.
	IncludeMetadata bool `yaml:"include_metadata"`
}

// ClusteringConfig configures the cluster-rebuild phase.
type ClusteringConfig struct {
	Enabled        bool   `yaml:"enabled"`
	MinClusterSize int    `yaml:"min_cluster_size"`
	Strategy       string `yaml:"strategy"`
	MaxChars       int    `yaml:"max_chars"`
}

// RetrievalConfig holds retrieval defaults.
type RetrievalConfig struct {
	Scope               string `yaml:"scope"`
	Fallback            string `yaml:"fallback"`
	DefaultTopK         int    `yaml:"default_top_k"`
	CandidateMultiplier int    `yaml:"candidate_multiplier"`
	CandidateFloor      int    `yaml:"candidate_floor"`
	IncludeSummarized   bool   `yaml:"include_summarized"`
}

// ScoringConfig holds the scoring weights and shape parameters.
type ScoringConfig struct {
	Importance           float64 `yaml:"importance"`
	Recency              float64 `yaml:"recency"`
	Repetition           float64 `yaml:"repetition"`
	HalfLifeSeconds      float64 `yaml:"half_life_seconds"`
	RepetitionSaturation float64 `yaml:"repetition_saturation"`
}

// TextProcessingConfig selects trimmer and summarizer plugins.
type TextProcessingConfig struct {
	Trimmer    ProcessorConfig `yaml:"trimmer"`
	Summarizer ProcessorConfig `yaml:"summarizer"`
}

// ProcessorConfig names a text processing plugin and its parameters.
type ProcessorConfig struct {
	Type   string                 `yaml:"type"`
	Params map[string]interface{} `yaml:"params"`
}

// MetadataConfig holds enrichment settings.
type MetadataConfig struct {
	Enrichment EnrichmentConfig `yaml:"enrichment"`
}

// EnrichmentConfig configures save-time metadata enrichment.
type EnrichmentConfig struct {
	Enabled bool   `yaml:"enabled"`
	Model   string `yaml:"model"`
}

// PrivacyConfig holds scope enforcement settings.
type PrivacyConfig struct {
	// EnforceUserScope gates global-scope retrieval behind the global
	// capability. Disabling it lets any caller query across users.
	EnforceUserScope bool `yaml:"enforce_user_scope"`
	// AllowSharedNamespace permits global-scope retrieval against
	// namespaces other than the default one. Per-user scopes may always
	// name a namespace; they only ever see the caller's own records.
	AllowSharedNamespace bool `yaml:"allow_shared_namespace"`
}

// DefaultPolicyConfig returns the policy defaults: short records migrate
// forward at 7 and 30 days, no content rewriting, thread folding and
// clustering on, noop text processors.
func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		Storage: StorageConfig{
			Tiers: []TierPolicy{
				{Name: string(model.TierShortTerm), ExpiryDays: 7},
				{Name: string(model.TierMidTerm), ExpiryDays: 30},
				{Name: string(model.TierLongTerm)},
			},
		},
		Policies: PoliciesConfig{
			UserBatchSize:   100,
			ChunkSize:       200,
			UserConcurrency: 4,
		},
		Summarization: SummarizationConfig{
			Thread: ThreadSummarization{
				Enabled:         true,
				MinRecords:      5,
				MaxChars:        2000,
				IncludeMetadata: true,
			},
		},
		Clustering: ClusteringConfig{
			Enabled:        true,
			MinClusterSize: 3,
			Strategy:       "topic_category",
			MaxChars:       2000,
		},
		Retrieval: RetrievalConfig{
			Scope:               "thread",
			DefaultTopK:         10,
			CandidateMultiplier: 4,
			CandidateFloor:      50,
		},
		Scoring: ScoringConfig{
			Importance:           0.6,
			Recency:              0.3,
			Repetition:           0.1,
			HalfLifeSeconds:      (14 * 24 * time.Hour).Seconds(),
			RepetitionSaturation: 5,
		},
		TextProcessing: TextProcessingConfig{
			Trimmer:    ProcessorConfig{Type: "noop"},
			Summarizer: ProcessorConfig{Type: "noop"},
		},
		Metadata: MetadataConfig{
			Enrichment: EnrichmentConfig{Enabled: true, Model: "heuristic"},
		},
		Privacy: PrivacyConfig{
			EnforceUserScope: true,
		},
	}
}

// LoadPolicyFile reads a YAML policy file over the defaults. An empty path
// returns the defaults unchanged.
func LoadPolicyFile(path string) (PolicyConfig, error) {
	cfg := DefaultPolicyConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read policy file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse policy file %s: %w", path, err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("policy file %s: %w", path, err)
	}
	return cfg, nil
}

func (c *PolicyConfig) normalize() {
	def := DefaultPolicyConfig()
	s := &c.Scoring
	if s.Importance == 0 && s.Recency == 0 && s.Repetition == 0 {
		s.Importance, s.Recency, s.Repetition = def.Scoring.Importance, def.Scoring.Recency, def.Scoring.Repetition
	}
	if s.HalfLifeSeconds <= 0 {
		s.HalfLifeSeconds = def.Scoring.HalfLifeSeconds
	}
	if s.RepetitionSaturation <= 0 {
		s.RepetitionSaturation = def.Scoring.RepetitionSaturation
	}
	if c.Retrieval.DefaultTopK <= 0 {
		c.Retrieval.DefaultTopK = def.Retrieval.DefaultTopK
	}
	if c.Retrieval.CandidateMultiplier <= 0 {
		c.Retrieval.CandidateMultiplier = def.Retrieval.CandidateMultiplier
	}
	if c.Retrieval.CandidateFloor <= 0 {
		c.Retrieval.CandidateFloor = def.Retrieval.CandidateFloor
	}
	if c.Retrieval.Scope == "" {
		c.Retrieval.Scope = def.Retrieval.Scope
	}
	if c.Policies.UserBatchSize <= 0 {
		c.Policies.UserBatchSize = def.Policies.UserBatchSize
	}
	if c.Policies.ChunkSize <= 0 {
		c.Policies.ChunkSize = def.Policies.ChunkSize
	}
	if c.Policies.UserConcurrency <= 0 {
		c.Policies.UserConcurrency = def.Policies.UserConcurrency
	}
	if c.TextProcessing.Trimmer.Type == "" {
		c.TextProcessing.Trimmer.Type = "noop"
	}
	if c.TextProcessing.Summarizer.Type == "" {
		c.TextProcessing.Summarizer.Type = "noop"
	}
	if c.Clustering.Strategy == "" {
		c.Clustering.Strategy = def.Clustering.Strategy
	}
	if c.Clustering.MinClusterSize <= 0 {
		c.Clustering.MinClusterSize = def.Clustering.MinClusterSize
	}
	if c.Clustering.MaxChars <= 0 {
		c.Clustering.MaxChars = def.Clustering.MaxChars
	}
	if c.Summarization.Thread.MinRecords <= 0 {
		c.Summarization.Thread.MinRecords = def.Summarization.Thread.MinRecords
	}
	if c.Summarization.Thread.MaxChars <= 0 {
		c.Summarization.Thread.MaxChars = def.Summarization.Thread.MaxChars
	}
}

// Validate checks tier names and migration rules.
func (c *PolicyConfig) Validate() error {
	for _, tier := range c.Storage.Tiers {
		if _, err := model.ParseTier(tier.Name); err != nil {
			return err
		}
		if tier.ExpiryDays < 0 {
			return fmt.Errorf("tier %s: negative expiry_days", tier.Name)
		}
	}
	for _, rule := range c.Policies.Migrate {
		from, err := model.ParseTier(rule.From)
		if err != nil {
			return fmt.Errorf("migrate rule: %w", err)
		}
		to, err := model.ParseTier(rule.To)
		if err != nil {
			return fmt.Errorf("migrate rule: %w", err)
		}
		if to.Rank() <= from.Rank() {
			return fmt.Errorf("migrate rule %s -> %s is not a forward transition", rule.From, rule.To)
		}
		if rule.WhenAgeDays <= 0 {
			return fmt.Errorf("migrate rule %s -> %s: when_age_days must be positive", rule.From, rule.To)
		}
	}
	for _, w := range []float64{c.Scoring.Importance, c.Scoring.Recency, c.Scoring.Repetition} {
		if w < 0 {
			return fmt.Errorf("scoring weights must be non-negative")
		}
	}
	switch c.Retrieval.Scope {
	case "thread", "topic", "user", "global":
	default:
		return fmt.Errorf("unknown retrieval scope %q", c.Retrieval.Scope)
	}
	return nil
}

// Tier returns the policy for the named tier, or a zero policy when the
// tier is not configured.
func (c *PolicyConfig) Tier(t model.Tier) TierPolicy {
	for _, tier := range c.Storage.Tiers {
		if tier.Name == string(t) {
			return tier
		}
	}
	return TierPolicy{Name: string(t)}
}

// EffectiveMigrations returns the explicit migration rules, or rules
// derived from tier expiries when none are configured: each tier with an
// expiry and a successor migrates forward at that age.
func (c *PolicyConfig) EffectiveMigrations() []MigrateRule {
	if len(c.Policies.Migrate) > 0 {
		return c.Policies.Migrate
	}
	order := model.Tiers()
	var rules []MigrateRule
	for i, t := range order {
		tier := c.Tier(t)
		if tier.ExpiryDays <= 0 || i+1 >= len(order) {
			continue
		}
		rules = append(rules, MigrateRule{
			From:        string(t),
			To:          string(order[i+1]),
			WhenAgeDays: tier.ExpiryDays,
		})
	}
	return rules
}

// TierExpiry marks a tier whose aged-out records are deleted rather than
// migrated.
type TierExpiry struct {
	Tier model.Tier
	Days float64
}

// Age returns the expiry threshold as a duration.
func (e TierExpiry) Age() time.Duration {
	return time.Duration(e.Days * float64(24*time.Hour))
}

// ExpiryDeletions returns tiers whose expiry is not consumed by a
// migration rule; records aging out of these tiers are deleted.
func (c *PolicyConfig) ExpiryDeletions() []TierExpiry {
	migrations := c.EffectiveMigrations()
	migratedFrom := make(map[string]bool, len(migrations))
	for _, r := range migrations {
		migratedFrom[r.From] = true
	}
	var out []TierExpiry
	for _, tier := range c.Storage.Tiers {
		if tier.ExpiryDays > 0 && !migratedFrom[tier.Name] {
			out = append(out, TierExpiry{Tier: model.Tier(tier.Name), Days: tier.ExpiryDays})
		}
	}
	return out
}
