package memory

import (
	"context"

	"github.com/charmbracelet/log"

	"github.com/memoric/memoric/internal/config"
	"github.com/memoric/memoric/internal/registry/enrich"
	"github.com/memoric/memoric/internal/registry/textproc"

	// Built-in processors double as the fallback when config names an
	// unknown plugin.
	_ "github.com/memoric/memoric/internal/plugin/enrich/heuristic"
	_ "github.com/memoric/memoric/internal/plugin/textproc/noop"
	_ "github.com/memoric/memoric/internal/plugin/textproc/truncate"
)

const (
	defaultTrimmer    = "noop"
	defaultSummarizer = "noop"
	defaultEnricher   = "heuristic"
)

// buildTrimmer resolves the configured trimmer, warning and falling back to
// the built-in default when the type is unknown or fails to load.
func buildTrimmer(ctx context.Context, pc config.ProcessorConfig) textproc.Trimmer {
	name := pc.Type
	if name == "" {
		name = defaultTrimmer
	}
	loader, err := textproc.SelectTrimmer(name)
	if err != nil {
		log.Warn("Unknown trimmer; using default", "type", name, "default", defaultTrimmer)
		loader, _ = textproc.SelectTrimmer(defaultTrimmer)
	}
	t, err := loader(ctx, pc.Params)
	if err != nil {
		log.Warn("Trimmer failed to load; using default", "type", name, "default", defaultTrimmer, "err", err)
		fallback, _ := textproc.SelectTrimmer(defaultTrimmer)
		t, _ = fallback(ctx, nil)
	}
	return t
}

// buildSummarizer resolves the configured summarizer with the same
// warn-and-default semantics as buildTrimmer.
func buildSummarizer(ctx context.Context, pc config.ProcessorConfig) textproc.Summarizer {
	name := pc.Type
	if name == "" {
		name = defaultSummarizer
	}
	loader, err := textproc.SelectSummarizer(name)
	if err != nil {
		log.Warn("Unknown summarizer; using default", "type", name, "default", defaultSummarizer)
		loader, _ = textproc.SelectSummarizer(defaultSummarizer)
	}
	s, err := loader(ctx, pc.Params)
	if err != nil {
		log.Warn("Summarizer failed to load; using default", "type", name, "default", defaultSummarizer, "err", err)
		fallback, _ := textproc.SelectSummarizer(defaultSummarizer)
		s, _ = fallback(ctx, nil)
	}
	return s
}

// buildEnricher resolves the configured enricher, or nil when enrichment is
// disabled. Load failures disable enrichment rather than block startup;
// saves then proceed with caller-supplied metadata only.
func buildEnricher(ctx context.Context, ec config.EnrichmentConfig) enrich.Enricher {
	if !ec.Enabled {
		return nil
	}
	name := ec.Model
	if name == "" {
		name = defaultEnricher
	}
	loader, err := enrich.Select(name)
	if err != nil {
		log.Warn("Unknown enricher; using default", "model", name, "default", defaultEnricher)
		loader, _ = enrich.Select(defaultEnricher)
	}
	e, err := loader(ctx)
	if err != nil {
		log.Warn("Enricher failed to load; continuing without enrichment", "model", name, "err", err)
		return nil
	}
	return e
}
