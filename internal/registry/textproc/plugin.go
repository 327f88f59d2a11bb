package textproc

import (
	"context"
	"fmt"
)

// Trimmer shortens record content. Implementations never fail: the input
// is returned unchanged when maxChars <= 0 or the text already fits.
type Trimmer interface {
	Trim(text string, maxChars int) string
}

// Summarizer condenses record content toward targetChars. Implementations
// never fail: when an external call breaks they fall back to truncation.
// Output length is approximate, not a hard bound.
type Summarizer interface {
	Summarize(ctx context.Context, text string, targetChars int) string
}

// TrimmerLoader creates a Trimmer from config.
type TrimmerLoader func(ctx context.Context, params map[string]interface{}) (Trimmer, error)

// SummarizerLoader creates a Summarizer from config.
type SummarizerLoader func(ctx context.Context, params map[string]interface{}) (Summarizer, error)

// Plugin represents a text processing plugin. A plugin may provide a
// trimmer, a summarizer, or both.
type Plugin struct {
	Name       string
	Trimmer    TrimmerLoader
	Summarizer SummarizerLoader
}

var plugins []Plugin

// Register adds a text processing plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered text processing plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// SelectTrimmer returns the trimmer loader for the named plugin.
func SelectTrimmer(name string) (TrimmerLoader, error) {
	for _, p := range plugins {
		if p.Name == name && p.Trimmer != nil {
			return p.Trimmer, nil
		}
	}
	return nil, fmt.Errorf("unknown trimmer %q; valid: %v", name, Names())
}

// SelectSummarizer returns the summarizer loader for the named plugin.
func SelectSummarizer(name string) (SummarizerLoader, error) {
	for _, p := range plugins {
		if p.Name == name && p.Summarizer != nil {
			return p.Summarizer, nil
		}
	}
	return nil, fmt.Errorf("unknown summarizer %q; valid: %v", name, Names())
}
