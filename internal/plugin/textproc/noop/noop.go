package noop

import (
	"context"

	"github.com/memoric/memoric/internal/registry/textproc"
)

func init() {
	textproc.Register(textproc.Plugin{
		Name: "noop",
		Trimmer: func(ctx context.Context, params map[string]interface{}) (textproc.Trimmer, error) {
			return passthrough{}, nil
		},
		Summarizer: func(ctx context.Context, params map[string]interface{}) (textproc.Summarizer, error) {
			return passthrough{}, nil
		},
	})
}

// passthrough leaves content untouched. Records still get their provenance
// metadata when a phase runs with this processor.
type passthrough struct{}

func (passthrough) Trim(text string, _ int) string { return text }

func (passthrough) Summarize(_ context.Context, text string, _ int) string { return text }

var _ textproc.Trimmer = passthrough{}
var _ textproc.Summarizer = passthrough{}
