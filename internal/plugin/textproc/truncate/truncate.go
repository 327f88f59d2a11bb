package truncate

import (
	"context"
	"unicode/utf8"

	"github.com/memoric/memoric/internal/registry/textproc"
)

func init() {
	textproc.Register(textproc.Plugin{
		Name: "truncating",
		Trimmer: func(ctx context.Context, params map[string]interface{}) (textproc.Trimmer, error) {
			return truncator{}, nil
		},
		Summarizer: func(ctx context.Context, params map[string]interface{}) (textproc.Summarizer, error) {
			return truncator{}, nil
		},
	})
}

// truncator cuts content at a rune boundary. The result never exceeds the
// requested length; an ellipsis marks the cut.
type truncator struct{}

func (truncator) Trim(text string, maxChars int) string { return Cut(text, maxChars) }

func (truncator) Summarize(_ context.Context, text string, targetChars int) string {
	return Cut(text, targetChars)
}

var _ textproc.Trimmer = truncator{}
var _ textproc.Summarizer = truncator{}

// Cut returns text unchanged when it fits within maxChars runes, otherwise
// a prefix of maxChars-1 runes with a trailing ellipsis. maxChars <= 0
// means no limit.
func Cut(text string, maxChars int) string {
	if maxChars <= 0 || utf8.RuneCountInString(text) <= maxChars {
		return text
	}
	runes := []rune(text)
	if maxChars == 1 {
		return "…"
	}
	return string(runes[:maxChars-1]) + "…"
}
