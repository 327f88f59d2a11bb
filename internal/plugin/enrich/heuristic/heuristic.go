package heuristic

import (
	"context"
	"strings"
	"unicode"

	"github.com/memoric/memoric/internal/model"
	"github.com/memoric/memoric/internal/registry/enrich"
)

const maxEntities = 8

func init() {
	enrich.Register(enrich.Plugin{
		Name: "heuristic",
		Loader: func(ctx context.Context) (enrich.Enricher, error) {
			return &Enricher{}, nil
		},
	})
}

// Enricher derives topic, category, entities, importance, and sentiment
// from record content with deterministic lexical rules. Keys already set
// on the record are never overwritten, so the result is always a superset
// of the input metadata.
type Enricher struct{}

var _ enrich.Enricher = (*Enricher)(nil)

func (e *Enricher) Enrich(_ context.Context, content string, existing model.Metadata) (model.Metadata, error) {
	out := existing.Clone()
	toks := tokenize(content)
	has := map[string]bool{}
	for _, tok := range toks {
		has[strings.ToLower(tok.text)] = true
	}

	if _, ok := out[model.KeyTopic]; !ok {
		if topic := topicOf(toks); topic != "" {
			out[model.KeyTopic] = topic
		}
	}
	if _, ok := out[model.KeyCategory]; !ok {
		out[model.KeyCategory] = categorize(content, has)
	}
	if _, ok := out[model.KeyEntities]; !ok {
		if ents := entitiesOf(toks); len(ents) > 0 {
			out[model.KeyEntities] = ents
		}
	}
	if _, ok := out[model.KeyImportance]; !ok {
		out[model.KeyImportance] = importanceOf(has)
	}
	if _, ok := out[model.KeySentiment]; !ok {
		out[model.KeySentiment] = sentimentOf(toks)
	}
	return out, nil
}

type token struct {
	text  string
	start bool // first word of a sentence
}

func tokenize(content string) []token {
	var toks []token
	start := true
	for _, w := range strings.Fields(content) {
		text := strings.TrimFunc(w, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if text != "" {
			toks = append(toks, token{text: text, start: start})
			start = false
		}
		if strings.HasSuffix(w, ".") || strings.HasSuffix(w, "!") ||
			strings.HasSuffix(w, "?") || strings.HasSuffix(w, ":") {
			start = true
		}
	}
	return toks
}

func capitalized(s string) bool {
	r := []rune(s)
	return len(r) > 1 && unicode.IsUpper(r[0]) && unicode.IsLetter(r[0])
}

// topicOf picks the first run of consecutive capitalized words that do not
// open a sentence, lowercased so cluster keys compare consistently.
func topicOf(toks []token) string {
	var run []string
	for _, tok := range toks {
		if !tok.start && capitalized(tok.text) {
			run = append(run, tok.text)
			continue
		}
		if len(run) > 0 {
			break
		}
	}
	return strings.ToLower(strings.Join(run, " "))
}

// entitiesOf collects capitalized words that do not open a sentence,
// deduplicated in order of first appearance.
func entitiesOf(toks []token) []string {
	var out []string
	seen := map[string]bool{}
	for _, tok := range toks {
		if tok.start || !capitalized(tok.text) || seen[tok.text] {
			continue
		}
		seen[tok.text] = true
		out = append(out, tok.text)
		if len(out) == maxEntities {
			break
		}
	}
	return out
}

func hasAny(has map[string]bool, words ...string) bool {
	for _, w := range words {
		if has[w] {
			return true
		}
	}
	return false
}

// Earlier rules win, so content mentioning both a bug and a meeting is an
// issue.
func categorize(content string, has map[string]bool) string {
	switch {
	case hasAny(has, "error", "bug", "fail", "failed", "failure", "broken", "crash", "crashed", "crashes", "issue", "outage"):
		return "issue"
	case strings.Contains(content, "?") || hasAny(has, "how", "what", "why", "when", "where", "who"):
		return "question"
	case hasAny(has, "prefer", "prefers", "preference", "remember", "note", "always", "favorite"):
		return "preference"
	case hasAny(has, "meeting", "schedule", "scheduled", "deadline", "plan", "planning", "milestone"):
		return "planning"
	default:
		return "general"
	}
}

func importanceOf(has map[string]bool) string {
	switch {
	case hasAny(has, "critical", "urgent", "important", "must", "asap", "blocker"):
		return model.ImportanceHigh
	case hasAny(has, "trivial", "minor", "fyi", "whenever", "someday"):
		return model.ImportanceLow
	default:
		return model.ImportanceMedium
	}
}

var positiveWords = map[string]bool{
	"good": true, "great": true, "love": true, "excellent": true,
	"happy": true, "works": true, "fixed": true, "resolved": true,
	"thanks": true, "perfect": true,
}

var negativeWords = map[string]bool{
	"bad": true, "hate": true, "terrible": true, "awful": true,
	"angry": true, "broken": true, "fails": true, "wrong": true,
	"annoying": true, "frustrated": true,
}

func sentimentOf(toks []token) string {
	var pos, neg int
	for _, tok := range toks {
		w := strings.ToLower(tok.text)
		if positiveWords[w] {
			pos++
		}
		if negativeWords[w] {
			neg++
		}
	}
	switch {
	case pos > neg:
		return "positive"
	case neg > pos:
		return "negative"
	default:
		return "neutral"
	}
}
