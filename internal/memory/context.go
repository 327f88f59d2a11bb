package memory

import (
	"context"
	"fmt"
	"sort"

	registrystore "github.com/memoric/memoric/internal/registry/store"
	"github.com/memoric/memoric/internal/retrieval"
	"github.com/memoric/memoric/internal/scoring"
)

// Context payload shapes.
const (
	FormatStructured = "structured"
	FormatSimple     = "simple"
	FormatChat       = "chat"
)

// ContextRequest captures one retrieve_context call. MaxResults is an
// accepted alias for TopK.
type ContextRequest struct {
	UserID     string `json:"user_id"`
	ThreadID   string `json:"thread_id"`
	Topic      string `json:"topic"`
	Namespace  string `json:"namespace"`
	TopK       int    `json:"top_k"`
	MaxResults int    `json:"max_results"`
	Format     string `json:"format"`
}

// ChatMessage is one line of the chat-shaped context payload.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Context is an assembled conversation context: the thread's own records
// chronologically, plus related history from the user's wider memory in
// score order. Exactly one of the shape fields is populated per format.
type Context struct {
	Format         string                 `json:"format"`
	ThreadContext  []string               `json:"thread_context,omitempty"`
	RelatedHistory []string               `json:"related_history,omitempty"`
	Memories       []string               `json:"memories,omitempty"`
	Messages       []ChatMessage          `json:"messages,omitempty"`
	Metadata       map[string]interface{} `json:"metadata"`
}

// RetrieveContext runs one user-scoped retrieval and partitions the ranked
// results into the thread's own records and related history from other
// threads.
func (m *Manager) RetrieveContext(ctx context.Context, req ContextRequest) (*Context, error) {
	if req.UserID == "" {
		return nil, &registrystore.ValidationError{Field: "user_id", Message: "required"}
	}
	if req.ThreadID == "" {
		return nil, &registrystore.ValidationError{Field: "thread_id", Message: "required"}
	}
	format := req.Format
	if format == "" {
		format = FormatStructured
	}
	switch format {
	case FormatStructured, FormatSimple, FormatChat:
	default:
		return nil, &registrystore.ValidationError{
			Field:   "format",
			Message: fmt.Sprintf("unknown format %q; valid: structured, simple, chat", format),
		}
	}
	limit := req.TopK
	if limit <= 0 {
		limit = req.MaxResults
	}
	if limit <= 0 {
		limit = m.cfg.Policy.Retrieval.DefaultTopK
	}

	res, err := m.retriever.Retrieve(ctx, retrieval.Query{
		UserID:    req.UserID,
		Scope:     retrieval.ScopeUser,
		Namespace: req.Namespace,
		Topic:     req.Topic,
		Limit:     limit,
	})
	if err != nil {
		return nil, err
	}

	var thread, related []scoring.ScoredRecord
	for _, s := range res.Records {
		if s.Record.ThreadID == req.ThreadID {
			thread = append(thread, s)
		} else {
			related = append(related, s)
		}
	}
	// Thread lines read as a transcript; related history stays ranked.
	sort.Slice(thread, func(i, j int) bool {
		a, b := thread[i].Record, thread[j].Record
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})

	topic := req.Topic
	if topic == "" {
		topic = dominantTopic(thread)
	}
	out := &Context{
		Format: format,
		Metadata: map[string]interface{}{
			"user_id":          req.UserID,
			"thread_id":        req.ThreadID,
			"topic":            topic,
			"total_memories":   len(res.Records),
			"thread_memories":  len(thread),
			"related_memories": len(related),
		},
	}
	switch format {
	case FormatStructured:
		out.ThreadContext = lines(thread)
		out.RelatedHistory = lines(related)
	case FormatSimple:
		out.Memories = append(lines(thread), lines(related)...)
	case FormatChat:
		for _, s := range thread {
			role := s.Record.Metadata.Role()
			if role == "" {
				role = "user"
			}
			out.Messages = append(out.Messages, ChatMessage{Role: role, Content: s.Record.Content})
		}
		for _, s := range related {
			out.Messages = append(out.Messages, ChatMessage{Role: "system", Content: s.Record.Content})
		}
	}
	return out, nil
}

// lines renders records as role-prefixed transcript lines.
func lines(recs []scoring.ScoredRecord) []string {
	out := make([]string, 0, len(recs))
	for _, s := range recs {
		if role := s.Record.Metadata.Role(); role != "" {
			out = append(out, role+": "+s.Record.Content)
		} else {
			out = append(out, s.Record.Content)
		}
	}
	return out
}

// dominantTopic returns the most frequent topic among the records, ties
// broken lexicographically.
func dominantTopic(recs []scoring.ScoredRecord) string {
	counts := map[string]int{}
	for _, s := range recs {
		if t := s.Record.Metadata.Topic(); t != "" {
			counts[t]++
		}
	}
	best := ""
	bestN := 0
	for t, n := range counts {
		if n > bestN || (n == bestN && (best == "" || t < best)) {
			best, bestN = t, n
		}
	}
	return best
}
