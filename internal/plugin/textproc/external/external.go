package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/charmbracelet/log"

	"github.com/memoric/memoric/internal/plugin/textproc/truncate"
	"github.com/memoric/memoric/internal/registry/textproc"
)

const (
	defaultTimeout    = 30 * time.Second
	defaultMaxRetries = 2
)

func init() {
	textproc.Register(textproc.Plugin{
		Name:       "external",
		Summarizer: load,
	})
}

func load(ctx context.Context, params map[string]interface{}) (textproc.Summarizer, error) {
	endpoint, _ := params["endpoint"].(string)
	if endpoint == "" {
		return nil, fmt.Errorf("external summarizer: params.endpoint is required")
	}
	s := New(endpoint)
	if v, ok := params["timeout_seconds"].(int); ok && v > 0 {
		s.client.Timeout = time.Duration(v) * time.Second
	}
	if v, ok := params["max_retries"].(int); ok && v >= 0 {
		s.maxRetries = uint64(v)
	}
	return s, nil
}

// Summarizer posts content to an external summarization endpoint. Transient
// failures are retried with exponential backoff; when the endpoint cannot
// be reached at all, the content is truncated instead so policy runs keep
// making progress.
type Summarizer struct {
	endpoint   string
	client     *http.Client
	maxRetries uint64

	// call is the request function; tests swap it out.
	call func(ctx context.Context, text string, targetChars int) (string, error)
}

var _ textproc.Summarizer = (*Summarizer)(nil)

// New builds a Summarizer for the given endpoint.
func New(endpoint string) *Summarizer {
	s := &Summarizer{
		endpoint:   endpoint,
		client:     &http.Client{Timeout: defaultTimeout},
		maxRetries: defaultMaxRetries,
	}
	s.call = s.httpCall
	return s
}

// WithCallable replaces the HTTP request function.
func (s *Summarizer) WithCallable(call func(ctx context.Context, text string, targetChars int) (string, error)) *Summarizer {
	s.call = call
	return s
}

func (s *Summarizer) Summarize(ctx context.Context, text string, targetChars int) string {
	summary, err := s.call(ctx, text, targetChars)
	if err != nil {
		log.Warn("Summarize: external endpoint failed, truncating instead",
			"endpoint", s.endpoint, "error", err)
		return truncate.Cut(text, targetChars)
	}
	return summary
}

type summarizeRequest struct {
	Text        string `json:"text"`
	TargetChars int    `json:"target_chars"`
}

type summarizeResponse struct {
	Summary string `json:"summary"`
}

func (s *Summarizer) httpCall(ctx context.Context, text string, targetChars int) (string, error) {
	body, err := json.Marshal(summarizeRequest{Text: text, TargetChars: targetChars})
	if err != nil {
		return "", err
	}

	var summary string
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return fmt.Errorf("summarize endpoint returned %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			// Client errors will not heal on retry.
			return backoff.Permanent(fmt.Errorf("summarize endpoint returned %d", resp.StatusCode))
		}

		data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return err
		}
		var parsed summarizeResponse
		if err := json.Unmarshal(data, &parsed); err != nil {
			return backoff.Permanent(fmt.Errorf("summarize endpoint returned invalid JSON: %w", err))
		}
		summary = parsed.Summary
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), s.maxRetries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return "", err
	}
	if summary == "" {
		return "", fmt.Errorf("summarize endpoint returned an empty summary")
	}
	return summary, nil
}
