package external_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memoric/memoric/internal/plugin/textproc/external"
)

func TestSummarizeSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Text        string `json:"text"`
			TargetChars int    `json:"target_chars"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "a very long text to condense", req.Text)
		assert.Equal(t, 20, req.TargetChars)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"summary":"condensed"}`)
	}))
	defer srv.Close()

	s := external.New(srv.URL)
	got := s.Summarize(context.Background(), "a very long text to condense", 20)
	assert.Equal(t, "condensed", got)
}

func TestSummarizeRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, `{"summary":"second try"}`)
	}))
	defer srv.Close()

	s := external.New(srv.URL)
	got := s.Summarize(context.Background(), "text", 10)
	assert.Equal(t, "second try", got)
	assert.Equal(t, int32(2), calls.Load())
}

func TestSummarizeClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	s := external.New(srv.URL)
	got := s.Summarize(context.Background(), "some long text here", 9)
	// Falls back to truncation.
	assert.Equal(t, "some lon…", got)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSummarizeFallsBackOnFailure(t *testing.T) {
	s := external.New("http://invalid.example").WithCallable(
		func(ctx context.Context, text string, targetChars int) (string, error) {
			return "", errors.New("boom")
		})
	got := s.Summarize(context.Background(), "0123456789abcdef", 10)
	assert.Equal(t, "012345678…", got)
}

func TestSummarizeEmptySummaryFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"summary":""}`)
	}))
	defer srv.Close()

	s := external.New(srv.URL)
	got := s.Summarize(context.Background(), "fallback source text", 8)
	assert.Equal(t, "fallbac…", got)
}
