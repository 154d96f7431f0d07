// internal/gemini/client_test.go
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitpulse/internal/apperr"
	"gitpulse/internal/ratelimit"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestClient builds a client against a httptest server with a bucket
// large enough that tests never wait.
func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(Config{
		APIKey:  "test-key",
		BaseURL: server.URL,
	}, ratelimit.NewTokenBucket(1000, 1000), testLogger())
	require.NoError(t, err)
	return client, server
}

// modelReply wraps text into the generateContent response envelope.
func modelReply(text string) string {
	b, _ := json.Marshal(map[string]any{
		"candidates": []map[string]any{
			{"content": map[string]any{"parts": []map[string]any{{"text": text}}}},
		},
	})
	return string(b)
}

func TestParseJSONResponse(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want map[string]any
	}{
		{
			name: "direct JSON",
			raw:  `{"summary": "refactor"}`,
			want: map[string]any{"summary": "refactor"},
		},
		{
			name: "fenced code block with language tag",
			raw:  "Here is the analysis:\n```json\n{\"summary\": \"fenced\"}\n```\nDone.",
			want: map[string]any{"summary": "fenced"},
		},
		{
			name: "fenced code block without language tag",
			raw:  "```\n{\"summary\": \"plain fence\"}\n```",
			want: map[string]any{"summary": "plain fence"},
		},
		{
			name: "brace substring",
			raw:  `The result is {"summary": "braces"} as requested.`,
			want: map[string]any{"summary": "braces"},
		},
		{
			name: "no JSON anywhere",
			raw:  "I could not produce the analysis you asked for.",
			want: nil,
		},
		{
			name: "JSON list is not a usable object",
			raw:  `["a", "b"]`,
			want: nil,
		},
		{
			name: "empty input",
			raw:  "",
			want: nil,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, parseJSONResponse(tc.raw))
		})
	}
}

func TestAnalyzeDiff(t *testing.T) {
	t.Run("parses a structured reply", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))
			assert.Contains(t, r.URL.Path, ":generateContent")

			body, _ := io.ReadAll(r.Body)
			assert.Contains(t, string(body), "application/json", "JSON-only response must be requested")

			fmt.Fprint(w, modelReply(`{
				"summary": "Adds retry logic",
				"work_category": "feature",
				"technologies_detected": ["Go"],
				"complexity_score": 4.25,
				"quality_notes": ["well tested"]
			}`))
		})
		client, _ := newTestClient(t, handler)

		result, err := client.AnalyzeDiff(context.Background(), "diff text", "add retries", "octo/widgets")

		require.NoError(t, err)
		assert.Equal(t, "Adds retry logic", result.Summary)
		assert.Equal(t, "feature", result.WorkCategory)
		assert.Equal(t, []string{"Go"}, result.TechnologiesDetected)
		assert.Equal(t, 4.25, result.ComplexityScore)
	})

	t.Run("falls back to defaults when the reply has no JSON", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, modelReply("Sorry, I cannot analyze this diff."))
		})
		client, _ := newTestClient(t, handler)

		result, err := client.AnalyzeDiff(context.Background(), "diff", "msg", "octo/widgets")

		require.NoError(t, err, "unparseable replies degrade, they never error")
		assert.Equal(t, DiffAnalysis{
			Summary:              "Analysis result could not be parsed",
			WorkCategory:         "other",
			TechnologiesDetected: []string{},
			ComplexityScore:      1.0,
			QualityNotes:         []string{},
		}, result)
	})

	t.Run("merges a partial reply over defaults", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, modelReply(`{"summary": "partial"}`))
		})
		client, _ := newTestClient(t, handler)

		result, err := client.AnalyzeDiff(context.Background(), "diff", "msg", "octo/widgets")

		require.NoError(t, err)
		assert.Equal(t, "partial", result.Summary)
		assert.Equal(t, "other", result.WorkCategory)
		assert.Equal(t, 1.0, result.ComplexityScore)
	})
}

func TestGenerate_ErrorClassification(t *testing.T) {
	t.Run("HTTP 429 is a rate limit error", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"error": {"code": 429, "message": "Resource has been exhausted", "status": "RESOURCE_EXHAUSTED"}}`)
		})
		client, _ := newTestClient(t, handler)

		_, err := client.AnalyzeDiff(context.Background(), "diff", "msg", "octo/widgets")

		require.Error(t, err)
		assert.True(t, apperr.IsRateLimit(err))
	})

	t.Run("quota vocabulary in an error body is a rate limit error", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
			fmt.Fprint(w, `{"error": {"code": 403, "message": "Quota exceeded for quota metric"}}`)
		})
		client, _ := newTestClient(t, handler)

		_, err := client.AnalyzeDiff(context.Background(), "diff", "msg", "octo/widgets")

		require.Error(t, err)
		assert.True(t, apperr.IsRateLimit(err))
	})

	t.Run("other failures are external API errors", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, `{"error": {"code": 500, "message": "internal failure"}}`)
		})
		client, _ := newTestClient(t, handler)

		_, err := client.AnalyzeDiff(context.Background(), "diff", "msg", "octo/widgets")

		require.Error(t, err)
		assert.Equal(t, apperr.KindExternalAPI, apperr.KindOf(err))
	})

	t.Run("empty candidate list is a parse error", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"candidates": []}`)
		})
		client, _ := newTestClient(t, handler)

		_, err := client.AnalyzeDiff(context.Background(), "diff", "msg", "octo/widgets")

		require.Error(t, err)
		assert.Equal(t, apperr.KindParse, apperr.KindOf(err))
	})
}

func TestGenerate_TokenBucketThrottles(t *testing.T) {
	var requests int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		fmt.Fprint(w, modelReply(`{"summary": "ok"}`))
	})
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	// One token burst, ~1 token per 50ms.
	client, err := NewClient(Config{APIKey: "k", BaseURL: server.URL}, ratelimit.NewTokenBucket(20, 1), testLogger())
	require.NoError(t, err)

	ctx := context.Background()
	start := time.Now()
	_, err = client.AnalyzeDiff(ctx, "d", "m", "octo/widgets")
	require.NoError(t, err)
	_, err = client.AnalyzeDiff(ctx, "d", "m", "octo/widgets")
	require.NoError(t, err)

	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond, "second call must wait for a token")
	assert.Equal(t, int32(2), atomic.LoadInt32(&requests))
}

func TestPromptCaps(t *testing.T) {
	commits := make([]ActivityCommit, 80)
	for i := range commits {
		commits[i] = ActivityCommit{Message: fmt.Sprintf("commit-%03d", i), Repo: "octo/widgets"}
	}

	prompt := buildWeeklySummaryPrompt(commits, nil, nil, "2026-08-17", "2026-08-23")

	assert.Contains(t, prompt, "commit-049", "the first 50 commits are embedded")
	assert.NotContains(t, prompt, "commit-050", "commits beyond the cap are cut")
}

func TestTechStackPromptTruncatesFiles(t *testing.T) {
	big := strings.Repeat("x", 9000)
	prompt := buildTechStackPrompt(map[string]string{"package.json": big}, "", "")

	assert.Less(t, len(prompt), 7000, "dependency files are capped at 5000 chars")
	assert.Contains(t, prompt, "package.json")
}
