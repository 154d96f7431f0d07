// internal/github/client_test.go
package github

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-github/v62/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitpulse/internal/apperr"
	"gitpulse/internal/ratelimit"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// setupTestClient points a Client at a httptest server, keeping the ETag
// transport in the chain so conditional-request behavior is exercised.
func setupTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := &Client{
		limiter: ratelimit.NewHeaderLimiter(testLogger()),
		logger:  testLogger(),
	}

	httpClient := &http.Client{Transport: newETagTransport(http.DefaultTransport)}
	gh := github.NewClient(httpClient)
	base, err := url.Parse(server.URL + "/")
	require.NoError(t, err)
	gh.BaseURL = base
	client.gh = gh

	return client, server
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestClient_ListCommits_Pagination(t *testing.T) {
	const pages, perPageSize = 3, 2

	var requests int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		assert.Equal(t, "/repos/octo/widgets/commits", r.URL.Path)

		page := 1
		if p := r.URL.Query().Get("page"); p != "" {
			fmt.Sscanf(p, "%d", &page)
		}
		if page < pages {
			w.Header().Set("Link", fmt.Sprintf(`<%s?page=%d>; rel="next"`, "http://"+r.Host+r.URL.Path, page+1))
		}

		var items []map[string]any
		for i := 0; i < perPageSize; i++ {
			items = append(items, map[string]any{
				"sha": fmt.Sprintf("sha-%d-%d", page, i),
				"commit": map[string]any{
					"message":   fmt.Sprintf("commit %d-%d", page, i),
					"committer": map[string]any{"date": "2026-01-02T03:04:05Z"},
				},
			})
		}
		writeJSON(w, items)
	})

	client, _ := setupTestClient(t, handler)

	commits, err := client.ListCommits(context.Background(), "octo/widgets", nil, "octo")

	require.NoError(t, err)
	require.Len(t, commits, pages*perPageSize)
	assert.Equal(t, int32(pages), atomic.LoadInt32(&requests), "one request per page")
	assert.Equal(t, "sha-1-0", commits[0].SHA, "original order preserved")
	assert.Equal(t, "sha-3-1", commits[len(commits)-1].SHA)
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), commits[0].CommittedAt)
}

func TestClient_ETagCache(t *testing.T) {
	var requests int32
	payload := `{"Go": 12345, "SQL": 678}`
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&requests, 1)
		if n > 1 {
			assert.Equal(t, `"v1"`, r.Header.Get("If-None-Match"), "second request should be conditional")
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, payload)
	})

	client, _ := setupTestClient(t, handler)
	ctx := context.Background()

	first, err := client.GetLanguages(ctx, "octo/widgets")
	require.NoError(t, err)

	second, err := client.GetLanguages(ctx, "octo/widgets")
	require.NoError(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(&requests))
	assert.Equal(t, first, second, "304 must replay the cached payload unchanged")
	assert.Equal(t, map[string]int{"Go": 12345, "SQL": 678}, second)
}

func TestClient_GetCommitDetailsBatch(t *testing.T) {
	t.Run("drops failing fetches without aborting", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/repos/octo/widgets/commits/bad" {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			sha := r.URL.Path[len("/repos/octo/widgets/commits/"):]
			writeJSON(w, map[string]any{
				"sha": sha,
				"commit": map[string]any{
					"message":   "msg " + sha,
					"committer": map[string]any{"date": "2026-01-02T03:04:05Z"},
				},
				"stats": map[string]any{"additions": 3, "deletions": 1, "total": 4},
				"files": []map[string]any{
					{"filename": "main.go", "status": "modified", "additions": 3, "deletions": 1, "patch": "@@ -1 +1 @@"},
				},
			})
		})

		client, _ := setupTestClient(t, handler)

		details := client.GetCommitDetailsBatch(context.Background(), "octo/widgets", []string{"aaa", "bad", "ccc"}, 2)

		require.Len(t, details, 2)
		assert.Equal(t, "aaa", details[0].SHA)
		assert.Equal(t, "ccc", details[1].SHA)
		assert.Equal(t, 3, details[0].Additions)
		assert.Equal(t, 1, details[0].ChangedFiles)
	})

	t.Run("respects the concurrency bound", func(t *testing.T) {
		var inFlight, maxInFlight int32
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cur := atomic.AddInt32(&inFlight, 1)
			for {
				observed := atomic.LoadInt32(&maxInFlight)
				if cur <= observed || atomic.CompareAndSwapInt32(&maxInFlight, observed, cur) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)

			writeJSON(w, map[string]any{
				"sha": "s",
				"commit": map[string]any{
					"message":   "m",
					"committer": map[string]any{"date": "2026-01-02T03:04:05Z"},
				},
			})
		})

		client, _ := setupTestClient(t, handler)

		shas := []string{"a", "b", "c", "d", "e", "f"}
		_ = client.GetCommitDetailsBatch(context.Background(), "octo/widgets", shas, 2)

		assert.LessOrEqual(t, atomic.LoadInt32(&maxInFlight), int32(2))
	})
}

func TestClient_ListPullRequests_SinceFilter(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "all", r.URL.Query().Get("state"))
		writeJSON(w, []map[string]any{
			{"id": 1, "number": 10, "title": "new", "state": "open", "created_at": "2026-02-01T00:00:00Z", "updated_at": "2026-02-10T00:00:00Z"},
			{"id": 2, "number": 11, "title": "stale", "state": "closed", "created_at": "2025-01-01T00:00:00Z", "updated_at": "2025-06-01T00:00:00Z"},
		})
	})

	client, _ := setupTestClient(t, handler)

	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	prs, err := client.ListPullRequests(context.Background(), "octo/widgets", "all", &since)

	require.NoError(t, err)
	require.Len(t, prs, 1, "PRs last updated before the cursor are filtered client-side")
	assert.Equal(t, int64(1), prs[0].GithubPRID)
	assert.Equal(t, "new", prs[0].Title)
}

func TestClient_GetFileContent(t *testing.T) {
	t.Run("decodes base64 contents", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, map[string]any{
				"type":     "file",
				"encoding": "base64",
				"content":  base64.StdEncoding.EncodeToString([]byte("module gitpulse\n")),
			})
		})
		client, _ := setupTestClient(t, handler)

		content, err := client.GetFileContent(context.Background(), "octo/widgets", "go.mod")

		require.NoError(t, err)
		require.NotNil(t, content)
		assert.Equal(t, "module gitpulse\n", *content)
	})

	t.Run("returns nil on 404", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"message": "Not Found"}`)
		})
		client, _ := setupTestClient(t, handler)

		content, err := client.GetFileContent(context.Background(), "octo/widgets", "Cargo.toml")

		require.NoError(t, err)
		assert.Nil(t, content)
	})

	t.Run("propagates non-404 failures", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		})
		client, _ := setupTestClient(t, handler)

		_, err := client.GetFileContent(context.Background(), "octo/widgets", "go.mod")

		require.Error(t, err)
		assert.Equal(t, apperr.KindExternalAPI, apperr.KindOf(err))
	})
}

func TestClient_ErrorClassification(t *testing.T) {
	cases := []struct {
		name     string
		status   int
		headers  map[string]string
		body     string
		wantKind apperr.Kind
	}{
		{
			name:     "403 with zero remaining is a rate limit error",
			status:   http.StatusForbidden,
			headers:  map[string]string{"X-RateLimit-Remaining": "0", "X-RateLimit-Reset": "1700000000", "X-RateLimit-Limit": "5000"},
			body:     `{"message": "API rate limit exceeded"}`,
			wantKind: apperr.KindRateLimit,
		},
		{
			name:     "404 is a not found error",
			status:   http.StatusNotFound,
			body:     `{"message": "Not Found"}`,
			wantKind: apperr.KindNotFound,
		},
		{
			name:     "other 4xx is an external API error",
			status:   http.StatusUnprocessableEntity,
			body:     `{"message": "Validation Failed"}`,
			wantKind: apperr.KindExternalAPI,
		},
		{
			name:     "5xx is an external API error",
			status:   http.StatusInternalServerError,
			body:     `{"message": "boom"}`,
			wantKind: apperr.KindExternalAPI,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tc.headers {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tc.status)
				fmt.Fprint(w, tc.body)
			})
			client, _ := setupTestClient(t, handler)

			_, err := client.GetLanguages(context.Background(), "octo/widgets")

			require.Error(t, err)
			assert.Equal(t, tc.wantKind, apperr.KindOf(err))
		})
	}
}

func TestClient_FeedsLimiterFromHeaders(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", time.Now().Add(80*time.Millisecond).Unix()))
		writeJSON(w, map[string]int{"Go": 1})
	})

	client, _ := setupTestClient(t, handler)
	ctx := context.Background()

	_, err := client.GetLanguages(ctx, "octo/widgets")
	require.NoError(t, err)

	// Next acquire must observe the exhausted budget from the response.
	start := time.Now()
	require.NoError(t, client.limiter.Acquire(ctx))
	// Reset timestamps have second granularity, so the wait may round to
	// zero; what matters is it did not error and cleared the state.
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestSplitFullName(t *testing.T) {
	owner, name, err := splitFullName("octo/widgets")
	require.NoError(t, err)
	assert.Equal(t, "octo", owner)
	assert.Equal(t, "widgets", name)

	for _, bad := range []string{"", "octo", "/widgets", "octo/"} {
		_, _, err := splitFullName(bad)
		assert.Error(t, err, bad)
	}
}
