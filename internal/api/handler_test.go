// internal/api/handler_test.go
package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"gitpulse/internal/analysis"
	"gitpulse/internal/apperr"
	"gitpulse/internal/gemini"
	"gitpulse/internal/model"
	"gitpulse/internal/store"
	"gitpulse/internal/summary"
	"gitpulse/internal/syncer"
)

type mockSourceClient struct {
	mock.Mock
}

func (m *mockSourceClient) ListUserRepositories(ctx context.Context, includePrivate, includeForks bool) ([]model.DiscoveredRepo, error) {
	args := m.Called(ctx, includePrivate, includeForks)
	repos, _ := args.Get(0).([]model.DiscoveredRepo)
	return repos, args.Error(1)
}

func (m *mockSourceClient) ListCommits(ctx context.Context, fullName string, since *time.Time, author string) ([]model.Commit, error) {
	args := m.Called(ctx, fullName, since, author)
	commits, _ := args.Get(0).([]model.Commit)
	return commits, args.Error(1)
}

func (m *mockSourceClient) GetCommitDetailsBatch(ctx context.Context, fullName string, shas []string, concurrency int) []model.Commit {
	args := m.Called(ctx, fullName, shas, concurrency)
	details, _ := args.Get(0).([]model.Commit)
	return details
}

func (m *mockSourceClient) ListPullRequests(ctx context.Context, fullName, state string, since *time.Time) ([]model.PullRequest, error) {
	args := m.Called(ctx, fullName, state, since)
	prs, _ := args.Get(0).([]model.PullRequest)
	return prs, args.Error(1)
}

func (m *mockSourceClient) GetLanguages(ctx context.Context, fullName string) (map[string]int, error) {
	args := m.Called(ctx, fullName)
	languages, _ := args.Get(0).(map[string]int)
	return languages, args.Error(1)
}

func (m *mockSourceClient) GetFileContent(ctx context.Context, fullName, path string) (*string, error) {
	args := m.Called(ctx, fullName, path)
	content, _ := args.Get(0).(*string)
	return content, args.Error(1)
}

type stubAnalyzer struct{}

func (stubAnalyzer) AnalyzeDiff(context.Context, string, string, string) (gemini.DiffAnalysis, error) {
	return gemini.DiffAnalysis{Summary: "fine", WorkCategory: "other"}, nil
}

func (stubAnalyzer) AnalyzeTechStack(context.Context, map[string]string, string, string) (gemini.TechStack, error) {
	return gemini.TechStack{Domain: "web_backend"}, nil
}

type stubSummarizer struct{}

func (stubSummarizer) GenerateWeeklySummary(context.Context, []gemini.ActivityCommit, []gemini.ActivityPullRequest, []gemini.ActivityAnalysis, string, string) (gemini.WeeklySummary, error) {
	return gemini.WeeklySummary{Highlight: "a good week"}, nil
}

func (stubSummarizer) GenerateMonthlySummary(context.Context, []gemini.WeeklySummary, map[string]any) (gemini.MonthlySummary, error) {
	return gemini.MonthlySummary{Narrative: "a good month"}, nil
}

func newTestRouter(st *store.Mock, client *mockSourceClient) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	factory := func(string) syncer.SourceClient { return client }
	pipeline := analysis.NewPipeline(st, stubAnalyzer{}, 50, time.Hour, logger)
	summaries := summary.NewService(st, stubSummarizer{}, logger)
	sync := syncer.NewSyncer(st, factory, pipeline, time.Hour, 5, logger)
	return NewRouter(st, sync, pipeline, summaries, factory, logger)
}

func doRequest(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHealthCheck(t *testing.T) {
	rec := doRequest(t, newTestRouter(new(store.Mock), new(mockSourceClient)), http.MethodGet, "/healthz", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestGetSyncJob(t *testing.T) {
	t.Run("returns the job", func(t *testing.T) {
		st := new(store.Mock)
		st.On("GetSyncJob", mock.Anything, int64(42)).
			Return(&model.SyncJob{ID: 42, UserID: 3, Status: model.JobStatusCompleted}, nil)

		rec := doRequest(t, newTestRouter(st, new(mockSourceClient)), http.MethodGet, "/v1/sync/jobs/42", "")

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"status":"completed"`)
	})

	t.Run("unknown job is a 404", func(t *testing.T) {
		st := new(store.Mock)
		st.On("GetSyncJob", mock.Anything, int64(999)).Return((*model.SyncJob)(nil), store.ErrNotFound)

		rec := doRequest(t, newTestRouter(st, new(mockSourceClient)), http.MethodGet, "/v1/sync/jobs/999", "")

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("non-numeric id is a 400", func(t *testing.T) {
		rec := doRequest(t, newTestRouter(new(store.Mock), new(mockSourceClient)), http.MethodGet, "/v1/sync/jobs/abc", "")

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestListRepositories(t *testing.T) {
	t.Run("requires user_id", func(t *testing.T) {
		rec := doRequest(t, newTestRouter(new(store.Mock), new(mockSourceClient)), http.MethodGet, "/v1/repositories", "")

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("lists the user's repositories", func(t *testing.T) {
		st := new(store.Mock)
		st.On("ListRepositories", mock.Anything, int64(3)).
			Return([]model.Repository{{ID: 7, FullName: "octo/widgets"}}, nil)

		rec := doRequest(t, newTestRouter(st, new(mockSourceClient)), http.MethodGet, "/v1/repositories?user_id=3", "")

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "octo/widgets")
	})
}

func TestTriggerSync(t *testing.T) {
	t.Run("unknown user is a 404", func(t *testing.T) {
		st := new(store.Mock)
		st.On("GetUser", mock.Anything, int64(99)).Return((*model.User)(nil), store.ErrNotFound)

		rec := doRequest(t, newTestRouter(st, new(mockSourceClient)), http.MethodPost, "/v1/sync/trigger", `{"user_id":99}`)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("runs the job and returns its row", func(t *testing.T) {
		st := new(store.Mock)
		st.On("GetUser", mock.Anything, int64(3)).
			Return(&model.User{ID: 3, GithubLogin: "octo", AccessToken: "tok"}, nil)
		st.On("ListActiveRepositories", mock.Anything, int64(3), []int64{7}).
			Return([]model.Repository(nil), nil)
		st.On("CreateSyncJob", mock.Anything, int64(3), model.JobTypeManualSync).
			Return(&model.SyncJob{ID: 50, UserID: 3, Status: model.JobStatusRunning}, nil)
		st.On("FinalizeSyncJob", mock.Anything, int64(50), model.JobStatusCompleted, 0, map[string]any(nil)).
			Return(nil)

		rec := doRequest(t, newTestRouter(st, new(mockSourceClient)), http.MethodPost, "/v1/sync/trigger", `{"user_id":3,"repo_ids":[7]}`)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"status":"completed"`)
		st.AssertExpectations(t)
	})

	t.Run("garbage body is a 400", func(t *testing.T) {
		rec := doRequest(t, newTestRouter(new(store.Mock), new(mockSourceClient)), http.MethodPost, "/v1/sync/trigger", `{not json`)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestDiscoverRepositories(t *testing.T) {
	t.Run("marks tracked repositories", func(t *testing.T) {
		st := new(store.Mock)
		client := new(mockSourceClient)
		st.On("GetUser", mock.Anything, int64(3)).
			Return(&model.User{ID: 3, GithubLogin: "octo", AccessToken: "tok"}, nil)
		client.On("ListUserRepositories", mock.Anything, false, true).Return([]model.DiscoveredRepo{
			{GithubRepoID: 100, FullName: "octo/alpha"},
		}, nil)
		st.On("TrackedGithubRepoIDs", mock.Anything, int64(3)).Return(map[int64]int64{100: 1}, nil)

		rec := doRequest(t, newTestRouter(st, client), http.MethodGet, "/v1/repositories/discover?user_id=3&include_forks=true", "")

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"already_tracked":true`)
	})

	t.Run("source rate limit is a 429", func(t *testing.T) {
		st := new(store.Mock)
		client := new(mockSourceClient)
		st.On("GetUser", mock.Anything, int64(3)).
			Return(&model.User{ID: 3, GithubLogin: "octo", AccessToken: "tok"}, nil)
		client.On("ListUserRepositories", mock.Anything, false, false).
			Return([]model.DiscoveredRepo(nil), apperr.RateLimit("API rate limit exceeded", time.Time{}))

		rec := doRequest(t, newTestRouter(st, client), http.MethodGet, "/v1/repositories/discover?user_id=3", "")

		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	})
}

func TestAnalyzeTechStack(t *testing.T) {
	st := new(store.Mock)
	client := new(mockSourceClient)
	desc := "widget service"
	st.On("GetRepository", mock.Anything, int64(7)).
		Return(&model.Repository{ID: 7, UserID: 3, FullName: "octo/widgets", Description: &desc}, nil)
	st.On("GetUser", mock.Anything, int64(3)).
		Return(&model.User{ID: 3, GithubLogin: "octo", AccessToken: "tok"}, nil)
	client.On("GetFileContent", mock.Anything, "octo/widgets", mock.AnythingOfType("string")).
		Return((*string)(nil), nil)
	client.On("GetLanguages", mock.Anything, "octo/widgets").Return(map[string]int{"Go": 100}, nil)
	st.On("MergeRepositoryMetadata", mock.Anything, int64(7), (*string)(nil), mock.Anything).Return(nil)

	rec := doRequest(t, newTestRouter(st, client), http.MethodPost, "/v1/repositories/7/tech-stack", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"analyzed"`)
	st.AssertExpectations(t)
}

func TestGenerateWeeklySummary(t *testing.T) {
	t.Run("generates and returns the summary row", func(t *testing.T) {
		st := new(store.Mock)
		st.On("GetUser", mock.Anything, int64(3)).
			Return(&model.User{ID: 3, GithubLogin: "octo"}, nil)
		st.On("ListCommitActivity", mock.Anything, int64(3), mock.Anything, mock.Anything).
			Return([]store.CommitActivity(nil), nil)
		st.On("ListPullRequestActivity", mock.Anything, int64(3), mock.Anything, mock.Anything).
			Return([]store.PullRequestActivity(nil), nil)
		st.On("ListCommitAnalyses", mock.Anything, int64(3), mock.Anything, mock.Anything).
			Return([]model.Analysis(nil), nil)
		st.On("FirstActiveRepositoryID", mock.Anything, int64(3)).Return(int64(7), nil)
		st.On("SaveAnalysis", mock.Anything, mock.MatchedBy(func(a *model.Analysis) bool {
			return a.SourceType == model.SourceTypeWeeklySummary && a.SourceID == 3
		})).Return(nil)

		rec := doRequest(t, newTestRouter(st, new(mockSourceClient)), http.MethodPost,
			"/v1/summaries/weekly", `{"user_id":3,"week_start":"2026-08-10"}`)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "a good week")
	})

	t.Run("malformed week_start is a 400", func(t *testing.T) {
		st := new(store.Mock)
		st.On("GetUser", mock.Anything, int64(3)).
			Return(&model.User{ID: 3, GithubLogin: "octo"}, nil)

		rec := doRequest(t, newTestRouter(st, new(mockSourceClient)), http.MethodPost,
			"/v1/summaries/weekly", `{"user_id":3,"week_start":"next tuesday"}`)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
