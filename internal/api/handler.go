// internal/api/handler.go
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"gitpulse/internal/analysis"
	"gitpulse/internal/apperr"
	"gitpulse/internal/model"
	"gitpulse/internal/store"
	"gitpulse/internal/summary"
	"gitpulse/internal/syncer"
)

// Handler is the container for API dependencies.
type Handler struct {
	store     store.Store
	syncer    *syncer.Syncer
	pipeline  *analysis.Pipeline
	summaries *summary.Service
	newClient syncer.ClientFactory
	logger    *slog.Logger
}

// NewRouter creates and configures a new chi router with all API routes.
func NewRouter(st store.Store, sync *syncer.Syncer, pipeline *analysis.Pipeline, summaries *summary.Service, factory syncer.ClientFactory, logger *slog.Logger) http.Handler {
	h := &Handler{
		store:     st,
		syncer:    sync,
		pipeline:  pipeline,
		summaries: summaries,
		newClient: factory,
		logger:    logger,
	}

	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Minute))

	// API Routes
	r.Get("/healthz", h.healthCheck)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/sync/trigger", h.triggerSync)
		r.Get("/sync/jobs/{jobID}", h.getSyncJob)
		r.Get("/sync/jobs", h.listSyncJobs)
		r.Get("/repositories", h.listRepositories)
		r.Get("/repositories/discover", h.discoverRepositories)
		r.Post("/repositories/{repoID}/tech-stack", h.analyzeTechStack)
		r.Post("/summaries/weekly", h.generateWeeklySummary)
		r.Post("/summaries/monthly", h.generateMonthlySummary)
	})

	return r
}

// healthCheck is a simple health endpoint.
func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// triggerSync runs a sync job for a user in the request.
// POST /v1/sync/trigger {"user_id": N, "repo_ids": [...], "full_sync": bool}
func (h *Handler) triggerSync(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID   int64   `json:"user_id"`
		RepoIDs  []int64 `json:"repo_ids"`
		FullSync bool    `json:"full_sync"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, ok := h.loadUser(w, r, req.UserID)
	if !ok {
		return
	}

	job, err := h.syncer.SyncAll(r.Context(), user, req.RepoIDs, req.FullSync)
	if err != nil {
		h.logger.Error("sync trigger failed", slog.Int64("user_id", req.UserID), slog.Any("error", err))
		respondWithError(w, http.StatusInternalServerError, "Sync failed to start")
		return
	}

	respondWithJSON(w, http.StatusOK, job)
}

// getSyncJob returns one sync job.
// GET /v1/sync/jobs/{jobID}
func (h *Handler) getSyncJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := strconv.ParseInt(chi.URLParam(r, "jobID"), 10, 64)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid job id")
		return
	}

	job, err := h.store.GetSyncJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondWithError(w, http.StatusNotFound, "Sync job not found")
			return
		}
		h.logger.Error("failed to load sync job", slog.Int64("job_id", jobID), slog.Any("error", err))
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	respondWithJSON(w, http.StatusOK, job)
}

// listSyncJobs returns a user's recent sync jobs, newest first.
// GET /v1/sync/jobs?user_id=N&limit=N
func (h *Handler) listSyncJobs(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.queryUserID(w, r)
	if !ok {
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 100 {
			respondWithError(w, http.StatusBadRequest, "Invalid 'limit' parameter. Must be an integer between 1 and 100.")
			return
		}
		limit = parsed
	}

	jobs, err := h.store.ListSyncJobs(r.Context(), userID, limit)
	if err != nil {
		h.logger.Error("failed to list sync jobs", slog.Int64("user_id", userID), slog.Any("error", err))
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	respondWithJSON(w, http.StatusOK, jobs)
}

// listRepositories returns a user's tracked repositories.
// GET /v1/repositories?user_id=N
func (h *Handler) listRepositories(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.queryUserID(w, r)
	if !ok {
		return
	}

	repos, err := h.store.ListRepositories(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to list repositories", slog.Int64("user_id", userID), slog.Any("error", err))
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	respondWithJSON(w, http.StatusOK, repos)
}

// discoverRepositories lists the user's remote repositories, marking the
// ones already tracked.
// GET /v1/repositories/discover?user_id=N&include_private=bool&include_forks=bool
func (h *Handler) discoverRepositories(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.queryUserID(w, r)
	if !ok {
		return
	}
	includePrivate := r.URL.Query().Get("include_private") == "true"
	includeForks := r.URL.Query().Get("include_forks") == "true"

	user, ok := h.loadUser(w, r, userID)
	if !ok {
		return
	}

	client := h.newClient(user.AccessToken)
	discovered, err := h.syncer.DiscoverRepositories(r.Context(), client, user, includePrivate, includeForks)
	if err != nil {
		h.respondUpstreamError(w, err, "Repository discovery failed")
		return
	}

	respondWithJSON(w, http.StatusOK, discovered)
}

// analyzeTechStack profiles one repository's technology stack.
// POST /v1/repositories/{repoID}/tech-stack
func (h *Handler) analyzeTechStack(w http.ResponseWriter, r *http.Request) {
	repoID, err := strconv.ParseInt(chi.URLParam(r, "repoID"), 10, 64)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid repository id")
		return
	}

	repo, err := h.store.GetRepository(r.Context(), repoID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondWithError(w, http.StatusNotFound, "Repository not found")
			return
		}
		h.logger.Error("failed to load repository", slog.Int64("repo_id", repoID), slog.Any("error", err))
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	user, ok := h.loadUser(w, r, repo.UserID)
	if !ok {
		return
	}

	client := h.newClient(user.AccessToken)
	if err := h.pipeline.AnalyzeRepoTechStack(r.Context(), client, repo); err != nil {
		h.respondUpstreamError(w, err, "Tech stack analysis failed")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]any{
		"repository_id": repo.ID,
		"status":        "analyzed",
	})
}

// generateWeeklySummary generates and stores a weekly summary.
// POST /v1/summaries/weekly {"user_id": N, "week_start": "2006-01-02"}
func (h *Handler) generateWeeklySummary(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID    int64  `json:"user_id"`
		WeekStart string `json:"week_start"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if _, ok := h.loadUser(w, r, req.UserID); !ok {
		return
	}

	var weekStart time.Time
	if req.WeekStart != "" {
		parsed, err := time.Parse("2006-01-02", req.WeekStart)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid 'week_start'. Expected YYYY-MM-DD.")
			return
		}
		weekStart = parsed
	}

	result, err := h.summaries.GenerateWeekly(r.Context(), req.UserID, weekStart)
	if err != nil {
		h.respondUpstreamError(w, err, "Weekly summary generation failed")
		return
	}

	respondWithJSON(w, http.StatusOK, result)
}

// generateMonthlySummary generates and stores a monthly summary.
// POST /v1/summaries/monthly {"user_id": N, "month": "2006-01"}
func (h *Handler) generateMonthlySummary(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID int64  `json:"user_id"`
		Month  string `json:"month"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if _, ok := h.loadUser(w, r, req.UserID); !ok {
		return
	}

	var month time.Time
	if req.Month != "" {
		parsed, err := time.Parse("2006-01", req.Month)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid 'month'. Expected YYYY-MM.")
			return
		}
		month = parsed
	}

	result, err := h.summaries.GenerateMonthly(r.Context(), req.UserID, month)
	if err != nil {
		h.respondUpstreamError(w, err, "Monthly summary generation failed")
		return
	}

	respondWithJSON(w, http.StatusOK, result)
}

// loadUser fetches a user and writes the error response itself when the
// lookup fails.
func (h *Handler) loadUser(w http.ResponseWriter, r *http.Request, userID int64) (*model.User, bool) {
	if userID <= 0 {
		respondWithError(w, http.StatusBadRequest, "A valid 'user_id' is required")
		return nil, false
	}

	user, err := h.store.GetUser(r.Context(), userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondWithError(w, http.StatusNotFound, "User not found")
			return nil, false
		}
		h.logger.Error("failed to load user", slog.Int64("user_id", userID), slog.Any("error", err))
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return nil, false
	}
	return user, true
}

// queryUserID parses the required user_id query parameter.
func (h *Handler) queryUserID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		respondWithError(w, http.StatusBadRequest, "A valid 'user_id' query parameter is required")
		return 0, false
	}
	return userID, true
}

// respondUpstreamError maps engine error kinds onto HTTP statuses.
func (h *Handler) respondUpstreamError(w http.ResponseWriter, err error, message string) {
	switch {
	case apperr.IsRateLimit(err):
		respondWithError(w, http.StatusTooManyRequests, message+": upstream rate limit exceeded")
	case apperr.KindOf(err) == apperr.KindExternalAPI:
		h.logger.Error("upstream API failure", slog.Any("error", err))
		respondWithError(w, http.StatusBadGateway, message)
	default:
		h.logger.Error("request failed", slog.Any("error", err))
		respondWithError(w, http.StatusInternalServerError, message)
	}
}
