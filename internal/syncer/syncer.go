// internal/syncer/syncer.go

// Package syncer orchestrates sync runs: discovering repositories, pulling
// commits and pull requests, and kicking analysis for the new commits. A
// run is tolerant of per-item failures; only source-API quota exhaustion
// aborts it.
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"gitpulse/internal/apperr"
	"gitpulse/internal/model"
	"gitpulse/internal/store"
)

// SourceClient is the slice of the GitHub client a sync run drives. One
// client serves one run; the factory builds it from the user's token.
type SourceClient interface {
	ListUserRepositories(ctx context.Context, includePrivate, includeForks bool) ([]model.DiscoveredRepo, error)
	ListCommits(ctx context.Context, fullName string, since *time.Time, author string) ([]model.Commit, error)
	GetCommitDetailsBatch(ctx context.Context, fullName string, shas []string, concurrency int) []model.Commit
	ListPullRequests(ctx context.Context, fullName, state string, since *time.Time) ([]model.PullRequest, error)
	GetLanguages(ctx context.Context, fullName string) (map[string]int, error)
	GetFileContent(ctx context.Context, fullName, path string) (*string, error)
}

// ClientFactory builds a per-run source client from a user token.
type ClientFactory func(token string) SourceClient

// CommitAnalyzer is the slice of the analysis pipeline the syncer drives
// after storing new commits.
type CommitAnalyzer interface {
	AnalyzeCommit(ctx context.Context, commit *model.Commit, repoFullName string) (*model.Analysis, error)
}

// Syncer orchestrates the fetching and storing of data.
type Syncer struct {
	store             store.Store
	newClient         ClientFactory
	analyzer          CommitAnalyzer
	logger            *slog.Logger
	syncInterval      time.Duration
	detailConcurrency int
}

// NewSyncer creates a new Syncer instance.
func NewSyncer(st store.Store, factory ClientFactory, analyzer CommitAnalyzer, interval time.Duration, detailConcurrency int, logger *slog.Logger) *Syncer {
	return &Syncer{
		store:             st,
		newClient:         factory,
		analyzer:          analyzer,
		logger:            logger,
		syncInterval:      interval,
		detailConcurrency: detailConcurrency,
	}
}

// Start begins the continuous synchronization process. Every tick runs a
// scheduled sync for each user with a stored token.
func (s *Syncer) Start(ctx context.Context) {
	s.logger.Info("starting syncer", slog.String("interval", s.syncInterval.String()))
	ticker := time.NewTicker(s.syncInterval)
	defer ticker.Stop()

	s.runSyncCycle(ctx) // Initial sync

	for {
		select {
		case <-ticker.C:
			s.runSyncCycle(ctx)
		case <-ctx.Done():
			s.logger.Info("syncer shutting down", slog.Any("reason", ctx.Err()))
			return
		}
	}
}

// runSyncCycle performs a scheduled synchronization pass over all users.
func (s *Syncer) runSyncCycle(ctx context.Context) {
	users, err := s.store.ListUsersWithTokens(ctx)
	if err != nil {
		s.logger.Error("failed to list users for sync cycle", slog.Any("error", err))
		return
	}

	for _, user := range users {
		if ctx.Err() != nil {
			return
		}
		logger := s.logger.With(
			slog.String("run_id", uuid.NewString()),
			slog.String("user", user.GithubLogin))
		logger.Info("starting scheduled sync")

		job, err := s.SyncAll(ctx, &user, nil, false)
		if err != nil {
			logger.Error("scheduled sync failed", slog.Any("error", err))
			continue
		}
		logger.Info("scheduled sync finished",
			slog.String("status", string(job.Status)),
			slog.Int("items_fetched", job.ItemsFetched))
	}
}

// SyncAll runs one sync job over the user's active repositories. With no
// explicit repoIDs it first auto-registers untracked remote repositories,
// then syncs everything active. The returned job row reflects the final
// state; it is never left running.
func (s *Syncer) SyncAll(ctx context.Context, user *model.User, repoIDs []int64, fullSync bool) (*model.SyncJob, error) {
	client := s.newClient(user.AccessToken)

	if len(repoIDs) == 0 {
		// Discovery failures must not block the sync of what is already
		// tracked.
		if err := s.autoRegister(ctx, client, user); err != nil {
			s.logger.Warn("repository auto-discovery failed, syncing tracked set only",
				slog.String("user", user.GithubLogin), slog.Any("error", err))
		}
	}

	repos, err := s.store.ListActiveRepositories(ctx, user.ID, repoIDs)
	if err != nil {
		return nil, fmt.Errorf("resolve target repositories: %w", err)
	}

	jobType := model.JobTypeScheduledSync
	if len(repoIDs) > 0 {
		jobType = model.JobTypeManualSync
	}
	job, err := s.store.CreateSyncJob(ctx, user.ID, jobType)
	if err != nil {
		return nil, fmt.Errorf("create sync job: %w", err)
	}

	total := 0
	var errorDetail map[string]any
	for _, repo := range repos {
		n, err := s.SyncRepository(ctx, client, &repo, user, fullSync)
		total += n
		if err == nil {
			continue
		}

		switch {
		case apperr.IsRateLimit(err):
			errorDetail = syncErrorDetail("rate_limit", err, repo.FullName)
			s.logger.Warn("source API rate limited, aborting sync job",
				slog.Int64("job_id", job.ID), slog.String("repo", repo.FullName))
		case apperr.KindOf(err) != "":
			errorDetail = syncErrorDetail("api_error", err, repo.FullName)
			s.logger.Error("repository sync failed",
				slog.String("repo", repo.FullName), slog.Any("error", err))
			continue
		default:
			errorDetail = syncErrorDetail("unexpected_error", err, repo.FullName)
			s.logger.Error("repository sync failed unexpectedly",
				slog.String("repo", repo.FullName), slog.Any("error", err))
			continue
		}
		break
	}

	status := model.JobStatusCompleted
	if errorDetail != nil && errorDetail["type"] == "rate_limit" {
		status = model.JobStatusFailed
	}
	// The finalize write must outlive the run's context: a caller timeout
	// or shutdown mid-sync must not leave the job row running.
	if err := s.store.FinalizeSyncJob(context.WithoutCancel(ctx), job.ID, status, total, errorDetail); err != nil {
		s.logger.Error("failed to finalize sync job",
			slog.Int64("job_id", job.ID), slog.Any("error", err))
		return nil, fmt.Errorf("finalize sync job %d: %w", job.ID, err)
	}

	now := time.Now().UTC()
	job.Status = status
	job.ItemsFetched = total
	job.ErrorDetail = errorDetail
	job.CompletedAt = &now
	return job, nil
}

// SyncRepository syncs one repository: commits with details, pull
// requests, languages, then analysis of the new commits. It returns the
// number of commits upserted. The cursor advances whenever the run itself
// did not abort, including runs that found nothing new.
func (s *Syncer) SyncRepository(ctx context.Context, client SourceClient, repo *model.Repository, user *model.User, fullSync bool) (int, error) {
	logger := s.logger.With(slog.String("repo", repo.FullName))

	var since *time.Time
	if !fullSync && repo.LastSyncedAt != nil {
		since = repo.LastSyncedAt
	}

	commits, err := client.ListCommits(ctx, repo.FullName, since, user.GithubLogin)
	if err != nil {
		if apperr.IsRateLimit(err) {
			return 0, err
		}
		// An unreadable commit listing still leaves PRs and languages worth
		// syncing.
		logger.Error("failed to list commits", slog.Any("error", err))
		commits = nil
	}

	var stored []model.Commit
	if len(commits) > 0 {
		logger.Info("found commits to sync", slog.Int("count", len(commits)))
		shas := make([]string, len(commits))
		for i, c := range commits {
			shas[i] = c.SHA
		}

		for _, detail := range client.GetCommitDetailsBatch(ctx, repo.FullName, shas, s.detailConcurrency) {
			if detail.CommittedAt.IsZero() {
				logger.Warn("commit has no timestamp, skipping", slog.String("sha", detail.SHA))
				continue
			}
			detail.RepositoryID = repo.ID
			id, err := s.store.UpsertCommit(ctx, &detail)
			if err != nil {
				logger.Error("failed to upsert commit",
					slog.String("sha", detail.SHA), slog.Any("error", err))
				continue
			}
			detail.ID = id
			stored = append(stored, detail)
		}
	}

	if err := s.syncPullRequests(ctx, client, repo, since, logger); err != nil {
		return len(stored), err
	}

	s.syncLanguages(ctx, client, repo, logger)

	s.analyzeNewCommits(ctx, repo, stored, logger)

	if err := s.store.UpdateLastSynced(ctx, repo.ID, time.Now().UTC()); err != nil {
		return len(stored), fmt.Errorf("advance sync cursor: %w", err)
	}
	return len(stored), nil
}

// syncPullRequests upserts the repository's pull requests updated since
// the cursor. Per-item failures are logged and skipped; only quota
// exhaustion propagates.
func (s *Syncer) syncPullRequests(ctx context.Context, client SourceClient, repo *model.Repository, since *time.Time, logger *slog.Logger) error {
	prs, err := client.ListPullRequests(ctx, repo.FullName, "all", since)
	if err != nil {
		if apperr.IsRateLimit(err) {
			return err
		}
		logger.Error("failed to list pull requests", slog.Any("error", err))
		return nil
	}

	for _, pr := range prs {
		pr.RepositoryID = repo.ID
		if err := s.store.UpsertPullRequest(ctx, &pr); err != nil {
			logger.Error("failed to upsert pull request",
				slog.Int("number", pr.Number), slog.Any("error", err))
		}
	}
	if len(prs) > 0 {
		logger.Info("synced pull requests", slog.Int("count", len(prs)))
	}
	return nil
}

// syncLanguages refreshes the repository's primary language and merges the
// byte counts into its metadata. Best effort.
func (s *Syncer) syncLanguages(ctx context.Context, client SourceClient, repo *model.Repository, logger *slog.Logger) {
	languages, err := client.GetLanguages(ctx, repo.FullName)
	if err != nil {
		logger.Warn("failed to fetch languages", slog.Any("error", err))
		return
	}
	if len(languages) == 0 {
		return
	}

	primary := dominantLanguage(languages)
	counts := make(map[string]any, len(languages))
	for lang, bytes := range languages {
		counts[lang] = bytes
	}
	patch := map[string]any{"languages": counts}
	if err := s.store.MergeRepositoryMetadata(ctx, repo.ID, &primary, patch); err != nil {
		logger.Error("failed to merge language metadata", slog.Any("error", err))
	}
}

// analyzeNewCommits runs analysis over the commits stored this run. Quota
// exhaustion stops the remaining analysis for this repository only; the
// sync itself still succeeds.
func (s *Syncer) analyzeNewCommits(ctx context.Context, repo *model.Repository, commits []model.Commit, logger *slog.Logger) {
	for _, commit := range commits {
		_, err := s.analyzer.AnalyzeCommit(ctx, &commit, repo.FullName)
		if err == nil {
			continue
		}
		if apperr.IsRateLimit(err) {
			logger.Warn("analysis quota exhausted, deferring remaining commits to the batch loop")
			return
		}
		logger.Error("commit analysis failed",
			slog.String("sha", commit.SHA), slog.Any("error", err))
	}
}

// DiscoverRepositories lists the user's remote repositories and marks the
// ones already tracked.
func (s *Syncer) DiscoverRepositories(ctx context.Context, client SourceClient, user *model.User, includePrivate, includeForks bool) ([]model.DiscoveredRepo, error) {
	remote, err := client.ListUserRepositories(ctx, includePrivate, includeForks)
	if err != nil {
		return nil, err
	}

	tracked, err := s.store.TrackedGithubRepoIDs(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("load tracked repositories: %w", err)
	}

	for i := range remote {
		_, remote[i].AlreadyTracked = tracked[remote[i].GithubRepoID]
	}
	return remote, nil
}

// RegisterRepository persists a discovered repository as tracked and
// active.
func (s *Syncer) RegisterRepository(ctx context.Context, user *model.User, discovered model.DiscoveredRepo) (*model.Repository, error) {
	repo := &model.Repository{
		UserID:       user.ID,
		GithubRepoID: discovered.GithubRepoID,
		FullName:     discovered.FullName,
		Description:  discovered.Description,
		IsPrivate:    discovered.IsPrivate,
		IsFork:       discovered.IsFork,
		IsActive:     true,
	}
	id, err := s.store.CreateRepository(ctx, repo)
	if err != nil {
		return nil, fmt.Errorf("register repository %s: %w", discovered.FullName, err)
	}
	repo.ID = id
	return repo, nil
}

// autoRegister tracks any public non-fork repositories not yet known.
func (s *Syncer) autoRegister(ctx context.Context, client SourceClient, user *model.User) error {
	discovered, err := s.DiscoverRepositories(ctx, client, user, false, false)
	if err != nil {
		return err
	}

	for _, d := range discovered {
		if d.AlreadyTracked {
			continue
		}
		if _, err := s.RegisterRepository(ctx, user, d); err != nil {
			s.logger.Error("failed to register discovered repository",
				slog.String("repo", d.FullName), slog.Any("error", err))
			continue
		}
		s.logger.Info("registered new repository", slog.String("repo", d.FullName))
	}
	return nil
}

// syncErrorDetail is the shape stored on a sync job when a repository
// fails.
func syncErrorDetail(errType string, err error, repoFullName string) map[string]any {
	return map[string]any{
		"type":           errType,
		"message":        err.Error(),
		"repo_full_name": repoFullName,
	}
}

// dominantLanguage picks the language with the largest byte count.
func dominantLanguage(languages map[string]int) string {
	best, bestBytes := "", -1
	for lang, bytes := range languages {
		if bytes > bestBytes || (bytes == bestBytes && lang < best) {
			best, bestBytes = lang, bytes
		}
	}
	return best
}
