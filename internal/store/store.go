// internal/store/store.go

// Package store is the Postgres persistence layer. Upserts are keyed by
// the natural identifiers of the remote data so repeated syncs are
// idempotent.
package store

import (
	"context"
	"time"

	"gitpulse/internal/model"
)

// UnanalyzedCommit pairs a commit with the repository name the analysis
// prompt needs.
type UnanalyzedCommit struct {
	Commit       model.Commit
	RepoFullName string
}

// CommitActivity is a commit row joined with its repository, used when
// gathering a summary window.
type CommitActivity struct {
	Commit       model.Commit
	RepoFullName string
}

// PullRequestActivity is a pull request row joined with its repository.
type PullRequestActivity struct {
	PullRequest  model.PullRequest
	RepoFullName string
}

// Store is the persistence contract the engine runs against. The pgx
// implementation lives in this package; tests substitute a mock.
type Store interface {
	// Users
	GetUser(ctx context.Context, id int64) (*model.User, error)
	ListUsersWithTokens(ctx context.Context) ([]model.User, error)

	// Repositories
	GetRepository(ctx context.Context, id int64) (*model.Repository, error)
	ListRepositories(ctx context.Context, userID int64) ([]model.Repository, error)
	ListActiveRepositories(ctx context.Context, userID int64, ids []int64) ([]model.Repository, error)
	TrackedGithubRepoIDs(ctx context.Context, userID int64) (map[int64]int64, error)
	CreateRepository(ctx context.Context, repo *model.Repository) (int64, error)
	MergeRepositoryMetadata(ctx context.Context, repoID int64, primaryLanguage *string, patch map[string]any) error
	UpdateLastSynced(ctx context.Context, repoID int64, syncedAt time.Time) error

	// Commits and pull requests
	UpsertCommit(ctx context.Context, commit *model.Commit) (int64, error)
	UpsertPullRequest(ctx context.Context, pr *model.PullRequest) error
	ListUnanalyzedCommits(ctx context.Context, limit int) ([]UnanalyzedCommit, error)

	// Analyses
	HasAnalysis(ctx context.Context, sourceType model.SourceType, sourceID int64) (bool, error)
	SaveAnalysis(ctx context.Context, analysis *model.Analysis) error

	// Sync jobs
	CreateSyncJob(ctx context.Context, userID int64, jobType model.JobType) (*model.SyncJob, error)
	FinalizeSyncJob(ctx context.Context, jobID int64, status model.JobStatus, itemsFetched int, errorDetail map[string]any) error
	GetSyncJob(ctx context.Context, id int64) (*model.SyncJob, error)
	ListSyncJobs(ctx context.Context, userID int64, limit int) ([]model.SyncJob, error)

	// Summary windows
	ListCommitActivity(ctx context.Context, userID int64, from, to time.Time) ([]CommitActivity, error)
	ListPullRequestActivity(ctx context.Context, userID int64, from, to time.Time) ([]PullRequestActivity, error)
	ListCommitAnalyses(ctx context.Context, userID int64, from, to time.Time) ([]model.Analysis, error)
	FirstActiveRepositoryID(ctx context.Context, userID int64) (int64, error)
}
