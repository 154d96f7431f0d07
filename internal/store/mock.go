// internal/store/mock.go
package store

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"gitpulse/internal/model"
)

// Mock is a testify mock of Store, shared by the packages that test
// against the persistence contract.
type Mock struct {
	mock.Mock
}

var _ Store = (*Mock)(nil)

func (m *Mock) GetUser(ctx context.Context, id int64) (*model.User, error) {
	args := m.Called(ctx, id)
	user, _ := args.Get(0).(*model.User)
	return user, args.Error(1)
}

func (m *Mock) ListUsersWithTokens(ctx context.Context) ([]model.User, error) {
	args := m.Called(ctx)
	users, _ := args.Get(0).([]model.User)
	return users, args.Error(1)
}

func (m *Mock) GetRepository(ctx context.Context, id int64) (*model.Repository, error) {
	args := m.Called(ctx, id)
	repo, _ := args.Get(0).(*model.Repository)
	return repo, args.Error(1)
}

func (m *Mock) ListRepositories(ctx context.Context, userID int64) ([]model.Repository, error) {
	args := m.Called(ctx, userID)
	repos, _ := args.Get(0).([]model.Repository)
	return repos, args.Error(1)
}

func (m *Mock) ListActiveRepositories(ctx context.Context, userID int64, ids []int64) ([]model.Repository, error) {
	args := m.Called(ctx, userID, ids)
	repos, _ := args.Get(0).([]model.Repository)
	return repos, args.Error(1)
}

func (m *Mock) TrackedGithubRepoIDs(ctx context.Context, userID int64) (map[int64]int64, error) {
	args := m.Called(ctx, userID)
	tracked, _ := args.Get(0).(map[int64]int64)
	return tracked, args.Error(1)
}

func (m *Mock) CreateRepository(ctx context.Context, repo *model.Repository) (int64, error) {
	args := m.Called(ctx, repo)
	return args.Get(0).(int64), args.Error(1)
}

func (m *Mock) MergeRepositoryMetadata(ctx context.Context, repoID int64, primaryLanguage *string, patch map[string]any) error {
	args := m.Called(ctx, repoID, primaryLanguage, patch)
	return args.Error(0)
}

func (m *Mock) UpdateLastSynced(ctx context.Context, repoID int64, syncedAt time.Time) error {
	args := m.Called(ctx, repoID, syncedAt)
	return args.Error(0)
}

func (m *Mock) UpsertCommit(ctx context.Context, commit *model.Commit) (int64, error) {
	args := m.Called(ctx, commit)
	return args.Get(0).(int64), args.Error(1)
}

func (m *Mock) UpsertPullRequest(ctx context.Context, pr *model.PullRequest) error {
	args := m.Called(ctx, pr)
	return args.Error(0)
}

func (m *Mock) ListUnanalyzedCommits(ctx context.Context, limit int) ([]UnanalyzedCommit, error) {
	args := m.Called(ctx, limit)
	commits, _ := args.Get(0).([]UnanalyzedCommit)
	return commits, args.Error(1)
}

func (m *Mock) HasAnalysis(ctx context.Context, sourceType model.SourceType, sourceID int64) (bool, error) {
	args := m.Called(ctx, sourceType, sourceID)
	return args.Bool(0), args.Error(1)
}

func (m *Mock) SaveAnalysis(ctx context.Context, analysis *model.Analysis) error {
	args := m.Called(ctx, analysis)
	return args.Error(0)
}

func (m *Mock) CreateSyncJob(ctx context.Context, userID int64, jobType model.JobType) (*model.SyncJob, error) {
	args := m.Called(ctx, userID, jobType)
	job, _ := args.Get(0).(*model.SyncJob)
	return job, args.Error(1)
}

func (m *Mock) FinalizeSyncJob(ctx context.Context, jobID int64, status model.JobStatus, itemsFetched int, errorDetail map[string]any) error {
	args := m.Called(ctx, jobID, status, itemsFetched, errorDetail)
	return args.Error(0)
}

func (m *Mock) GetSyncJob(ctx context.Context, id int64) (*model.SyncJob, error) {
	args := m.Called(ctx, id)
	job, _ := args.Get(0).(*model.SyncJob)
	return job, args.Error(1)
}

func (m *Mock) ListSyncJobs(ctx context.Context, userID int64, limit int) ([]model.SyncJob, error) {
	args := m.Called(ctx, userID, limit)
	jobs, _ := args.Get(0).([]model.SyncJob)
	return jobs, args.Error(1)
}

func (m *Mock) ListCommitActivity(ctx context.Context, userID int64, from, to time.Time) ([]CommitActivity, error) {
	args := m.Called(ctx, userID, from, to)
	activity, _ := args.Get(0).([]CommitActivity)
	return activity, args.Error(1)
}

func (m *Mock) ListPullRequestActivity(ctx context.Context, userID int64, from, to time.Time) ([]PullRequestActivity, error) {
	args := m.Called(ctx, userID, from, to)
	activity, _ := args.Get(0).([]PullRequestActivity)
	return activity, args.Error(1)
}

func (m *Mock) ListCommitAnalyses(ctx context.Context, userID int64, from, to time.Time) ([]model.Analysis, error) {
	args := m.Called(ctx, userID, from, to)
	analyses, _ := args.Get(0).([]model.Analysis)
	return analyses, args.Error(1)
}

func (m *Mock) FirstActiveRepositoryID(ctx context.Context, userID int64) (int64, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(int64), args.Error(1)
}
