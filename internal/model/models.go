// internal/model/models.go
package model

import "time"

// SourceType identifies what an Analysis row describes.
type SourceType string

const (
	SourceTypeCommit         SourceType = "commit"
	SourceTypePullRequest    SourceType = "pull_request"
	SourceTypeWeeklySummary  SourceType = "weekly_summary"
	SourceTypeMonthlySummary SourceType = "monthly_summary"
)

// JobStatus is the sync job state machine. Transitions go forward only:
// pending -> running -> completed or failed.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// JobType records what triggered a sync job.
type JobType string

const (
	JobTypeManualSync    JobType = "manual_sync"
	JobTypeScheduledSync JobType = "scheduled_sync"
)

// User owns tracked repositories and sync jobs. Token issuance and storage
// encryption belong to the auth layer; the engine only reads the token.
type User struct {
	ID          int64     `json:"id"`
	GithubLogin string    `json:"github_login"`
	AccessToken string    `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}

// Repository is a tracked GitHub repository.
type Repository struct {
	ID              int64          `json:"id"`
	UserID          int64          `json:"user_id"`
	GithubRepoID    int64          `json:"github_repo_id"`
	FullName        string         `json:"full_name"`
	Description     *string        `json:"description,omitempty"`
	PrimaryLanguage *string        `json:"primary_language,omitempty"`
	IsPrivate       bool           `json:"is_private"`
	IsFork          bool           `json:"is_fork"`
	IsActive        bool           `json:"is_active"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	LastSyncedAt    *time.Time     `json:"last_synced_at,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// Commit is one synced commit, keyed by (RepositoryID, SHA). CommittedAt is
// immutable once stored; the stat fields and RawPayload are overwritten on
// every sync.
type Commit struct {
	ID           int64          `json:"id"`
	RepositoryID int64          `json:"repository_id"`
	SHA          string         `json:"sha"`
	Message      string         `json:"message"`
	CommittedAt  time.Time      `json:"committed_at"`
	Additions    int            `json:"additions"`
	Deletions    int            `json:"deletions"`
	ChangedFiles int            `json:"changed_files"`
	RawPayload   map[string]any `json:"raw_payload,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// PullRequest is one synced pull request, keyed by (RepositoryID, GithubPRID).
type PullRequest struct {
	ID           int64          `json:"id"`
	RepositoryID int64          `json:"repository_id"`
	GithubPRID   int64          `json:"github_pr_id"`
	Number       int            `json:"number"`
	Title        string         `json:"title"`
	State        string         `json:"state"`
	Additions    int            `json:"additions"`
	Deletions    int            `json:"deletions"`
	ChangedFiles int            `json:"changed_files"`
	PRCreatedAt  time.Time      `json:"pr_created_at"`
	ClosedAt     *time.Time     `json:"closed_at,omitempty"`
	MergedAt     *time.Time     `json:"merged_at,omitempty"`
	RawPayload   map[string]any `json:"raw_payload,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Analysis is an AI-generated annotation. Unique per (SourceType, SourceID):
// commit and PR analyses are created once, summary rows are replaced on
// regeneration.
type Analysis struct {
	ID              int64          `json:"id"`
	SourceType      SourceType     `json:"source_type"`
	SourceID        int64          `json:"source_id"`
	RepositoryID    int64          `json:"repository_id"`
	TechTags        []string       `json:"tech_tags"`
	WorkCategory    string         `json:"work_category"`
	Summary         string         `json:"summary"`
	ComplexityScore *float64       `json:"complexity_score,omitempty"`
	RawResponse     map[string]any `json:"raw_response,omitempty"`
	AnalyzedAt      time.Time      `json:"analyzed_at"`
}

// SyncJob records the outcome of one sync run. Retries create a new job,
// never reset an old one.
type SyncJob struct {
	ID           int64          `json:"id"`
	UserID       int64          `json:"user_id"`
	JobType      JobType        `json:"job_type"`
	Status       JobStatus      `json:"status"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	ItemsFetched int            `json:"items_fetched"`
	ErrorDetail  map[string]any `json:"error_detail,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// DiscoveredRepo is a remote repository surfaced by discovery. It is never
// persisted as-is; registering one creates a Repository.
type DiscoveredRepo struct {
	GithubRepoID   int64   `json:"github_repo_id"`
	FullName       string  `json:"full_name"`
	Description    *string `json:"description,omitempty"`
	IsPrivate      bool    `json:"is_private"`
	IsFork         bool    `json:"is_fork"`
	AlreadyTracked bool    `json:"already_tracked"`
}
