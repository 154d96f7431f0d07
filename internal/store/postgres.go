// internal/store/postgres.go
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"gitpulse/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// Postgres implements Store on a pgx connection pool.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

var _ Store = (*Postgres)(nil)

func NewPostgres(pool *pgxpool.Pool, logger *slog.Logger) *Postgres {
	return &Postgres{pool: pool, logger: logger}
}

// ---------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------

func (p *Postgres) GetUser(ctx context.Context, id int64) (*model.User, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT id, github_login, COALESCE(access_token, ''), created_at
		 FROM users WHERE id = $1`, id)

	var u model.User
	if err := row.Scan(&u.ID, &u.GithubLogin, &u.AccessToken, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

func (p *Postgres) ListUsersWithTokens(ctx context.Context) ([]model.User, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, github_login, access_token, created_at
		 FROM users WHERE access_token IS NOT NULL AND access_token <> ''
		 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.GithubLogin, &u.AccessToken, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// ---------------------------------------------------------------------
// Repositories
// ---------------------------------------------------------------------

const repositoryColumns = `id, user_id, github_repo_id, full_name, description,
	primary_language, is_private, is_fork, is_active, metadata, last_synced_at,
	created_at, updated_at`

func scanRepository(row pgx.Row) (*model.Repository, error) {
	var r model.Repository
	var metadata []byte
	err := row.Scan(&r.ID, &r.UserID, &r.GithubRepoID, &r.FullName, &r.Description,
		&r.PrimaryLanguage, &r.IsPrivate, &r.IsFork, &r.IsActive, &metadata,
		&r.LastSyncedAt, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.Metadata = unmarshalMap(metadata)
	return &r, nil
}

func (p *Postgres) GetRepository(ctx context.Context, id int64) (*model.Repository, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+repositoryColumns+` FROM repositories WHERE id = $1`, id)
	repo, err := scanRepository(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get repository: %w", err)
	}
	return repo, nil
}

func (p *Postgres) ListRepositories(ctx context.Context, userID int64) ([]model.Repository, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+repositoryColumns+` FROM repositories
		 WHERE user_id = $1 ORDER BY full_name`, userID)
	if err != nil {
		return nil, fmt.Errorf("list repositories: %w", err)
	}
	defer rows.Close()
	return collectRepositories(rows)
}

// ListActiveRepositories returns the user's active repositories. A non-empty
// ids slice narrows the result to those ids.
func (p *Postgres) ListActiveRepositories(ctx context.Context, userID int64, ids []int64) ([]model.Repository, error) {
	query := `SELECT ` + repositoryColumns + ` FROM repositories
		 WHERE user_id = $1 AND is_active`
	args := []any{userID}
	if len(ids) > 0 {
		query += ` AND id = ANY($2)`
		args = append(args, ids)
	}
	query += ` ORDER BY id`

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list active repositories: %w", err)
	}
	defer rows.Close()
	return collectRepositories(rows)
}

func collectRepositories(rows pgx.Rows) ([]model.Repository, error) {
	var repos []model.Repository
	for rows.Next() {
		repo, err := scanRepository(rows)
		if err != nil {
			return nil, fmt.Errorf("scan repository: %w", err)
		}
		repos = append(repos, *repo)
	}
	return repos, rows.Err()
}

func (p *Postgres) TrackedGithubRepoIDs(ctx context.Context, userID int64) (map[int64]int64, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT github_repo_id, id FROM repositories WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("tracked repo ids: %w", err)
	}
	defer rows.Close()

	tracked := make(map[int64]int64)
	for rows.Next() {
		var githubID, repoID int64
		if err := rows.Scan(&githubID, &repoID); err != nil {
			return nil, fmt.Errorf("scan repo id: %w", err)
		}
		tracked[githubID] = repoID
	}
	return tracked, rows.Err()
}

func (p *Postgres) CreateRepository(ctx context.Context, repo *model.Repository) (int64, error) {
	metadata, err := marshalMap(repo.Metadata)
	if err != nil {
		return 0, err
	}

	var id int64
	err = p.pool.QueryRow(ctx,
		`INSERT INTO repositories
			(user_id, github_repo_id, full_name, description, primary_language,
			 is_private, is_fork, is_active, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, COALESCE($9::jsonb, '{}'::jsonb))
		 ON CONFLICT (user_id, github_repo_id) DO UPDATE SET
			full_name = EXCLUDED.full_name,
			description = EXCLUDED.description,
			updated_at = now()
		 RETURNING id`,
		repo.UserID, repo.GithubRepoID, repo.FullName, repo.Description,
		repo.PrimaryLanguage, repo.IsPrivate, repo.IsFork, repo.IsActive, metadata).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create repository: %w", err)
	}
	return id, nil
}

// MergeRepositoryMetadata merges patch keys into the repository's metadata
// object and optionally sets the primary language. The jsonb concatenation
// keeps unrelated metadata keys intact.
func (p *Postgres) MergeRepositoryMetadata(ctx context.Context, repoID int64, primaryLanguage *string, patch map[string]any) error {
	patchJSON, err := marshalMap(patch)
	if err != nil {
		return err
	}

	_, err = p.pool.Exec(ctx,
		`UPDATE repositories SET
			metadata = COALESCE(metadata, '{}'::jsonb) || COALESCE($2::jsonb, '{}'::jsonb),
			primary_language = COALESCE($3, primary_language),
			updated_at = now()
		 WHERE id = $1`,
		repoID, patchJSON, primaryLanguage)
	if err != nil {
		return fmt.Errorf("merge repository metadata: %w", err)
	}
	return nil
}

func (p *Postgres) UpdateLastSynced(ctx context.Context, repoID int64, syncedAt time.Time) error {
	_, err := p.pool.Exec(ctx,
		`UPDATE repositories SET last_synced_at = $2, updated_at = now() WHERE id = $1`,
		repoID, syncedAt)
	if err != nil {
		return fmt.Errorf("update last synced: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------
// Commits and pull requests
// ---------------------------------------------------------------------

// UpsertCommit inserts or updates a commit by (repository_id, sha). The
// stat fields and raw payload are overwritten on conflict; message and
// committed_at keep their first-seen values.
func (p *Postgres) UpsertCommit(ctx context.Context, commit *model.Commit) (int64, error) {
	payload, err := marshalMap(commit.RawPayload)
	if err != nil {
		return 0, err
	}

	var id int64
	err = p.pool.QueryRow(ctx,
		`INSERT INTO commits
			(repository_id, sha, message, committed_at, additions, deletions,
			 changed_files, raw_payload)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (repository_id, sha) DO UPDATE SET
			additions = EXCLUDED.additions,
			deletions = EXCLUDED.deletions,
			changed_files = EXCLUDED.changed_files,
			raw_payload = EXCLUDED.raw_payload
		 RETURNING id`,
		commit.RepositoryID, commit.SHA, commit.Message, commit.CommittedAt,
		commit.Additions, commit.Deletions, commit.ChangedFiles, payload).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert commit: %w", err)
	}
	return id, nil
}

func (p *Postgres) UpsertPullRequest(ctx context.Context, pr *model.PullRequest) error {
	payload, err := marshalMap(pr.RawPayload)
	if err != nil {
		return err
	}

	_, err = p.pool.Exec(ctx,
		`INSERT INTO pull_requests
			(repository_id, github_pr_id, number, title, state, additions,
			 deletions, changed_files, pr_created_at, closed_at, merged_at, raw_payload)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (repository_id, github_pr_id) DO UPDATE SET
			title = EXCLUDED.title,
			state = EXCLUDED.state,
			additions = EXCLUDED.additions,
			deletions = EXCLUDED.deletions,
			changed_files = EXCLUDED.changed_files,
			closed_at = EXCLUDED.closed_at,
			merged_at = EXCLUDED.merged_at,
			raw_payload = EXCLUDED.raw_payload`,
		pr.RepositoryID, pr.GithubPRID, pr.Number, pr.Title, pr.State,
		pr.Additions, pr.Deletions, pr.ChangedFiles, pr.PRCreatedAt,
		pr.ClosedAt, pr.MergedAt, payload)
	if err != nil {
		return fmt.Errorf("upsert pull request: %w", err)
	}
	return nil
}

// ListUnanalyzedCommits returns commits with no commit analysis yet,
// largest change volume first.
func (p *Postgres) ListUnanalyzedCommits(ctx context.Context, limit int) ([]UnanalyzedCommit, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT c.id, c.repository_id, c.sha, c.message, c.committed_at,
			c.additions, c.deletions, c.changed_files, c.raw_payload, c.created_at,
			r.full_name
		 FROM commits c
		 JOIN repositories r ON r.id = c.repository_id
		 WHERE NOT EXISTS (
			SELECT 1 FROM analyses a
			WHERE a.source_type = 'commit' AND a.source_id = c.id
		 )
		 ORDER BY c.additions + c.deletions DESC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list unanalyzed commits: %w", err)
	}
	defer rows.Close()

	var out []UnanalyzedCommit
	for rows.Next() {
		var u UnanalyzedCommit
		var payload []byte
		err := rows.Scan(&u.Commit.ID, &u.Commit.RepositoryID, &u.Commit.SHA,
			&u.Commit.Message, &u.Commit.CommittedAt, &u.Commit.Additions,
			&u.Commit.Deletions, &u.Commit.ChangedFiles, &payload,
			&u.Commit.CreatedAt, &u.RepoFullName)
		if err != nil {
			return nil, fmt.Errorf("scan unanalyzed commit: %w", err)
		}
		u.Commit.RawPayload = unmarshalMap(payload)
		out = append(out, u)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------
// Analyses
// ---------------------------------------------------------------------

func (p *Postgres) HasAnalysis(ctx context.Context, sourceType model.SourceType, sourceID int64) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM analyses WHERE source_type = $1 AND source_id = $2)`,
		sourceType, sourceID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("has analysis: %w", err)
	}
	return exists, nil
}

// SaveAnalysis stores an analysis row. The (source_type, source_id) unique
// key makes the write idempotent: a regenerated summary replaces its
// predecessor, a re-submitted commit analysis is a no-op overwrite of
// identical data.
func (p *Postgres) SaveAnalysis(ctx context.Context, analysis *model.Analysis) error {
	tags, err := json.Marshal(analysis.TechTags)
	if err != nil {
		return fmt.Errorf("marshal tech tags: %w", err)
	}
	raw, err := marshalMap(analysis.RawResponse)
	if err != nil {
		return err
	}

	_, err = p.pool.Exec(ctx,
		`INSERT INTO analyses
			(source_type, source_id, repository_id, tech_tags, work_category,
			 summary, complexity_score, raw_response, analyzed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (source_type, source_id) DO UPDATE SET
			tech_tags = EXCLUDED.tech_tags,
			work_category = EXCLUDED.work_category,
			summary = EXCLUDED.summary,
			complexity_score = EXCLUDED.complexity_score,
			raw_response = EXCLUDED.raw_response,
			analyzed_at = EXCLUDED.analyzed_at`,
		analysis.SourceType, analysis.SourceID, analysis.RepositoryID, tags,
		analysis.WorkCategory, analysis.Summary, analysis.ComplexityScore,
		raw, analysis.AnalyzedAt)
	if err != nil {
		return fmt.Errorf("save analysis: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------
// Sync jobs
// ---------------------------------------------------------------------

func (p *Postgres) CreateSyncJob(ctx context.Context, userID int64, jobType model.JobType) (*model.SyncJob, error) {
	now := time.Now().UTC()
	job := &model.SyncJob{
		UserID:    userID,
		JobType:   jobType,
		Status:    model.JobStatusRunning,
		StartedAt: &now,
	}

	err := p.pool.QueryRow(ctx,
		`INSERT INTO sync_jobs (user_id, job_type, status, started_at, items_fetched)
		 VALUES ($1, $2, $3, $4, 0)
		 RETURNING id, created_at`,
		job.UserID, job.JobType, job.Status, job.StartedAt).Scan(&job.ID, &job.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create sync job: %w", err)
	}
	return job, nil
}

// FinalizeSyncJob moves a running job to its terminal state. The status
// guard keeps the state machine forward-only.
func (p *Postgres) FinalizeSyncJob(ctx context.Context, jobID int64, status model.JobStatus, itemsFetched int, errorDetail map[string]any) error {
	detail, err := marshalMap(errorDetail)
	if err != nil {
		return err
	}

	tag, err := p.pool.Exec(ctx,
		`UPDATE sync_jobs SET
			status = $2, completed_at = now(), items_fetched = $3, error_detail = $4
		 WHERE id = $1 AND status = 'running'`,
		jobID, status, itemsFetched, detail)
	if err != nil {
		return fmt.Errorf("finalize sync job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("finalize sync job %d: job is not running", jobID)
	}
	return nil
}

const syncJobColumns = `id, user_id, job_type, status, started_at, completed_at,
	items_fetched, error_detail, created_at`

func scanSyncJob(row pgx.Row) (*model.SyncJob, error) {
	var j model.SyncJob
	var detail []byte
	err := row.Scan(&j.ID, &j.UserID, &j.JobType, &j.Status, &j.StartedAt,
		&j.CompletedAt, &j.ItemsFetched, &detail, &j.CreatedAt)
	if err != nil {
		return nil, err
	}
	j.ErrorDetail = unmarshalMap(detail)
	return &j, nil
}

func (p *Postgres) GetSyncJob(ctx context.Context, id int64) (*model.SyncJob, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+syncJobColumns+` FROM sync_jobs WHERE id = $1`, id)
	job, err := scanSyncJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get sync job: %w", err)
	}
	return job, nil
}

func (p *Postgres) ListSyncJobs(ctx context.Context, userID int64, limit int) ([]model.SyncJob, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+syncJobColumns+` FROM sync_jobs
		 WHERE user_id = $1 ORDER BY id DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list sync jobs: %w", err)
	}
	defer rows.Close()

	var jobs []model.SyncJob
	for rows.Next() {
		job, err := scanSyncJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sync job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// ---------------------------------------------------------------------
// Summary windows
// ---------------------------------------------------------------------

func (p *Postgres) ListCommitActivity(ctx context.Context, userID int64, from, to time.Time) ([]CommitActivity, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT c.id, c.repository_id, c.sha, c.message, c.committed_at,
			c.additions, c.deletions, c.changed_files, r.full_name
		 FROM commits c
		 JOIN repositories r ON r.id = c.repository_id
		 WHERE r.user_id = $1 AND c.committed_at >= $2 AND c.committed_at < $3
		 ORDER BY c.committed_at`, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list commit activity: %w", err)
	}
	defer rows.Close()

	var out []CommitActivity
	for rows.Next() {
		var a CommitActivity
		err := rows.Scan(&a.Commit.ID, &a.Commit.RepositoryID, &a.Commit.SHA,
			&a.Commit.Message, &a.Commit.CommittedAt, &a.Commit.Additions,
			&a.Commit.Deletions, &a.Commit.ChangedFiles, &a.RepoFullName)
		if err != nil {
			return nil, fmt.Errorf("scan commit activity: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (p *Postgres) ListPullRequestActivity(ctx context.Context, userID int64, from, to time.Time) ([]PullRequestActivity, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT pr.id, pr.repository_id, pr.github_pr_id, pr.number, pr.title,
			pr.state, pr.additions, pr.deletions, pr.changed_files,
			pr.pr_created_at, pr.closed_at, pr.merged_at, r.full_name
		 FROM pull_requests pr
		 JOIN repositories r ON r.id = pr.repository_id
		 WHERE r.user_id = $1 AND pr.pr_created_at >= $2 AND pr.pr_created_at < $3
		 ORDER BY pr.pr_created_at`, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list pull request activity: %w", err)
	}
	defer rows.Close()

	var out []PullRequestActivity
	for rows.Next() {
		var a PullRequestActivity
		err := rows.Scan(&a.PullRequest.ID, &a.PullRequest.RepositoryID,
			&a.PullRequest.GithubPRID, &a.PullRequest.Number, &a.PullRequest.Title,
			&a.PullRequest.State, &a.PullRequest.Additions, &a.PullRequest.Deletions,
			&a.PullRequest.ChangedFiles, &a.PullRequest.PRCreatedAt,
			&a.PullRequest.ClosedAt, &a.PullRequest.MergedAt, &a.RepoFullName)
		if err != nil {
			return nil, fmt.Errorf("scan pull request activity: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (p *Postgres) ListCommitAnalyses(ctx context.Context, userID int64, from, to time.Time) ([]model.Analysis, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT a.id, a.source_type, a.source_id, a.repository_id, a.tech_tags,
			a.work_category, a.summary, a.complexity_score, a.analyzed_at
		 FROM analyses a
		 JOIN repositories r ON r.id = a.repository_id
		 WHERE r.user_id = $1 AND a.source_type = 'commit'
			AND a.analyzed_at >= $2 AND a.analyzed_at < $3
		 ORDER BY a.analyzed_at`, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list commit analyses: %w", err)
	}
	defer rows.Close()

	var out []model.Analysis
	for rows.Next() {
		var a model.Analysis
		var tags []byte
		err := rows.Scan(&a.ID, &a.SourceType, &a.SourceID, &a.RepositoryID,
			&tags, &a.WorkCategory, &a.Summary, &a.ComplexityScore, &a.AnalyzedAt)
		if err != nil {
			return nil, fmt.Errorf("scan analysis: %w", err)
		}
		if len(tags) > 0 {
			_ = json.Unmarshal(tags, &a.TechTags)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (p *Postgres) FirstActiveRepositoryID(ctx context.Context, userID int64) (int64, error) {
	var id int64
	err := p.pool.QueryRow(ctx,
		`SELECT id FROM repositories WHERE user_id = $1 AND is_active ORDER BY id LIMIT 1`,
		userID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("first active repository: %w", err)
	}
	return id, nil
}

// ---------------------------------------------------------------------
// JSONB helpers
// ---------------------------------------------------------------------

func marshalMap(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal jsonb: %w", err)
	}
	return b, nil
}

func unmarshalMap(b []byte) map[string]any {
	if len(b) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil
	}
	return m
}
