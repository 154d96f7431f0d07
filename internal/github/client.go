// internal/github/client.go
package github

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/go-github/v62/github"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"gitpulse/internal/apperr"
	"gitpulse/internal/model"
	"gitpulse/internal/ratelimit"
)

const (
	perPage = 100

	// Caps applied when storing commit detail payloads. The raw GitHub
	// response can be arbitrarily large; only enough is kept to rebuild a
	// diff for analysis.
	maxRawFiles    = 50
	maxRawPatchLen = 500
	maxMessageLen  = 2000

	// DefaultBatchConcurrency bounds parallel commit-detail fetches.
	DefaultBatchConcurrency = 5

	defaultTimeout = 30 * time.Second
)

// Client wraps the go-github SDK with the engine's rate limiting, ETag
// caching and error taxonomy. One Client serves one sync run; the ETag
// cache dies with it.
type Client struct {
	gh      *github.Client
	limiter *ratelimit.HeaderLimiter
	logger  *slog.Logger
}

// NewClient builds an authenticated client. The limiter is shared with the
// caller so every component throttling against the source API observes the
// same budget.
func NewClient(token string, limiter *ratelimit.HeaderLimiter, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	tc := oauth2.NewClient(context.Background(), ts)
	tc.Timeout = timeout
	tc.Transport = newETagTransport(tc.Transport)

	return &Client{
		gh:      github.NewClient(tc),
		limiter: limiter,
		logger:  logger,
	}
}

// acquire waits on the shared source-API budget before a call.
func (c *Client) acquire(ctx context.Context) error {
	return c.limiter.Acquire(ctx)
}

// observe feeds response headers back into the limiter. Must run after
// every call that produced a response, success or not.
func (c *Client) observe(resp *github.Response) {
	if resp != nil {
		c.limiter.UpdateFromHeaders(resp.Header)
	}
}

// GetAuthenticatedUser fetches the token's user. Also serves as a token
// validity check.
func (c *Client) GetAuthenticatedUser(ctx context.Context) (*github.User, error) {
	if err := c.acquire(ctx); err != nil {
		return nil, err
	}
	user, resp, err := c.gh.Users.Get(ctx, "")
	c.observe(resp)
	if err != nil {
		return nil, wrapError(err)
	}
	return user, nil
}

// ListUserRepositories lists the repositories owned by the authenticated
// user, newest push first. Forks are filtered client-side because the list
// endpoint has no fork exclusion.
func (c *Client) ListUserRepositories(ctx context.Context, includePrivate, includeForks bool) ([]model.DiscoveredRepo, error) {
	opts := &github.RepositoryListByAuthenticatedUserOptions{
		Type:        "owner",
		Sort:        "pushed",
		ListOptions: github.ListOptions{PerPage: perPage},
	}
	if !includePrivate {
		opts.Visibility = "public"
	}

	var all []model.DiscoveredRepo
	for {
		if err := c.acquire(ctx); err != nil {
			return nil, err
		}
		repos, resp, err := c.gh.Repositories.ListByAuthenticatedUser(ctx, opts)
		c.observe(resp)
		if err != nil {
			if isDecodeError(err) && len(all) > 0 {
				c.logger.Warn("non-list payload during repository pagination, stopping early",
					slog.Int("accumulated", len(all)))
				return all, nil
			}
			return nil, wrapError(err)
		}

		for _, r := range repos {
			if !includeForks && r.GetFork() {
				continue
			}
			all = append(all, toDiscoveredRepo(r))
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return all, nil
}

// ListCommits lists commits on a repository since a given time, optionally
// filtered to one author. Only listing-level fields are populated; stats
// and files require GetCommitDetail.
func (c *Client) ListCommits(ctx context.Context, fullName string, since *time.Time, author string) ([]model.Commit, error) {
	owner, name, err := splitFullName(fullName)
	if err != nil {
		return nil, err
	}

	opts := &github.CommitsListOptions{
		Author:      author,
		ListOptions: github.ListOptions{PerPage: perPage},
	}
	if since != nil {
		opts.Since = *since
	}

	var all []model.Commit
	for {
		if err := c.acquire(ctx); err != nil {
			return nil, err
		}
		commits, resp, err := c.gh.Repositories.ListCommits(ctx, owner, name, opts)
		c.observe(resp)
		if err != nil {
			if isDecodeError(err) && len(all) > 0 {
				c.logger.Warn("non-list payload during commit pagination, stopping early",
					slog.String("repo", fullName), slog.Int("accumulated", len(all)))
				return all, nil
			}
			return nil, wrapError(err)
		}

		for _, commit := range commits {
			all = append(all, toCommit(commit))
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return all, nil
}

// GetCommitDetail fetches one commit with stats and changed files.
func (c *Client) GetCommitDetail(ctx context.Context, fullName, sha string) (*model.Commit, error) {
	owner, name, err := splitFullName(fullName)
	if err != nil {
		return nil, err
	}

	if err := c.acquire(ctx); err != nil {
		return nil, err
	}
	commit, resp, err := c.gh.Repositories.GetCommit(ctx, owner, name, sha, nil)
	c.observe(resp)
	if err != nil {
		return nil, wrapError(err)
	}

	detail := toCommitDetail(commit)
	return &detail, nil
}

// GetCommitDiffText fetches the raw unified diff of one commit.
func (c *Client) GetCommitDiffText(ctx context.Context, fullName, sha string) (string, error) {
	owner, name, err := splitFullName(fullName)
	if err != nil {
		return "", err
	}

	if err := c.acquire(ctx); err != nil {
		return "", err
	}
	diff, resp, err := c.gh.Repositories.GetCommitRaw(ctx, owner, name, sha, github.RawOptions{Type: github.Diff})
	c.observe(resp)
	if err != nil {
		return "", wrapError(err)
	}
	return diff, nil
}

// GetCommitDetailsBatch fetches commit details with bounded concurrency.
// Individual failures are logged and dropped; the batch itself never fails.
func (c *Client) GetCommitDetailsBatch(ctx context.Context, fullName string, shas []string, concurrency int) []model.Commit {
	if concurrency <= 0 {
		concurrency = DefaultBatchConcurrency
	}

	var mu sync.Mutex
	details := make([]*model.Commit, len(shas))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, sha := range shas {
		i, sha := i, sha
		g.Go(func() error {
			detail, err := c.GetCommitDetail(gctx, fullName, sha)
			if err != nil {
				c.logger.Warn("failed to fetch commit detail, dropping from batch",
					slog.String("repo", fullName),
					slog.String("sha", shortSHA(sha)),
					slog.Any("error", err))
				return nil
			}
			mu.Lock()
			details[i] = detail
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	results := make([]model.Commit, 0, len(shas))
	for _, d := range details {
		if d != nil {
			results = append(results, *d)
		}
	}
	return results
}

// ListPullRequests lists pull requests in the given state. The pulls
// endpoint has no server-side since parameter, so the since filter is
// applied client-side on the update time after full retrieval.
func (c *Client) ListPullRequests(ctx context.Context, fullName, state string, since *time.Time) ([]model.PullRequest, error) {
	owner, name, err := splitFullName(fullName)
	if err != nil {
		return nil, err
	}

	opts := &github.PullRequestListOptions{
		State:       state,
		Sort:        "updated",
		Direction:   "desc",
		ListOptions: github.ListOptions{PerPage: perPage},
	}

	var all []model.PullRequest
	for {
		if err := c.acquire(ctx); err != nil {
			return nil, err
		}
		prs, resp, err := c.gh.PullRequests.List(ctx, owner, name, opts)
		c.observe(resp)
		if err != nil {
			if isDecodeError(err) && len(all) > 0 {
				c.logger.Warn("non-list payload during pull request pagination, stopping early",
					slog.String("repo", fullName), slog.Int("accumulated", len(all)))
				return all, nil
			}
			return nil, wrapError(err)
		}

		for _, pr := range prs {
			if since != nil && pr.GetUpdatedAt().Time.Before(*since) {
				continue
			}
			all = append(all, toPullRequest(pr))
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return all, nil
}

// GetLanguages fetches the per-language byte counts of a repository.
func (c *Client) GetLanguages(ctx context.Context, fullName string) (map[string]int, error) {
	owner, name, err := splitFullName(fullName)
	if err != nil {
		return nil, err
	}

	if err := c.acquire(ctx); err != nil {
		return nil, err
	}
	languages, resp, err := c.gh.Repositories.ListLanguages(ctx, owner, name)
	c.observe(resp)
	if err != nil {
		return nil, wrapError(err)
	}
	return languages, nil
}

// GetFileContent fetches and decodes one file via the contents API. A
// missing file returns nil without an error; any other failure propagates.
func (c *Client) GetFileContent(ctx context.Context, fullName, path string) (*string, error) {
	owner, name, err := splitFullName(fullName)
	if err != nil {
		return nil, err
	}

	if err := c.acquire(ctx); err != nil {
		return nil, err
	}
	file, _, resp, err := c.gh.Repositories.GetContents(ctx, owner, name, path, nil)
	c.observe(resp)
	if err != nil {
		wrapped := wrapError(err)
		if apperr.IsNotFound(wrapped) {
			return nil, nil
		}
		return nil, wrapped
	}
	if file == nil {
		// Directory listing, not a file.
		return nil, nil
	}

	content, err := file.GetContent()
	if err != nil {
		return nil, wrapError(err)
	}
	return &content, nil
}

// GetRateLimitStatus fetches the current rate-limit quotas.
func (c *Client) GetRateLimitStatus(ctx context.Context) (*github.RateLimits, error) {
	if err := c.acquire(ctx); err != nil {
		return nil, err
	}
	limits, resp, err := c.gh.RateLimit.Get(ctx)
	c.observe(resp)
	if err != nil {
		return nil, wrapError(err)
	}
	return limits, nil
}

// splitFullName splits "owner/repo" into its parts.
func splitFullName(fullName string) (owner, name string, err error) {
	owner, name, ok := strings.Cut(fullName, "/")
	if !ok || owner == "" || name == "" {
		return "", "", errInvalidFullName(fullName)
	}
	return owner, name, nil
}

func shortSHA(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}

// toDiscoveredRepo translates a github.Repository into the discovery shape.
func toDiscoveredRepo(r *github.Repository) model.DiscoveredRepo {
	return model.DiscoveredRepo{
		GithubRepoID: r.GetID(),
		FullName:     r.GetFullName(),
		Description:  r.Description,
		IsPrivate:    r.GetPrivate(),
		IsFork:       r.GetFork(),
	}
}

// toCommit translates a listing-level github.RepositoryCommit.
func toCommit(c *github.RepositoryCommit) model.Commit {
	return model.Commit{
		SHA:         c.GetSHA(),
		Message:     truncate(c.GetCommit().GetMessage(), maxMessageLen),
		CommittedAt: commitTimestamp(c),
	}
}

// toCommitDetail translates a full commit detail, keeping a bounded raw
// payload from which a diff can be rebuilt.
func toCommitDetail(c *github.RepositoryCommit) model.Commit {
	commit := toCommit(c)
	commit.Additions = c.GetStats().GetAdditions()
	commit.Deletions = c.GetStats().GetDeletions()
	commit.ChangedFiles = len(c.Files)

	files := make([]any, 0, min(len(c.Files), maxRawFiles))
	for _, f := range c.Files {
		if len(files) >= maxRawFiles {
			break
		}
		files = append(files, map[string]any{
			"filename":  f.GetFilename(),
			"status":    f.GetStatus(),
			"additions": f.GetAdditions(),
			"deletions": f.GetDeletions(),
			"patch":     truncate(f.GetPatch(), maxRawPatchLen),
		})
	}
	commit.RawPayload = map[string]any{
		"stats": map[string]any{
			"additions": c.GetStats().GetAdditions(),
			"deletions": c.GetStats().GetDeletions(),
			"total":     c.GetStats().GetTotal(),
		},
		"files": files,
	}
	return commit
}

// commitTimestamp prefers the committer date and falls back to the author
// date. A zero result means the payload carried neither.
func commitTimestamp(c *github.RepositoryCommit) time.Time {
	if ts := c.GetCommit().GetCommitter().GetDate().Time; !ts.IsZero() {
		return ts
	}
	return c.GetCommit().GetAuthor().GetDate().Time
}

// toPullRequest translates a github.PullRequest.
func toPullRequest(pr *github.PullRequest) model.PullRequest {
	out := model.PullRequest{
		GithubPRID:   pr.GetID(),
		Number:       pr.GetNumber(),
		Title:        pr.GetTitle(),
		State:        pr.GetState(),
		Additions:    pr.GetAdditions(),
		Deletions:    pr.GetDeletions(),
		ChangedFiles: pr.GetChangedFiles(),
		PRCreatedAt:  pr.GetCreatedAt().Time,
	}
	if pr.ClosedAt != nil {
		t := pr.ClosedAt.Time
		out.ClosedAt = &t
	}
	if pr.MergedAt != nil {
		t := pr.MergedAt.Time
		out.MergedAt = &t
	}

	labels := make([]any, 0, len(pr.Labels))
	for _, l := range pr.Labels {
		labels = append(labels, l.GetName())
	}
	out.RawPayload = map[string]any{
		"labels":   labels,
		"user":     pr.GetUser().GetLogin(),
		"head_ref": pr.GetHead().GetRef(),
		"base_ref": pr.GetBase().GetRef(),
	}
	return out
}
