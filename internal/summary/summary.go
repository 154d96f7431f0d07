// internal/summary/summary.go

// Package summary generates weekly and monthly activity retrospectives for
// a user from their synced commits, pull requests, and stored analyses.
package summary

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"gitpulse/internal/gemini"
	"gitpulse/internal/model"
	"gitpulse/internal/store"
)

// Summarizer is the slice of the Gemini client the service drives.
type Summarizer interface {
	GenerateWeeklySummary(ctx context.Context, commits []gemini.ActivityCommit, prs []gemini.ActivityPullRequest, analyses []gemini.ActivityAnalysis, weekStart, weekEnd string) (gemini.WeeklySummary, error)
	GenerateMonthlySummary(ctx context.Context, weeklySummaries []gemini.WeeklySummary, monthStats map[string]any) (gemini.MonthlySummary, error)
}

// Service gathers activity windows and persists generated summaries as
// analysis rows keyed by the user, so regenerating a window replaces the
// previous summary.
type Service struct {
	store      store.Store
	summarizer Summarizer
	logger     *slog.Logger
}

func NewService(st store.Store, summarizer Summarizer, logger *slog.Logger) *Service {
	return &Service{store: st, summarizer: summarizer, logger: logger}
}

// GenerateWeekly summarizes the seven days starting at weekStart. A zero
// weekStart means the most recent Monday.
func (s *Service) GenerateWeekly(ctx context.Context, userID int64, weekStart time.Time) (*model.Analysis, error) {
	if weekStart.IsZero() {
		weekStart = mostRecentMonday(time.Now().UTC())
	}
	weekStart = weekStart.UTC().Truncate(24 * time.Hour)
	weekEnd := weekStart.AddDate(0, 0, 7)

	commits, prs, analyses, err := s.gatherWindow(ctx, userID, weekStart, weekEnd)
	if err != nil {
		return nil, err
	}

	result, err := s.summarizer.GenerateWeeklySummary(ctx, commits, prs, analyses,
		weekStart.Format("2006-01-02"), weekEnd.AddDate(0, 0, -1).Format("2006-01-02"))
	if err != nil {
		return nil, err
	}

	analysis, err := s.persist(ctx, userID, model.SourceTypeWeeklySummary, result.Highlight, map[string]any{
		"highlight":         result.Highlight,
		"key_achievements":  result.KeyAchievements,
		"technologies_used": result.TechnologiesUsed,
		"suggestions":       result.Suggestions,
		"focus_areas":       result.FocusAreas,
		"week_start":        weekStart.Format("2006-01-02"),
		"commit_count":      len(commits),
		"pr_count":          len(prs),
	}, result.TechnologiesUsed)
	if err != nil {
		return nil, err
	}

	s.logger.Info("weekly summary generated",
		slog.Int64("user_id", userID),
		slog.String("week_start", weekStart.Format("2006-01-02")),
		slog.Int("commits", len(commits)),
		slog.Int("prs", len(prs)))
	return analysis, nil
}

// GenerateMonthly summarizes the calendar month containing monthStart. A
// zero monthStart means the current month. Each week of the month is
// summarized in memory first, then the month is composed from the weekly
// results plus aggregate statistics.
func (s *Service) GenerateMonthly(ctx context.Context, userID int64, monthStart time.Time) (*model.Analysis, error) {
	if monthStart.IsZero() {
		monthStart = time.Now().UTC()
	}
	monthStart = time.Date(monthStart.Year(), monthStart.Month(), 1, 0, 0, 0, 0, time.UTC)
	monthEnd := monthStart.AddDate(0, 1, 0)

	var weeklies []gemini.WeeklySummary
	for ws := monthStart; ws.Before(monthEnd); ws = ws.AddDate(0, 0, 7) {
		we := ws.AddDate(0, 0, 7)
		if we.After(monthEnd) {
			we = monthEnd
		}
		commits, prs, analyses, err := s.gatherWindow(ctx, userID, ws, we)
		if err != nil {
			return nil, err
		}
		if len(commits) == 0 && len(prs) == 0 {
			continue
		}
		weekly, err := s.summarizer.GenerateWeeklySummary(ctx, commits, prs, analyses,
			ws.Format("2006-01-02"), we.AddDate(0, 0, -1).Format("2006-01-02"))
		if err != nil {
			return nil, err
		}
		weeklies = append(weeklies, weekly)
	}

	stats, err := s.monthStats(ctx, userID, monthStart, monthEnd)
	if err != nil {
		return nil, err
	}

	result, err := s.summarizer.GenerateMonthlySummary(ctx, weeklies, stats)
	if err != nil {
		return nil, err
	}

	analysis, err := s.persist(ctx, userID, model.SourceTypeMonthlySummary, result.Narrative, map[string]any{
		"narrative":          result.Narrative,
		"growth_areas":       result.GrowthAreas,
		"monthly_highlights": result.MonthlyHighlights,
		"month":              monthStart.Format("2006-01"),
		"stats":              stats,
	}, nil)
	if err != nil {
		return nil, err
	}

	s.logger.Info("monthly summary generated",
		slog.Int64("user_id", userID),
		slog.String("month", monthStart.Format("2006-01")),
		slog.Int("weeks_with_activity", len(weeklies)))
	return analysis, nil
}

// gatherWindow loads the window's activity in the prompt input shapes.
func (s *Service) gatherWindow(ctx context.Context, userID int64, from, to time.Time) ([]gemini.ActivityCommit, []gemini.ActivityPullRequest, []gemini.ActivityAnalysis, error) {
	commitRows, err := s.store.ListCommitActivity(ctx, userID, from, to)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("list commit activity: %w", err)
	}
	prRows, err := s.store.ListPullRequestActivity(ctx, userID, from, to)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("list pull request activity: %w", err)
	}
	analysisRows, err := s.store.ListCommitAnalyses(ctx, userID, from, to)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("list commit analyses: %w", err)
	}

	commits := make([]gemini.ActivityCommit, 0, len(commitRows))
	for _, row := range commitRows {
		commits = append(commits, gemini.ActivityCommit{
			Message:   row.Commit.Message,
			Repo:      row.RepoFullName,
			Additions: row.Commit.Additions,
			Deletions: row.Commit.Deletions,
		})
	}
	prs := make([]gemini.ActivityPullRequest, 0, len(prRows))
	for _, row := range prRows {
		prs = append(prs, gemini.ActivityPullRequest{
			Title: row.PullRequest.Title,
			Repo:  row.RepoFullName,
			State: row.PullRequest.State,
		})
	}
	analyses := make([]gemini.ActivityAnalysis, 0, len(analysisRows))
	for _, row := range analysisRows {
		analyses = append(analyses, gemini.ActivityAnalysis{
			Summary:      row.Summary,
			WorkCategory: row.WorkCategory,
			Technologies: row.TechTags,
		})
	}
	return commits, prs, analyses, nil
}

// monthStats aggregates the month's raw numbers for the composition prompt.
func (s *Service) monthStats(ctx context.Context, userID int64, from, to time.Time) (map[string]any, error) {
	commits, err := s.store.ListCommitActivity(ctx, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list commit activity: %w", err)
	}
	prs, err := s.store.ListPullRequestActivity(ctx, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list pull request activity: %w", err)
	}
	analyses, err := s.store.ListCommitAnalyses(ctx, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list commit analyses: %w", err)
	}

	additions, deletions := 0, 0
	repos := map[string]struct{}{}
	for _, row := range commits {
		additions += row.Commit.Additions
		deletions += row.Commit.Deletions
		repos[row.RepoFullName] = struct{}{}
	}

	return map[string]any{
		"total_commits":       len(commits),
		"total_pull_requests": len(prs),
		"total_additions":     additions,
		"total_deletions":     deletions,
		"active_repositories": len(repos),
		"top_technologies":    topTechnologies(analyses, 10),
	}, nil
}

// persist upserts the summary as an analysis row keyed by the user id.
func (s *Service) persist(ctx context.Context, userID int64, sourceType model.SourceType, text string, raw map[string]any, tags []string) (*model.Analysis, error) {
	repoID, err := s.store.FirstActiveRepositoryID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("resolve anchor repository: %w", err)
	}

	if tags == nil {
		tags = []string{}
	}
	analysis := &model.Analysis{
		SourceType:   sourceType,
		SourceID:     userID,
		RepositoryID: repoID,
		TechTags:     tags,
		WorkCategory: "summary",
		Summary:      text,
		RawResponse:  raw,
		AnalyzedAt:   time.Now().UTC(),
	}
	if err := s.store.SaveAnalysis(ctx, analysis); err != nil {
		return nil, err
	}
	return analysis, nil
}

// topTechnologies ranks tech tags by frequency across the window's
// analyses, ties broken alphabetically.
func topTechnologies(analyses []model.Analysis, limit int) []string {
	counts := map[string]int{}
	for _, a := range analyses {
		for _, tag := range a.TechTags {
			counts[tag]++
		}
	}

	tags := make([]string, 0, len(counts))
	for tag := range counts {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool {
		if counts[tags[i]] != counts[tags[j]] {
			return counts[tags[i]] > counts[tags[j]]
		}
		return tags[i] < tags[j]
	})

	if len(tags) > limit {
		tags = tags[:limit]
	}
	return tags
}

// mostRecentMonday returns the Monday on or before t, at midnight UTC.
func mostRecentMonday(t time.Time) time.Time {
	t = t.Truncate(24 * time.Hour)
	offset := (int(t.Weekday()) + 6) % 7
	return t.AddDate(0, 0, -offset)
}
