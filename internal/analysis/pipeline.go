// internal/analysis/pipeline.go

// Package analysis turns stored commits into persisted AI annotations. It
// is a best-effort enrichment layer: missing diffs are skipped, malformed
// model replies degrade to fallback objects, and only quota exhaustion
// stops a batch.
package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"gitpulse/internal/apperr"
	"gitpulse/internal/gemini"
	"gitpulse/internal/model"
	"gitpulse/internal/store"
)

// interCallDelay is the client-side pause between analyses in a batch, on
// top of the token bucket.
const interCallDelay = time.Second

// Analyzer is the slice of the Gemini client the pipeline drives.
type Analyzer interface {
	AnalyzeDiff(ctx context.Context, diff, commitMessage, repoFullName string) (gemini.DiffAnalysis, error)
	AnalyzeTechStack(ctx context.Context, dependencyFiles map[string]string, description, primaryLanguage string) (gemini.TechStack, error)
}

// SourceClient is the slice of the GitHub client tech-stack profiling
// needs.
type SourceClient interface {
	GetLanguages(ctx context.Context, fullName string) (map[string]int, error)
	GetFileContent(ctx context.Context, fullName, path string) (*string, error)
}

// dependencyManifests are the well-known files fetched for tech-stack
// analysis. Missing files are simply skipped.
var dependencyManifests = []string{
	"package.json",
	"requirements.txt",
	"pyproject.toml",
	"go.mod",
	"Cargo.toml",
	"pom.xml",
	"build.gradle",
	"Gemfile",
	"composer.json",
}

// Pipeline drives commit analysis and repository profiling.
type Pipeline struct {
	store      store.Store
	analyzer   Analyzer
	logger     *slog.Logger
	batchLimit int
	interval   time.Duration
	delay      time.Duration
}

// NewPipeline builds a Pipeline. batchLimit caps one periodic batch;
// interval paces the batch loop.
func NewPipeline(st store.Store, analyzer Analyzer, batchLimit int, interval time.Duration, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		store:      st,
		analyzer:   analyzer,
		logger:     logger,
		batchLimit: batchLimit,
		interval:   interval,
		delay:      interCallDelay,
	}
}

// AnalyzeCommit analyzes one stored commit and persists the result. A
// commit without diff material, or one already analyzed, returns (nil,
// nil); that is a skip, not a failure.
func (p *Pipeline) AnalyzeCommit(ctx context.Context, commit *model.Commit, repoFullName string) (*model.Analysis, error) {
	exists, err := p.store.HasAnalysis(ctx, model.SourceTypeCommit, commit.ID)
	if err != nil {
		return nil, fmt.Errorf("check existing analysis: %w", err)
	}
	if exists {
		return nil, nil
	}

	diff := ExtractDiff(commit.RawPayload)
	if diff == "" {
		p.logger.Debug("no diff material for commit, skipping analysis",
			slog.String("sha", shortSHA(commit.SHA)))
		return nil, nil
	}
	diff = TruncateDiff(diff, MaxDiffChars)

	result, err := p.analyzer.AnalyzeDiff(ctx, diff, commit.Message, repoFullName)
	if err != nil {
		return nil, err
	}

	score := math.Round(result.ComplexityScore*10) / 10
	analysis := &model.Analysis{
		SourceType:      model.SourceTypeCommit,
		SourceID:        commit.ID,
		RepositoryID:    commit.RepositoryID,
		TechTags:        result.TechnologiesDetected,
		WorkCategory:    result.WorkCategory,
		Summary:         result.Summary,
		ComplexityScore: &score,
		RawResponse: map[string]any{
			"summary":               result.Summary,
			"work_category":         result.WorkCategory,
			"technologies_detected": result.TechnologiesDetected,
			"complexity_score":      result.ComplexityScore,
			"quality_notes":         result.QualityNotes,
		},
		AnalyzedAt: time.Now().UTC(),
	}

	if err := p.store.SaveAnalysis(ctx, analysis); err != nil {
		return nil, err
	}
	return analysis, nil
}

// BatchAnalyzeUnanalyzed analyzes up to limit commits that have no
// analysis yet, largest changes first. Quota exhaustion stops the batch
// with partial progress retained; any other per-commit failure is logged
// and skipped.
func (p *Pipeline) BatchAnalyzeUnanalyzed(ctx context.Context, limit int) error {
	if limit <= 0 {
		limit = p.batchLimit
	}

	commits, err := p.store.ListUnanalyzedCommits(ctx, limit)
	if err != nil {
		return fmt.Errorf("list unanalyzed commits: %w", err)
	}
	if len(commits) == 0 {
		p.logger.Info("no unanalyzed commits found")
		return nil
	}
	p.logger.Info("starting analysis batch", slog.Int("commits", len(commits)))

	analyzed, skipped, failed := 0, 0, 0
	for i, uc := range commits {
		analysis, err := p.AnalyzeCommit(ctx, &uc.Commit, uc.RepoFullName)
		switch {
		case apperr.IsRateLimit(err):
			p.logger.Warn("analysis API quota exhausted, stopping batch early",
				slog.Int("analyzed", analyzed))
			return err
		case err != nil:
			failed++
			p.logger.Error("commit analysis failed, skipping",
				slog.String("sha", shortSHA(uc.Commit.SHA)),
				slog.String("repo", uc.RepoFullName),
				slog.Any("error", err))
		case analysis == nil:
			skipped++
		default:
			analyzed++
		}

		if i < len(commits)-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.delay):
			}
		}
	}

	p.logger.Info("analysis batch finished",
		slog.Int("analyzed", analyzed),
		slog.Int("skipped", skipped),
		slog.Int("failed", failed))
	return nil
}

// AnalyzeRepoTechStack profiles a repository's technology stack from its
// languages and dependency manifests, merging the result into the
// repository metadata under "tech_analysis".
func (p *Pipeline) AnalyzeRepoTechStack(ctx context.Context, client SourceClient, repo *model.Repository) error {
	files := make(map[string]string)
	for _, manifest := range dependencyManifests {
		content, err := client.GetFileContent(ctx, repo.FullName, manifest)
		if err != nil {
			return fmt.Errorf("fetch %s: %w", manifest, err)
		}
		if content != nil {
			files[manifest] = *content
		}
	}

	description := ""
	if repo.Description != nil {
		description = *repo.Description
	}
	primaryLanguage := ""
	if repo.PrimaryLanguage != nil {
		primaryLanguage = *repo.PrimaryLanguage
	}
	if primaryLanguage == "" {
		if languages, err := client.GetLanguages(ctx, repo.FullName); err == nil {
			primaryLanguage = dominantLanguage(languages)
		}
	}

	result, err := p.analyzer.AnalyzeTechStack(ctx, files, description, primaryLanguage)
	if err != nil {
		return err
	}

	patch := map[string]any{
		"tech_analysis": map[string]any{
			"domain":         result.Domain,
			"domain_detail":  result.DomainDetail,
			"frameworks":     result.Frameworks,
			"tools":          result.Tools,
			"infrastructure": result.Infrastructure,
			"project_type":   result.ProjectType,
			"analyzed_at":    time.Now().UTC().Format(time.RFC3339),
		},
	}
	if err := p.store.MergeRepositoryMetadata(ctx, repo.ID, nil, patch); err != nil {
		return err
	}

	p.logger.Info("tech stack analyzed",
		slog.String("repo", repo.FullName),
		slog.String("domain", result.Domain))
	return nil
}

// StartBatchLoop runs the periodic analysis batch until ctx is cancelled.
func (p *Pipeline) StartBatchLoop(ctx context.Context) {
	p.logger.Info("starting analysis batch loop",
		slog.String("interval", p.interval.String()),
		slog.Int("batch_limit", p.batchLimit))
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := p.BatchAnalyzeUnanalyzed(ctx, p.batchLimit); err != nil && ctx.Err() == nil {
				p.logger.Error("analysis batch failed", slog.Any("error", err))
			}
		case <-ctx.Done():
			p.logger.Info("analysis batch loop shutting down", slog.Any("reason", ctx.Err()))
			return
		}
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

func shortSHA(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}
