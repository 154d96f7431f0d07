// internal/gemini/prompts.go
package gemini

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Input caps keep prompts inside the model's context budget. Oversized
// activity windows are cut, not rejected.
const (
	maxPromptCommits     = 50
	maxPromptPRs         = 30
	maxPromptAnalyses    = 50
	maxDependencyFileLen = 5000
)

func buildDiffAnalysisPrompt(diff, commitMessage, repoFullName string) string {
	return fmt.Sprintf(`You are an expert at analyzing source code changes.
Analyze the following commit and respond in the exact JSON format below.

## Repository
%s

## Commit message
%s

## Diff
%s

## Output format (JSON)
Respond with this JSON shape only, no other text.

{
    "summary": "1-2 sentence summary of the change",
    "work_category": "exactly one of feature|bugfix|refactor|test|docs|ci|style|performance|security|dependency|other",
    "technologies_detected": ["names of technologies, frameworks and libraries detected"],
    "complexity_score": 1.0,
    "quality_notes": ["observations about code quality"]
}

Notes:
- complexity_score ranges from 1.0 (trivial) to 10.0 (very complex)
- technologies_detected should name concrete technologies (Go, PostgreSQL, React, ...)
- quality_notes may point out both strengths and improvement opportunities`,
		repoFullName, commitMessage, diff)
}

func buildWeeklySummaryPrompt(commits []ActivityCommit, prs []ActivityPullRequest, analyses []ActivityAnalysis, weekStart, weekEnd string) string {
	commits = capCommits(commits, maxPromptCommits)
	prs = capPRs(prs, maxPromptPRs)
	analyses = capAnalyses(analyses, maxPromptAnalyses)

	return fmt.Sprintf(`You are an expert at writing weekly reports for software developers.
Analyze the following week of activity and respond with a weekly summary in the exact JSON format below.

## Period
%s to %s

## Commits
%s

## Pull requests
%s

## Diff analyses
%s

## Output format (JSON)
Respond with this JSON shape only, no other text.

{
    "highlight": "the highlight of the week in 1-2 sentences",
    "key_achievements": ["3-5 main achievements"],
    "technologies_used": ["technologies used this week"],
    "suggestions": ["1-3 improvement suggestions"],
    "focus_areas": ["areas of focus this week"]
}`,
		weekStart, weekEnd, mustJSON(commits), mustJSON(prs), mustJSON(analyses))
}

func buildMonthlySummaryPrompt(weeklySummaries []WeeklySummary, monthStats map[string]any) string {
	return fmt.Sprintf(`You are an expert at writing monthly retrospectives for software developers.
Based on the weekly summaries and monthly statistics below, respond with a monthly summary in the exact JSON format below.

## Weekly summaries
%s

## Monthly statistics
%s

## Output format (JSON)
Respond with this JSON shape only, no other text.

{
    "narrative": "a paragraph summarizing the month's development activity",
    "growth_areas": ["3-5 areas of growth this month"],
    "monthly_highlights": ["3-5 highlights of the month"]
}`,
		mustJSON(weeklySummaries), mustJSON(monthStats))
}

func buildTechStackPrompt(dependencyFiles map[string]string, description, primaryLanguage string) string {
	var files strings.Builder
	for name, content := range dependencyFiles {
		if len(content) > maxDependencyFileLen {
			content = content[:maxDependencyFileLen]
		}
		fmt.Fprintf(&files, "\n### %s\n```\n%s\n```\n", name, content)
	}
	if description == "" {
		description = "(none)"
	}
	if primaryLanguage == "" {
		primaryLanguage = "(unknown)"
	}

	return fmt.Sprintf(`You are an expert at analyzing the technology stack of software projects.
From the repository information and dependency files below, analyze the project's tech stack and respond in the exact JSON format below.

## Repository
- Description: %s
- Primary language: %s

## Dependency files
%s

## Output format (JSON)
Respond with this JSON shape only, no other text.

{
    "domain": "exactly one of web_frontend|web_backend|mobile|data_science|machine_learning|devops|cli_tool|library|game|iot|general",
    "domain_detail": "one sentence describing the domain (e.g. 'REST API server')",
    "frameworks": ["detected frameworks (e.g. Next.js, FastAPI, chi)"],
    "tools": ["detected build, test and developer tools (e.g. ESLint, Pytest, Docker)"],
    "infrastructure": ["detected databases, caches, cloud services, CI/CD (e.g. PostgreSQL, Redis)"],
    "project_type": "one sentence describing the kind of project"
}

Return empty arrays for anything you are not confident about.`,
		description, primaryLanguage, files.String())
}

func capCommits(in []ActivityCommit, n int) []ActivityCommit {
	if len(in) > n {
		return in[:n]
	}
	return in
}

func capPRs(in []ActivityPullRequest, n int) []ActivityPullRequest {
	if len(in) > n {
		return in[:n]
	}
	return in
}

func capAnalyses(in []ActivityAnalysis, n int) []ActivityAnalysis {
	if len(in) > n {
		return in[:n]
	}
	return in
}

// mustJSON renders prompt data as indented JSON. Marshal cannot fail for
// these shapes; an empty input renders as an empty list or object.
func mustJSON(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "[]"
	}
	return string(b)
}
