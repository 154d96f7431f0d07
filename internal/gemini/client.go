// internal/gemini/client.go

// Package gemini is the analysis API client. It builds prompts from
// bounded activity data, throttles calls through a shared token bucket and
// recovers structured results from free-form model output.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"gitpulse/internal/apperr"
	"gitpulse/internal/ratelimit"
)

// Default configuration values.
const (
	DefaultBaseURL = "https://generativelanguage.googleapis.com"
	DefaultModel   = "gemini-2.5-flash"
	DefaultTimeout = 120 * time.Second

	responseMimeType = "application/json"
	temperature      = 0.3

	maxLoggedResponseLen = 300
)

// Config holds configuration for the Gemini client.
type Config struct {
	// APIKey is the Gemini API key (required).
	APIKey string

	// BaseURL is the API base URL (default: the public Gemini endpoint).
	BaseURL string

	// Model is the generative model to use (default: gemini-2.5-flash).
	Model string

	// Timeout is the request timeout (default: 120s).
	Timeout time.Duration
}

// Client calls the Gemini generateContent API.
type Client struct {
	client  *http.Client
	baseURL string
	apiKey  string
	model   string
	bucket  *ratelimit.TokenBucket
	logger  *slog.Logger
}

// generateRequest is the generateContent request format.
type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	ResponseMimeType string  `json:"responseMimeType"`
	Temperature      float64 `json:"temperature"`
}

// generateResponse is the generateContent response format.
type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error,omitempty"`
}

// NewClient creates a Gemini client sharing the given token bucket.
func NewClient(cfg Config, bucket *ratelimit.TokenBucket, logger *slog.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini: API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &Client{
		client:  &http.Client{Timeout: cfg.Timeout},
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		bucket:  bucket,
		logger:  logger,
	}, nil
}

// AnalyzeDiff analyzes one commit diff. A reply that cannot be parsed
// yields the fallback result, not an error.
func (c *Client) AnalyzeDiff(ctx context.Context, diff, commitMessage, repoFullName string) (DiffAnalysis, error) {
	raw, err := c.generate(ctx, buildDiffAnalysisPrompt(diff, commitMessage, repoFullName))
	if err != nil {
		return DiffAnalysis{}, err
	}

	parsed := parseJSONResponse(raw)
	if parsed == nil {
		c.logger.Warn("diff analysis response could not be parsed, using fallback",
			slog.String("repo", repoFullName),
			slog.String("raw", truncateForLog(raw)))
	}
	return diffAnalysisFromMap(parsed), nil
}

// GenerateWeeklySummary summarizes one week of activity.
func (c *Client) GenerateWeeklySummary(ctx context.Context, commits []ActivityCommit, prs []ActivityPullRequest, analyses []ActivityAnalysis, weekStart, weekEnd string) (WeeklySummary, error) {
	raw, err := c.generate(ctx, buildWeeklySummaryPrompt(commits, prs, analyses, weekStart, weekEnd))
	if err != nil {
		return WeeklySummary{}, err
	}

	parsed := parseJSONResponse(raw)
	if parsed == nil {
		c.logger.Warn("weekly summary response could not be parsed, using fallback",
			slog.String("week_start", weekStart), slog.String("week_end", weekEnd))
	}
	return weeklySummaryFromMap(parsed), nil
}

// GenerateMonthlySummary summarizes one month from its weekly summaries
// and aggregate statistics.
func (c *Client) GenerateMonthlySummary(ctx context.Context, weeklySummaries []WeeklySummary, monthStats map[string]any) (MonthlySummary, error) {
	raw, err := c.generate(ctx, buildMonthlySummaryPrompt(weeklySummaries, monthStats))
	if err != nil {
		return MonthlySummary{}, err
	}

	parsed := parseJSONResponse(raw)
	if parsed == nil {
		c.logger.Warn("monthly summary response could not be parsed, using fallback")
	}
	return monthlySummaryFromMap(parsed), nil
}

// AnalyzeTechStack profiles a repository's technology stack from its
// dependency manifests.
func (c *Client) AnalyzeTechStack(ctx context.Context, dependencyFiles map[string]string, description, primaryLanguage string) (TechStack, error) {
	raw, err := c.generate(ctx, buildTechStackPrompt(dependencyFiles, description, primaryLanguage))
	if err != nil {
		return TechStack{}, err
	}

	parsed := parseJSONResponse(raw)
	if parsed == nil {
		c.logger.Warn("tech stack response could not be parsed, using fallback")
	}
	return techStackFromMap(parsed), nil
}

// generate sends one prompt and returns the raw text reply. The token
// bucket is acquired before the call; quota conditions surface as
// rate-limit errors, everything else as external API errors.
func (c *Client) generate(ctx context.Context, prompt string) (string, error) {
	if err := c.bucket.Acquire(ctx); err != nil {
		return "", err
	}

	body, err := json.Marshal(generateRequest{
		Contents: []content{{Parts: []part{{Text: prompt}}}},
		GenerationConfig: generationConfig{
			ResponseMimeType: responseMimeType,
			Temperature:      temperature,
		},
	})
	if err != nil {
		return "", fmt.Errorf("gemini: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.baseURL, c.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("gemini: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", c.classifyCallError(err.Error(), 0, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", apperr.External("analysis API response read failed", resp.StatusCode, err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", apperr.RateLimit(fmt.Sprintf("analysis API rate limit exceeded: %s", truncateForLog(string(respBody))), time.Time{})
	}

	var decoded generateResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		if resp.StatusCode >= 400 {
			return "", c.classifyCallError(string(respBody), resp.StatusCode, nil)
		}
		return "", apperr.Parse("analysis API response is not valid JSON", err)
	}

	if decoded.Error != nil {
		return "", c.classifyCallError(decoded.Error.Message, resp.StatusCode, nil)
	}
	if resp.StatusCode >= 400 {
		return "", c.classifyCallError(string(respBody), resp.StatusCode, nil)
	}

	if len(decoded.Candidates) == 0 || len(decoded.Candidates[0].Content.Parts) == 0 {
		return "", apperr.Parse("analysis API returned no candidates", nil)
	}

	var text string
	for _, p := range decoded.Candidates[0].Content.Parts {
		text += p.Text
	}
	return text, nil
}

// classifyCallError turns an upstream failure into the engine taxonomy
// using the isolated quota vocabulary.
func (c *Client) classifyCallError(message string, status int, cause error) error {
	if apperr.IsQuotaMessage(message) {
		c.logger.Error("analysis API rate limit exceeded", slog.String("detail", truncateForLog(message)))
		return apperr.RateLimit(fmt.Sprintf("analysis API rate limit exceeded: %s", truncateForLog(message)), time.Time{})
	}
	c.logger.Error("analysis API call failed", slog.Int("status", status), slog.String("detail", truncateForLog(message)))
	return apperr.External(fmt.Sprintf("analysis API call failed: %s", truncateForLog(message)), status, cause)
}

func truncateForLog(s string) string {
	if len(s) > maxLoggedResponseLen {
		return s[:maxLoggedResponseLen]
	}
	return s
}
