// internal/ratelimit/ratelimit.go
package ratelimit

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Rate-limit headers sent by the GitHub REST API.
const (
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
)

// Gemini free-tier budget: 15 requests per minute.
const (
	DefaultAnalysisRate  = 15.0 / 60.0
	DefaultAnalysisBurst = 15
)

// TokenBucket throttles the analysis API. It refills proportionally to
// elapsed time up to the burst capacity and suspends callers when empty.
type TokenBucket struct {
	limiter *rate.Limiter
}

// NewTokenBucket creates a bucket that refills r tokens per second up to
// burst. Non-positive arguments fall back to the default analysis budget.
func NewTokenBucket(r float64, burst int) *TokenBucket {
	if r <= 0 {
		r = DefaultAnalysisRate
	}
	if burst <= 0 {
		burst = DefaultAnalysisBurst
	}
	return &TokenBucket{limiter: rate.NewLimiter(rate.Limit(r), burst)}
}

// Acquire consumes one token, suspending until one is available. It only
// fails when ctx is cancelled.
func (b *TokenBucket) Acquire(ctx context.Context) error {
	return b.limiter.Wait(ctx)
}

// HeaderLimiter throttles the source API using the quota observed in
// response headers. Until headers have been seen the budget is unknown and
// Acquire never waits.
type HeaderLimiter struct {
	mu        sync.Mutex
	known     bool
	remaining int
	resetAt   time.Time
	logger    *slog.Logger
}

func NewHeaderLimiter(logger *slog.Logger) *HeaderLimiter {
	return &HeaderLimiter{logger: logger}
}

// Acquire returns immediately while quota remains. When the observed budget
// is exhausted it suspends until the reported reset time, then clears the
// observed state so the budget is unknown again until fresh headers arrive.
func (l *HeaderLimiter) Acquire(ctx context.Context) error {
	l.mu.Lock()
	if !l.known || l.remaining > 0 {
		l.mu.Unlock()
		return nil
	}
	resetAt := l.resetAt
	l.mu.Unlock()

	if wait := time.Until(resetAt); wait > 0 {
		l.logger.Warn("source API quota exhausted, waiting for reset",
			slog.String("wait", wait.Round(time.Millisecond).String()),
			slog.Time("reset_at", resetAt))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}

	l.mu.Lock()
	// Only clear if no fresh headers arrived while we slept.
	if l.resetAt.Equal(resetAt) {
		l.known = false
		l.remaining = 0
		l.resetAt = time.Time{}
	}
	l.mu.Unlock()
	return nil
}

// UpdateFromHeaders records the quota reported by a response. It is the
// only writer of the observed budget and must be called after every call.
func (l *HeaderLimiter) UpdateFromHeaders(h http.Header) {
	remaining, err := strconv.Atoi(h.Get(HeaderRateLimitRemaining))
	if err != nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.known = true
	l.remaining = remaining
	if ts, err := strconv.ParseInt(h.Get(HeaderRateLimitReset), 10, 64); err == nil {
		l.resetAt = time.Unix(ts, 0)
	}
}
