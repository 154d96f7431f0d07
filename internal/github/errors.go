// internal/github/errors.go
package github

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/google/go-github/v62/github"

	"gitpulse/internal/apperr"
	"gitpulse/internal/ratelimit"
)

const maxErrorDetailLen = 200

// wrapError classifies an SDK error into the engine's taxonomy. Quota
// exhaustion (403 with zero remaining, or a secondary limit) becomes a
// rate-limit error, 404 a not-found error, everything else an external
// API error carrying a truncated upstream message.
func wrapError(err error) error {
	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		reset := rateErr.Rate.Reset.Time
		return apperr.RateLimit(
			fmt.Sprintf("source API rate limit exceeded, resets at %s", reset.Format(time.RFC3339)),
			reset,
		)
	}

	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		reset := time.Time{}
		if abuseErr.RetryAfter != nil {
			reset = time.Now().Add(*abuseErr.RetryAfter)
		}
		return apperr.RateLimit("source API secondary rate limit hit", reset)
	}

	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		status := respErr.Response.StatusCode
		url := ""
		if respErr.Response.Request != nil && respErr.Response.Request.URL != nil {
			url = respErr.Response.Request.URL.Path
		}
		switch {
		case status == http.StatusNotFound:
			return apperr.NotFound(fmt.Sprintf("source resource not found: %s", url))
		case status == http.StatusForbidden && respErr.Response.Header.Get(ratelimit.HeaderRateLimitRemaining) == "0":
			return apperr.RateLimit("source API rate limit exceeded", time.Time{})
		default:
			return apperr.External(
				fmt.Sprintf("source API error %d: %s", status, truncate(respErr.Message, maxErrorDetailLen)),
				status, err)
		}
	}

	return apperr.External("source API request failed", 0, err)
}

// isDecodeError reports whether err came from decoding a payload whose
// shape did not match the expected one. Pagination treats these as a
// defensive stop rather than a failure.
func isDecodeError(err error) bool {
	var typeErr *json.UnmarshalTypeError
	var syntaxErr *json.SyntaxError
	return errors.As(err, &typeErr) || errors.As(err, &syntaxErr)
}

// errInvalidFullName marks a repository name that is not "owner/repo".
// It is a caller bug, not an upstream failure.
func errInvalidFullName(fullName string) error {
	return fmt.Errorf("invalid repository full name %q, want owner/repo", fullName)
}

// truncate cuts s to at most limit bytes without splitting a rune.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := s[:limit]
	for !utf8.ValidString(cut) && len(cut) > limit-utf8.UTFMax {
		cut = cut[:len(cut)-1]
	}
	return cut
}
