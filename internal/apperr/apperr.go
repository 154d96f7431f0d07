// internal/apperr/apperr.go
package apperr

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind discriminates upstream failures so callers branch on the failure
// class instead of string matching at every call site.
type Kind string

const (
	// KindRateLimit marks quota exhaustion on either upstream. Batch loops
	// stop on it; every further call would fail the same way.
	KindRateLimit Kind = "rate_limit"
	// KindNotFound marks an absent remote resource. Call sites translate it
	// to a nil/empty result instead of propagating it.
	KindNotFound Kind = "not_found"
	// KindExternalAPI marks transport failures and non-2xx responses that
	// are not quota related. Handled per item or per repository.
	KindExternalAPI Kind = "external_api"
	// KindParse marks an undecodable analysis response.
	KindParse Kind = "parse"
)

// Error carries a Kind alongside the message and optional cause.
type Error struct {
	Kind       Kind
	Message    string
	StatusCode int
	ResetAt    time.Time
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// RateLimit builds a quota-exhaustion error. resetAt may be zero when the
// upstream did not report one.
func RateLimit(message string, resetAt time.Time) *Error {
	return &Error{Kind: KindRateLimit, Message: message, ResetAt: resetAt}
}

// NotFound builds a resource-absent error.
func NotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message, StatusCode: 404}
}

// External builds a generic upstream failure. statusCode is zero for
// transport-level failures.
func External(message string, statusCode int, cause error) *Error {
	return &Error{Kind: KindExternalAPI, Message: message, StatusCode: statusCode, Err: cause}
}

// Parse builds an undecodable-response error.
func Parse(message string, cause error) *Error {
	return &Error{Kind: KindParse, Message: message, Err: cause}
}

// KindOf returns the Kind of err, or "" when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func IsRateLimit(err error) bool { return KindOf(err) == KindRateLimit }

func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

// QuotaKeywords is the vocabulary used to recognize quota exhaustion in
// free-form upstream error messages. Matched case-insensitively.
var QuotaKeywords = []string{"rate", "quota", "429"}

// IsQuotaMessage reports whether a free-form error message indicates a
// quota or HTTP-429 condition. It is the only place message-based error
// classification is allowed to live.
func IsQuotaMessage(message string) bool {
	lower := strings.ToLower(message)
	for _, kw := range QuotaKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
