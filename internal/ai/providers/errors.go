package providers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ErrorKind partitions provider failures into classes the retry layer
// understands.
type ErrorKind string

const (
	ErrKindAuth          ErrorKind = "auth"
	ErrKindModelNotFound ErrorKind = "model_not_found"
	ErrKindRateLimited   ErrorKind = "rate_limited"
	ErrKindTransient     ErrorKind = "transient"
	ErrKindFatal         ErrorKind = "fatal"
)

// APIError is a classified provider failure.
type APIError struct {
	Kind       ErrorKind
	Provider   string
	StatusCode int
	Message    string
	RetryAfter time.Duration // nonzero only when the vendor supplied one
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s API error (%d, %s): %s", e.Provider, e.StatusCode, e.Kind, e.Message)
	}
	return fmt.Sprintf("%s API error (%s): %s", e.Provider, e.Kind, e.Message)
}

// Retryable reports whether the retry layer should attempt the call again.
func (e *APIError) Retryable() bool {
	return e.Kind == ErrKindRateLimited || e.Kind == ErrKindTransient
}

// classifyHTTPError maps a non-2xx vendor response onto the error taxonomy.
// Status code wins; body keywords break ties for vendors that return 400 for
// everything.
func classifyHTTPError(provider string, resp *http.Response, body string) *APIError {
	apiErr := &APIError{
		Provider:   provider,
		StatusCode: resp.StatusCode,
		Message:    strings.TrimSpace(body),
	}

	lower := strings.ToLower(body)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		apiErr.Kind = ErrKindAuth
	case resp.StatusCode == http.StatusNotFound:
		apiErr.Kind = ErrKindModelNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		apiErr.Kind = ErrKindRateLimited
		apiErr.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
	case resp.StatusCode >= 500:
		apiErr.Kind = ErrKindTransient
	case strings.Contains(lower, "model_not_found") || strings.Contains(lower, "model not found") ||
		strings.Contains(lower, "does not exist"):
		apiErr.Kind = ErrKindModelNotFound
	case strings.Contains(lower, "invalid api key") || strings.Contains(lower, "authentication") ||
		strings.Contains(lower, "api key not valid"):
		apiErr.Kind = ErrKindAuth
	case strings.Contains(lower, "rate limit") || strings.Contains(lower, "rate_limit") ||
		strings.Contains(lower, "quota"):
		apiErr.Kind = ErrKindRateLimited
		apiErr.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
	case strings.Contains(lower, "overloaded") || strings.Contains(lower, "timeout"):
		apiErr.Kind = ErrKindTransient
	default:
		apiErr.Kind = ErrKindFatal
	}

	return apiErr
}

// transportError wraps a network-level failure (connection refused, context
// deadline) as transient.
func transportError(provider string, err error) *APIError {
	return &APIError{
		Kind:     ErrKindTransient,
		Provider: provider,
		Message:  err.Error(),
	}
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(header, 64); err == nil && secs > 0 {
		return time.Duration(secs * float64(time.Second))
	}
	if t, err := http.ParseTime(header); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
