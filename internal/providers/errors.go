package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
)

// AuthenticationError means credentials are missing or rejected. Never
// retried; the fix is configuration, not time.
type AuthenticationError struct {
	Provider string
	Reason   string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("%s: authentication failed: %s", e.Provider, e.Reason)
}

// TimeoutError means the configured call budget elapsed before a complete
// response arrived.
type TimeoutError struct {
	Provider string
	Err      error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: timed out: %v", e.Provider, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// UpstreamError carries a non-2xx provider response, or a transport failure
// when StatusCode is zero.
type UpstreamError struct {
	Provider       string
	StatusCode     int
	Body           string
	RetryAfterSecs int
}

func (e *UpstreamError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: upstream unreachable: %s", e.Provider, e.Body)
	}
	return fmt.Sprintf("%s: upstream error (status %d): %s", e.Provider, e.StatusCode, e.Body)
}

// Transient reports whether retrying could plausibly succeed: rate limits,
// server errors, and transport failures. Other 4xx are permanent.
func (e *UpstreamError) Transient() bool {
	return e.StatusCode == 0 || e.StatusCode == 429 || e.StatusCode >= 500
}

// ParseRetryAfter records a Retry-After header value in seconds. Non-numeric
// values are ignored.
func (e *UpstreamError) ParseRetryAfter(v string) {
	if v == "" {
		return
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		e.RetryAfterSecs = secs
	}
}

// Retryable classifies an adapter error for the pipeline's retry loop.
// Timeouts and transient upstream failures are retryable; authentication and
// permanent upstream errors are not.
func Retryable(err error) bool {
	var te *TimeoutError
	if errors.As(err, &te) {
		return true
	}
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Transient()
	}
	return false
}

// AuthFromStatus converts 401/403 upstream responses into AuthenticationError
// so the pipeline never retries a rejected credential.
func AuthFromStatus(provider string, err error) error {
	var ue *UpstreamError
	if errors.As(err, &ue) && (ue.StatusCode == 401 || ue.StatusCode == 403) {
		return &AuthenticationError{Provider: provider, Reason: ue.Body}
	}
	return err
}

// wrapTransport converts an http.Client error into the taxonomy.
func wrapTransport(provider string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Provider: provider, Err: err}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &TimeoutError{Provider: provider, Err: err}
	}
	return &UpstreamError{Provider: provider, StatusCode: 0, Body: err.Error()}
}
