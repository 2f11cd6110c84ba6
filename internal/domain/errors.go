package domain

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

var (
	// ErrRunnerNotFound is returned when no credential record exists for a runner id.
	ErrRunnerNotFound = errors.New("runner not found")
	// ErrTokenRefreshFailed wraps an upstream failure while refreshing an access token.
	ErrTokenRefreshFailed = errors.New("token refresh failed")
	// ErrUpstreamAuth is returned when the OAuth token endpoint rejects a grant.
	ErrUpstreamAuth = errors.New("upstream auth error")
	// ErrUpstreamFetch is returned when an activities endpoint answers with a non-success status.
	ErrUpstreamFetch = errors.New("upstream fetch error")
	// ErrActivityNotFound is returned when the upstream reports a single activity as absent.
	ErrActivityNotFound = errors.New("activity not found")
	// ErrMalformedUpstreamResponse is returned when an upstream body violates its schema.
	ErrMalformedUpstreamResponse = errors.New("malformed upstream response")
	// ErrMalformedEvent is returned when a webhook payload violates its schema.
	ErrMalformedEvent = errors.New("malformed webhook event")
	// ErrStore wraps persistence-layer failures.
	ErrStore = errors.New("store error")
	// ErrUnauthorized is returned when a trigger caller cannot be authenticated.
	ErrUnauthorized = errors.New("unauthorized")
)

// MaxErrorBodySize bounds the upstream body kept on an UpstreamError.
const MaxErrorBodySize = 500

// UpstreamError carries the upstream status and response body for a failed call.
// It unwraps to its Kind so callers can match with errors.Is.
type UpstreamError struct {
	Kind       error
	Op         string
	StatusCode int
	Body       string
}

// NewUpstreamError builds an UpstreamError, truncating the body.
func NewUpstreamError(kind error, op string, status int, body []byte) *UpstreamError {
	text := string(body)
	if len(text) > MaxErrorBodySize {
		cut := MaxErrorBodySize
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut] + "..."
	}
	return &UpstreamError{Kind: kind, Op: op, StatusCode: status, Body: text}
}

func (e *UpstreamError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%v: %s (status %d): %s", e.Kind, e.Op, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%v: %s (status %d)", e.Kind, e.Op, e.StatusCode)
}

func (e *UpstreamError) Unwrap() error {
	return e.Kind
}

// StoreFailure wraps a persistence error with ErrStore and the failing operation.
func StoreFailure(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStore) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrStore, op, err)
}
