package canfar

import (
	"errors"
	"fmt"
)

// Sentinel errors for session service operations.
var (
	// ErrSessionNotFound indicates the session does not exist (deleted or expired).
	ErrSessionNotFound = errors.New("session not found")

	// ErrUnauthorized indicates authentication or authorization failed.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrThrottled indicates the request was rate limited by the service.
	ErrThrottled = errors.New("request throttled")

	// ErrUnavailable indicates the session service is unreachable or returned
	// a server-side error.
	ErrUnavailable = errors.New("session service unavailable")

	// ErrMalformedResponse indicates the service responded with a body that
	// could not be decoded.
	ErrMalformedResponse = errors.New("malformed response")
)

// APIError wraps session service errors with operation context.
type APIError struct {
	// Op is the operation that failed (e.g., "List", "Info").
	Op string

	// SessionID is the session id, if applicable.
	SessionID string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.SessionID != "" {
		return fmt.Sprintf("canfar %s: %s: %v", e.Op, e.SessionID, e.Err)
	}
	return fmt.Sprintf("canfar %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *APIError) Unwrap() error {
	return e.Err
}

// IsNotFound returns true if the error indicates the session does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrSessionNotFound)
}

// IsRemoteOutage returns true if the error indicates the session service
// could not be trusted as a source of ground truth: unreachable, failing,
// rejecting credentials, throttling, or answering with garbage.
//
// Context cancellation is deliberately excluded so caller-side aborts and
// programming defects are never misread as a remote outage.
func IsRemoteOutage(err error) bool {
	return errors.Is(err, ErrUnavailable) ||
		errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrThrottled) ||
		errors.Is(err, ErrMalformedResponse)
}
