package domain

import (
	"errors"
	"fmt"
)

// Common domain errors used across the application.
var (
	// ErrEmptyURL is returned when a submission is attempted without a
	// content URL. Validation errors are never retried.
	ErrEmptyURL = errors.New("url cannot be empty")

	// ErrNoIdentity is returned when neither a guest nor an authenticated
	// identity is available to attach to a request.
	ErrNoIdentity = errors.New("no session identity available")

	// ErrJobNotOwned is returned when the remote service refuses access to
	// a job because the calling identity does not own it. Fatal for the
	// job in question: it is never resumed.
	ErrJobNotOwned = errors.New("job not owned by current identity")

	// ErrPollTimeout is returned when the polling attempt budget is
	// exhausted without observing a terminal state. The remote job may
	// still be running and remains eligible for recovery on a later start.
	ErrPollTimeout = errors.New("polling attempt budget exhausted")

	// ErrAlreadyPolling is reported (not returned) when a poller start is
	// ignored because another poller already tracks the same job.
	ErrAlreadyPolling = errors.New("job is already being polled")
)

// RemoteError represents a non-2xx response from the analysis service.
// It carries the HTTP status and the service's own error message so
// callers can surface it without guessing. Remote errors are not retried
// automatically outside the polling loop.
type RemoteError struct {
	StatusCode int
	Message    string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote service returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("remote service returned status %d: %s", e.StatusCode, e.Message)
}

// IsRemoteError reports whether err is (or wraps) a RemoteError. Errors
// that are not remote errors during polling are treated as transient
// network failures and consume a retry attempt instead of failing the job.
func IsRemoteError(err error) bool {
	var re *RemoteError
	return errors.As(err, &re)
}
