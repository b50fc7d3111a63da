package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrRunNotFound is returned when an import run cannot be found
	ErrRunNotFound = errors.New("import run not found")

	// ErrRunTerminal is returned when mutating a run that is already COMPLETED or FAILED
	ErrRunTerminal = errors.New("import run is in a terminal state")

	// ErrFetchedConflict is returned when total_fetched is set twice with different values
	ErrFetchedConflict = errors.New("import run total fetched already set to a different value")

	// ErrOutcomeOverflow is returned when a batch outcome would push processed counts past total fetched
	ErrOutcomeOverflow = errors.New("batch outcome exceeds total fetched")

	// ErrSourceNotFound is returned when a source cannot be found
	ErrSourceNotFound = errors.New("source not found")

	// ErrSourceExists is returned when creating a source whose URL is already registered
	ErrSourceExists = errors.New("source already exists")

	// ErrJobRejected is returned when storage refuses a single job record (constraint or data error)
	ErrJobRejected = errors.New("job record rejected")

	// ErrInvalidPayload is returned when a queued batch cannot be decoded
	ErrInvalidPayload = errors.New("invalid batch payload")

	// ErrSweepInProgress is returned when a sweep is requested while another is running
	ErrSweepInProgress = errors.New("sweep already in progress")
)

// FetchError reports a failure to reach a feed (network, timeout, bad status)
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// FormatError reports a feed body that is neither RSS/XML nor JSON
type FormatError struct {
	Reason string
	Err    error
}

func (e *FormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("format error: %s: %v", e.Reason, e.Err)
	}
	return "format error: " + e.Reason
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

// ValidationError reports a canonical job missing a required field
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// RetryableError wraps transient errors that should trigger a redelivery
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}

// IsRetryable reports whether err is marked as retryable
func IsRetryable(err error) bool {
	var retryableErr *RetryableError
	return errors.As(err, &retryableErr)
}
