package domain

import "errors"

var (
	// ErrJobAlreadyClaimed is returned when another worker holds the job or
	// the job is already terminal.
	ErrJobAlreadyClaimed = errors.New("job already claimed or not in progress")

	// ErrResultNotFound is returned when a program has no stored verdict.
	ErrResultNotFound = errors.New("verified result not found")
)

// RetryableError wraps transient errors that should trigger a requeue
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
