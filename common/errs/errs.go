// Package errs holds the error taxonomy shared by the pipeline layers.
//
// Callers classify with errors.Is / errors.As; anything not marked
// non-retryable is treated as transient and retried by the job queue.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks malformed input rejected before enqueueing.
	ErrValidation = errors.New("validation failed")
	// ErrConflict marks an idempotency key collision.
	ErrConflict = errors.New("conflict")
	// ErrNotFound marks a missing issue, customer or transaction.
	ErrNotFound = errors.New("not found")
	// ErrUnprocessable marks an invalid state transition request.
	ErrUnprocessable = errors.New("unprocessable")
	// ErrLockContention is returned when another worker holds the issue lease.
	ErrLockContention = errors.New("issue lock held by another worker")
)

// nonRetryableError wraps an error that must not be retried by the queue.
type nonRetryableError struct {
	err error
}

func (e *nonRetryableError) Error() string { return e.err.Error() }
func (e *nonRetryableError) Unwrap() error { return e.err }

// NonRetryable marks err as terminal for the job queue.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &nonRetryableError{err: err}
}

// IsNonRetryable reports whether err (or anything it wraps) was marked terminal.
func IsNonRetryable(err error) bool {
	var nr *nonRetryableError
	return errors.As(err, &nr)
}

func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func NotFound(what string, id any) error {
	return fmt.Errorf("%s %v: %w", what, id, ErrNotFound)
}

func Unprocessable(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnprocessable, fmt.Sprintf(format, args...))
}
