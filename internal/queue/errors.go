package queue

import (
	"errors"
	"fmt"
)

// Queue errors.
var (
	ErrItemNotFound     = errors.New("queue item not found")
	ErrInvalidState     = errors.New("invalid queue item state")
	ErrInvalidStatus    = errors.New("invalid queue status")
	ErrInvalidPriority  = errors.New("priority must be between 1 and 5")
	ErrInvalidRetention = errors.New("days to keep must be positive")
	ErrAlreadyQueued    = errors.New("notification already has an active queue item")
)

// ErrAlreadyClaimed is the benign outcome of a lost claim race.
var ErrAlreadyClaimed = fmt.Errorf("%w: already claimed", ErrInvalidState)

// ErrLeaseLost is returned by Repository.Settle when the lease conditions no longer hold.
var ErrLeaseLost = errors.New("lease no longer held")

// RetryableError wraps a send error and marks it as retryable or not.
type RetryableError struct {
	Err       error
	Retryable bool
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

// IsRetryable returns whether the error is retryable.
func (e *RetryableError) IsRetryable() bool {
	return e.Retryable
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a retryable error.
func NewRetryableError(err error) *RetryableError {
	return &RetryableError{Err: err, Retryable: true}
}

// NewNonRetryableError creates a non-retryable error.
func NewNonRetryableError(err error) *RetryableError {
	return &RetryableError{Err: err, Retryable: false}
}

// IsRetryable checks if an error is retryable.
// Errors that do not classify themselves are treated as transient.
func IsRetryable(err error) bool {
	type retryable interface {
		IsRetryable() bool
	}
	var r retryable
	if errors.As(err, &r) {
		return r.IsRetryable()
	}
	return true
}
