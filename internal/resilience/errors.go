package resilience

import "errors"

// Common retry-related errors.
var (
	// ErrMaxRetriesExceeded is returned when all retry attempts are exhausted.
	ErrMaxRetriesExceeded = errors.New("maximum retry attempts exceeded")

	// ErrNonRetryable marks an error as explicitly non-retryable.
	ErrNonRetryable = errors.New("error is not retryable")
)
