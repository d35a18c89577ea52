package retry

import (
	"errors"
	"fmt"
)

// ExhaustedError is returned when every attempt failed, or when the
// classifier could not classify the failure. It carries the number of
// attempts made and the last underlying error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry exhausted after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// NonRetryableError is returned when the classifier ruled the failure
// non-retryable; no further attempts were made.
type NonRetryableError struct {
	Attempts int
	Err      error
}

func (e *NonRetryableError) Error() string {
	return fmt.Sprintf("non-retryable error: %v", e.Err)
}

func (e *NonRetryableError) Unwrap() error { return e.Err }

// IsExhausted reports whether err wraps an ExhaustedError.
func IsExhausted(err error) bool {
	var e *ExhaustedError
	return errors.As(err, &e)
}

// IsNonRetryable reports whether err wraps a NonRetryableError.
func IsNonRetryable(err error) bool {
	var e *NonRetryableError
	return errors.As(err, &e)
}
