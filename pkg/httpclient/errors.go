package httpclient

import (
	"errors"
	"fmt"
	"time"
)

// RetryableError captures a failed HTTP attempt that was (or could be)
// retried, keeping the status and suggested backoff for callers.
type RetryableError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *RetryableError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
	}
	return e.Message
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err indicates a transient condition.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}
