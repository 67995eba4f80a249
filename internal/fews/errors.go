package fews

import (
	"errors"
	"fmt"
)

// RetryableFetchError reports a transient failure: a transport error, an HTTP
// 429 or 5xx, or an open circuit breaker. The same page may be requested again
// after a backoff.
type RetryableFetchError struct {
	URL        string
	StatusCode int // zero when no response was received
	Err        error
}

func (e *RetryableFetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fews: transient failure fetching %s (HTTP %d): %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fews: transient failure fetching %s: %v", e.URL, e.Err)
}

func (e *RetryableFetchError) Unwrap() error { return e.Err }

// FatalFetchError reports a failure that retrying cannot fix: an HTTP 4xx
// other than 429, or a payload that is not a price page. The run must abort.
type FatalFetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FatalFetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fews: fetching %s failed (HTTP %d): %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fews: fetching %s failed: %v", e.URL, e.Err)
}

func (e *FatalFetchError) Unwrap() error { return e.Err }

// IsRetryable reports whether err contains a [RetryableFetchError].
func IsRetryable(err error) bool {
	var r *RetryableFetchError
	return errors.As(err, &r)
}

// IsFatal reports whether err contains a [FatalFetchError].
func IsFatal(err error) bool {
	var f *FatalFetchError
	return errors.As(err, &f)
}
