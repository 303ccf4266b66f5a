package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// FetchError wraps every failure to download a year's archive: transport
// errors, non-2xx responses and truncated bodies. No bytes are returned with it.
type FetchError struct {
	Year       int    // Year whose archive was requested
	URL        string // Requested URL
	StatusCode int    // HTTP status code, 0 when no response was received
	Err        error  // Underlying error
}

func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("fetch %d (HTTP %d): %v", e.Year, e.StatusCode, e.Err)
	}

	return fmt.Sprintf("fetch %d: %v", e.Year, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the request hit a deadline.
func (e *FetchError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error

	return errors.As(e.Err, &netErr) && netErr.Timeout()
}

// Retryable reports whether a later attempt could succeed. Nothing in this
// package retries; the classification is for callers.
func (e *FetchError) Retryable() bool {
	if e.Timeout() {
		return true
	}

	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// ErrUnexpectedStatus is wrapped by FetchError for non-2xx responses.
var ErrUnexpectedStatus = errors.New("unexpected status")
