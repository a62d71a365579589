package client

import (
	"errors"
	"fmt"
)

var (
	// ErrClientClosed is returned for calls made before Open or after Close.
	ErrClientClosed = errors.New("client is closed")
	// ErrUnsupportedMethod is returned for methods other than GET and POST.
	ErrUnsupportedMethod = errors.New("unsupported method")
)

// ConnectionError reports a remote that could not be reached at all.
type ConnectionError struct {
	Service string
	URL     string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s: connection to %s failed: %v", e.Service, e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// TimeoutError reports an attempt that exceeded the client timeout or the
// caller's deadline.
type TimeoutError struct {
	Service string
	URL     string
	Err     error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: request to %s timed out: %v", e.Service, e.URL, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// StatusError reports a non-2xx response.
type StatusError struct {
	Service    string
	URL        string
	StatusCode int
	Body       string // truncated response body
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: %s returned HTTP %d", e.Service, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s returned HTTP %d: %s", e.Service, e.URL, e.StatusCode, e.Body)
}

// IsTransport reports whether err is one of the transport-level failures the
// retry policy applies to.
func IsTransport(err error) bool {
	var (
		ce *ConnectionError
		te *TimeoutError
		se *StatusError
	)
	return errors.As(err, &ce) || errors.As(err, &te) || errors.As(err, &se)
}
