package session

import "fmt"

// NetworkError reports a transport-level failure: DNS, TLS, connection
// refused, or a mid-body read error.
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error requesting %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// TimeoutError reports that a request exceeded the session deadline.
type TimeoutError struct {
	URL string
	Err error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out requesting %s: %v", e.URL, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }
