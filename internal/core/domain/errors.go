package domain

import (
	"fmt"
	"net/http"
)

// TransportError wraps a network or connection failure.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport error: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// HTTPError is a non-200 response from the remote API.
type HTTPError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s: status %d, body: %s", e.Op, e.StatusCode, e.Body)
}

// RateLimited reports whether the remote asked us to slow down.
func (e *HTTPError) RateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// MalformedInputError is an input line or response body that could not be parsed.
type MalformedInputError struct {
	Input string
	Err   error
}

func (e *MalformedInputError) Error() string {
	return fmt.Sprintf("malformed input %q: %v", e.Input, e.Err)
}

func (e *MalformedInputError) Unwrap() error { return e.Err }

// RemoteStatusError means the API reported Failed or a status we do not recognise.
type RemoteStatusError struct {
	RequestID string
	Status    string
}

func (e *RemoteStatusError) Error() string {
	return fmt.Sprintf("request %s: remote status %q", e.RequestID, e.Status)
}

// RetryExhaustedError means polling ran out of attempts while the result was still in progress.
type RetryExhaustedError struct {
	RequestID string
	Attempts  int
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("request %s: not ready after %d status checks", e.RequestID, e.Attempts)
}
