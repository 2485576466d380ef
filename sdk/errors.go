package sdk

import (
	"errors"
	"fmt"
	"net/http"
)

// Common SDK errors that clients can check for specific error handling.
var (
	// ErrInvalidConfig indicates the client configuration is invalid or incomplete.
	ErrInvalidConfig = errors.New("invalid client configuration")

	// ErrNoBaseURLs indicates no server URLs were provided.
	ErrNoBaseURLs = errors.New("no base URLs provided")

	// ErrAllInstancesFailed indicates every configured server was unreachable.
	ErrAllInstancesFailed = errors.New("all server instances failed")

	// ErrUnauthorized indicates the node token was rejected.
	ErrUnauthorized = errors.New("unauthorized: invalid credentials")

	// ErrNotFound indicates the requested resource does not exist.
	ErrNotFound = errors.New("resource not found")

	// ErrRateLimited indicates the request was rate limited by the server.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrServerError indicates an internal server error occurred.
	ErrServerError = errors.New("internal server error")

	// ErrBadRequest indicates the request was malformed or invalid.
	ErrBadRequest = errors.New("bad request")

	// ErrConflict indicates the request conflicts with existing state.
	ErrConflict = errors.New("conflict with existing resource")

	// ErrMissingAuth indicates required authentication credentials were not provided.
	ErrMissingAuth = errors.New("missing authentication credentials")
)

// APIError is a non-2xx response decoded from the server's error body.
// It unwraps to the sentinel matching its status code.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	RequestID  string
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if e.RequestID != "" {
		return fmt.Sprintf("subgate: %d %s: %s (request %s)", e.StatusCode, e.Code, msg, e.RequestID)
	}
	return fmt.Sprintf("subgate: %d %s: %s", e.StatusCode, e.Code, msg)
}

func (e *APIError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	case e.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case e.StatusCode == http.StatusConflict:
		return ErrConflict
	case e.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	case e.StatusCode >= 500:
		return ErrServerError
	case e.StatusCode >= 400:
		return ErrBadRequest
	}
	return nil
}

// retryable reports whether another attempt could succeed.
func (e *APIError) retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}
