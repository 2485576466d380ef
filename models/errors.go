package models

import (
	"errors"
	"fmt"
)

// Common error types used throughout Subgate.
// These errors provide semantic meaning and enable consistent error handling
// across different layers (API, service, storage).

var (
	// ErrNotFound indicates the requested resource does not exist.
	// HTTP equivalent: 404 Not Found
	ErrNotFound = errors.New("resource not found")

	// ErrNodeNotFound indicates the requested node does not exist.
	// HTTP equivalent: 404 Not Found
	ErrNodeNotFound = fmt.Errorf("node %w", ErrNotFound)

	// ErrGroupNotFound indicates the requested group does not exist.
	// HTTP equivalent: 404 Not Found
	ErrGroupNotFound = fmt.Errorf("group %w", ErrNotFound)

	// ErrRouteNotFound indicates the requested route rule does not exist.
	// HTTP equivalent: 404 Not Found
	ErrRouteNotFound = fmt.Errorf("route rule %w", ErrNotFound)

	// ErrPlanNotFound indicates the requested plan does not exist.
	// HTTP equivalent: 404 Not Found
	ErrPlanNotFound = fmt.Errorf("plan %w", ErrNotFound)

	// ErrEntitlementNotFound indicates the user has no subscription.
	// HTTP equivalent: 404 Not Found
	ErrEntitlementNotFound = fmt.Errorf("subscription %w", ErrNotFound)

	// ErrUnauthorized indicates the request lacks valid authentication credentials.
	// HTTP equivalent: 401 Unauthorized
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidToken indicates a subscription token did not resolve to a subscription.
	// HTTP equivalent: 401 Unauthorized
	ErrInvalidToken = errors.New("invalid subscription token")

	// ErrInvalidNodeToken indicates the node token is incorrect.
	// HTTP equivalent: 401 Unauthorized
	ErrInvalidNodeToken = errors.New("invalid node token")

	// ErrBanned indicates the subscription owner is banned.
	// HTTP equivalent: 403 Forbidden
	ErrBanned = errors.New("subscription is banned")

	// ErrExpired indicates the subscription has passed its expiry time.
	// HTTP equivalent: 403 Forbidden
	ErrExpired = errors.New("subscription has expired")

	// ErrQuotaExceeded indicates the subscription has used its whole transfer quota.
	// HTTP equivalent: 403 Forbidden
	ErrQuotaExceeded = errors.New("subscription quota exceeded")

	// ErrInvalidRequest indicates the request body or parameters are invalid.
	// HTTP equivalent: 400 Bad Request
	ErrInvalidRequest = errors.New("invalid request")

	// ErrConfirmationRequired indicates a destructive operation was sent without confirm=true.
	// HTTP equivalent: 400 Bad Request
	ErrConfirmationRequired = fmt.Errorf("%w: confirmation required", ErrInvalidRequest)

	// ErrConflict indicates the resource already exists or was changed concurrently.
	// HTTP equivalent: 409 Conflict
	ErrConflict = errors.New("resource conflict")

	// ErrRateLimitExceeded indicates too many requests from this client.
	// HTTP equivalent: 429 Too Many Requests
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrStorageFailure indicates a database operation failed.
	// The cause is logged; clients only see this generic kind.
	// HTTP equivalent: 500 Internal Server Error
	ErrStorageFailure = errors.New("storage failure")
)

// ValidationError describes a single invalid field.
// errors.Is(err, ErrInvalidRequest) holds for every ValidationError.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", ErrInvalidRequest, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", ErrInvalidRequest, e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidRequest }

// Invalid builds a ValidationError for field.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// StorageError wraps a persistence error. The operation and cause are kept for
// logging while errors.Is(err, ErrStorageFailure) lets callers classify it.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrStorageFailure, e.Op, e.Err)
}

func (e *StorageError) Unwrap() []error { return []error{ErrStorageFailure, e.Err} }

// Storage wraps err as a StorageError for op. A nil err returns nil.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// ErrorResponse represents a standardized API error response.
type ErrorResponse struct {
	// Error is a machine readable error code (e.g. "not_found", "quota_exceeded")
	Error string `json:"error"`

	// Message is the human-readable error message
	Message string `json:"message"`

	// RequestID correlates the response with server logs
	RequestID string `json:"request_id,omitempty"`
}

// HealthResponse represents the response for health check endpoints.
type HealthResponse struct {
	// Status indicates the service health ("ok" or "degraded")
	Status string `json:"status"`

	// Timestamp is the current server time
	Timestamp string `json:"timestamp,omitempty"`
}
