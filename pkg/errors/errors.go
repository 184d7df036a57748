// Package errors defines unified error types for MemoryHub operations.
// Storage, embedding, and trust failures are all mapped to these standard
// error types so callers can branch on kind rather than on message text.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// HubError represents a standardized error from a MemoryHub component.
// It contains all necessary information for error handling, logging, and client response.
type HubError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Type       string `json:"type"`
	Component  string `json:"component,omitempty"`
	Retryable  bool   `json:"-"`
}

// Error implements the error interface.
func (e *HubError) Error() string {
	if e.Component != "" {
		return fmt.Sprintf("[%s] %s (component=%s, code=%d)", e.Type, e.Message, e.Component, e.StatusCode)
	}
	return fmt.Sprintf("[%s] %s (code=%d)", e.Type, e.Message, e.StatusCode)
}

// HTTPStatusCode returns the appropriate HTTP status code for the error.
func (e *HubError) HTTPStatusCode() int {
	if e.StatusCode > 0 {
		return e.StatusCode
	}
	return http.StatusInternalServerError
}

// Common error types as constants for consistency.
const (
	TypeNotFound           = "not_found_error"
	TypeConflict           = "conflict_error"
	TypeStorageUnavailable = "storage_unavailable_error"
	TypeIndexUnavailable   = "index_unavailable_error"
	TypeUnauthorized       = "authentication_error"
	TypeForbidden          = "authorization_error"
	TypeValidation         = "invalid_request_error"
	TypeInternal           = "internal_error"
)

// NewNotFoundError creates a not found error (404).
func NewNotFoundError(component, message string) *HubError {
	return &HubError{
		StatusCode: http.StatusNotFound,
		Message:    message,
		Type:       TypeNotFound,
		Component:  component,
		Retryable:  false,
	}
}

// NewConflictError creates a duplicate-id conflict error (409).
func NewConflictError(component, message string) *HubError {
	return &HubError{
		StatusCode: http.StatusConflict,
		Message:    message,
		Type:       TypeConflict,
		Component:  component,
		Retryable:  false,
	}
}

// NewStorageUnavailableError creates a backing-store failure error (503).
// The component names which half of the storage layer failed (e.g. "redis", "postgres").
func NewStorageUnavailableError(component, message string) *HubError {
	return &HubError{
		StatusCode: http.StatusServiceUnavailable,
		Message:    message,
		Type:       TypeStorageUnavailable,
		Component:  component,
		Retryable:  true,
	}
}

// NewIndexUnavailableError creates a similarity-index failure error (503).
func NewIndexUnavailableError(component, message string) *HubError {
	return &HubError{
		StatusCode: http.StatusServiceUnavailable,
		Message:    message,
		Type:       TypeIndexUnavailable,
		Component:  component,
		Retryable:  true,
	}
}

// NewUnauthorizedError creates an authentication error (401).
// The message is deliberately terse; scoring internals are never leaked.
func NewUnauthorizedError(message string) *HubError {
	return &HubError{
		StatusCode: http.StatusUnauthorized,
		Message:    message,
		Type:       TypeUnauthorized,
		Retryable:  false,
	}
}

// NewForbiddenError creates an authorization error (403).
func NewForbiddenError(message string) *HubError {
	return &HubError{
		StatusCode: http.StatusForbidden,
		Message:    message,
		Type:       TypeForbidden,
		Retryable:  false,
	}
}

// NewValidationError creates a malformed-request error (400).
func NewValidationError(message string) *HubError {
	return &HubError{
		StatusCode: http.StatusBadRequest,
		Message:    message,
		Type:       TypeValidation,
		Retryable:  false,
	}
}

// NewInternalError creates an internal server error (500).
func NewInternalError(component, message string) *HubError {
	return &HubError{
		StatusCode: http.StatusInternalServerError,
		Message:    message,
		Type:       TypeInternal,
		Component:  component,
		Retryable:  false,
	}
}

// IsNotFound reports whether err is a NotFound HubError.
func IsNotFound(err error) bool { return isType(err, TypeNotFound) }

// IsConflict reports whether err is a Conflict HubError.
func IsConflict(err error) bool { return isType(err, TypeConflict) }

// IsStorageUnavailable reports whether err is a StorageUnavailable HubError.
func IsStorageUnavailable(err error) bool { return isType(err, TypeStorageUnavailable) }

// IsIndexUnavailable reports whether err is an IndexUnavailable HubError.
func IsIndexUnavailable(err error) bool { return isType(err, TypeIndexUnavailable) }

// IsUnauthorized reports whether err is an Unauthorized HubError.
func IsUnauthorized(err error) bool { return isType(err, TypeUnauthorized) }

// IsForbidden reports whether err is a Forbidden HubError.
func IsForbidden(err error) bool { return isType(err, TypeForbidden) }

// IsRetryable reports whether err can be retried with backoff.
func IsRetryable(err error) bool {
	var he *HubError
	if errors.As(err, &he) {
		return he.Retryable
	}
	return false
}

func isType(err error, t string) bool {
	var he *HubError
	if errors.As(err, &he) {
		return he.Type == t
	}
	return false
}
