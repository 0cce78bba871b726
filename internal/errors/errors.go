package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a Canopy error code.
type ErrorCode string

const (
	ErrInvalidRequest      ErrorCode = "INVALID_REQUEST"       // 400
	ErrAgentAuth           ErrorCode = "AGENT_AUTH"            // 401
	ErrNotFound            ErrorCode = "NOT_FOUND"             // 404
	ErrStale               ErrorCode = "STALE_RESPONSE"        // 409
	ErrNoRenderableContent ErrorCode = "NO_RENDERABLE_CONTENT" // 422
	ErrCancelled           ErrorCode = "CANCELLED"             // 499
	ErrInternal            ErrorCode = "INTERNAL"              // 500
	ErrAgentUnavailable    ErrorCode = "AGENT_UNAVAILABLE"     // 502
	ErrPersistence         ErrorCode = "PERSISTENCE"           // 503
)

// CanopyError represents a structured error with code, status, and details.
type CanopyError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
	cause   error
}

// Error implements the error interface.
func (e *CanopyError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *CanopyError) Unwrap() error {
	return e.cause
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *CanopyError {
	return &CanopyError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewNotFound creates a 404 error for when a node cannot be found.
func NewNotFound(identifier string) *CanopyError {
	return &CanopyError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("node not found: %s", identifier),
		Details: map[string]any{"identifier": identifier},
	}
}

// NewFileNotFound creates a 404 error for a missing local file (import/restore).
func NewFileNotFound(path string) *CanopyError {
	return &CanopyError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("file not found: %s", path),
		Details: map[string]any{"path": path},
	}
}

// NewNoRenderableContent creates a 422 error when no preview entry point exists.
func NewNoRenderableContent() *CanopyError {
	return &CanopyError{
		Code:    ErrNoRenderableContent,
		Status:  422,
		Message: "no HTML content available",
	}
}

// NewAgentAuth creates a 401 error for a rejected agent credential.
func NewAgentAuth(err error) *CanopyError {
	return &CanopyError{
		Code:    ErrAgentAuth,
		Status:  401,
		Message: "the API key is invalid or expired",
		cause:   err,
	}
}

// NewAgentUnavailable creates a 502 error for network, quota or provider failures.
func NewAgentUnavailable(err error) *CanopyError {
	return &CanopyError{
		Code:    ErrAgentUnavailable,
		Status:  502,
		Message: "agent connection failed; check your network or API quota",
		cause:   err,
	}
}

// NewStale creates a 409 error for an agent response superseded by a newer request.
func NewStale(generation, latest uint64) *CanopyError {
	return &CanopyError{
		Code:    ErrStale,
		Status:  409,
		Message: fmt.Sprintf("response for request %d superseded by request %d", generation, latest),
		Details: map[string]any{"generation": generation, "latest": latest},
	}
}

// NewPersistence creates a 503 error when the store is unavailable or rejects a write.
func NewPersistence(op string, err error) *CanopyError {
	msg := op + " failed"
	if err != nil {
		msg = fmt.Sprintf("%s failed: %v", op, err)
	}
	return &CanopyError{
		Code:    ErrPersistence,
		Status:  503,
		Message: msg,
		Details: map[string]any{"op": op},
		cause:   err,
	}
}

// NewCancelled creates a 499 error when an operation's context is cancelled.
func NewCancelled(op string) *CanopyError {
	return &CanopyError{
		Code:    ErrCancelled,
		Status:  499,
		Message: fmt.Sprintf("%s cancelled", op),
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *CanopyError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &CanopyError{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
		cause:   err,
	}
}

// Is checks if an error is (or wraps) a CanopyError with the given code.
func Is(err error, code ErrorCode) bool {
	var cErr *CanopyError
	if stderrors.As(err, &cErr) {
		return cErr.Code == code
	}
	return false
}

// As extracts a CanopyError from err, wrapping unknown errors as internal.
func As(err error) *CanopyError {
	var cErr *CanopyError
	if stderrors.As(err, &cErr) {
		return cErr
	}
	return NewInternal(err)
}
