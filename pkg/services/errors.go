// Package services provides standardized error types for service layer operations.
package services

import (
	"errors"
	"fmt"
)

// Business Logic Errors - These indicate client errors (4xx responses).
var (
	// Validation Errors (400 Bad Request).
	ErrInvalidRequest      = errors.New("invalid request")
	ErrWorkflowNil         = errors.New("workflow cannot be nil")
	ErrWorkflowRequired    = errors.New("workflowId or workflow is required")
	ErrWorkflowIDMismatch  = errors.New("workflow id does not match the path")
	ErrNodeIDsRequired     = errors.New("at least one node id is required")
	ErrUnknownNode         = errors.New("unknown node")
	ErrCredentialFields    = errors.New("credential needs at least one non-empty field")
	ErrInvalidGraphRequest = errors.New("invalid graph request")

	// Business Logic Conflicts (409 Conflict).
	ErrExecutionNotPaused  = errors.New("execution is not paused")
	ErrExecutionNotRunning = errors.New("execution is not running")
	ErrExecutionRunning    = errors.New("execution is already running")

	// Unavailable features (503 Service Unavailable).
	ErrCredentialsDisabled = errors.New("credential storage is not configured")
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrWorkflowNil) ||
		errors.Is(err, ErrWorkflowRequired) ||
		errors.Is(err, ErrWorkflowIDMismatch) ||
		errors.Is(err, ErrNodeIDsRequired) ||
		errors.Is(err, ErrUnknownNode) ||
		errors.Is(err, ErrCredentialFields) ||
		errors.Is(err, ErrInvalidGraphRequest)
}

// IsConflictError checks if an error is a business logic conflict that should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrExecutionNotPaused) ||
		errors.Is(err, ErrExecutionNotRunning) ||
		errors.Is(err, ErrExecutionRunning)
}

// IsUnavailableError reports features disabled by configuration (HTTP 503).
func IsUnavailableError(err error) bool {
	return errors.Is(err, ErrCredentialsDisabled)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewConflictError creates a new conflict error with context.
func NewConflictError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}
