package core

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors for handling decisions.
type ErrorCategory string

const (
	ErrCatValidation ErrorCategory = "validation" // Invalid input
	ErrCatExecution  ErrorCategory = "execution"  // Runtime failure
	ErrCatTimeout    ErrorCategory = "timeout"    // Operation timed out
	ErrCatRateLimit  ErrorCategory = "rate_limit" // API rate limited
	ErrCatState      ErrorCategory = "state"      // State corruption/conflict
	ErrCatAuth       ErrorCategory = "auth"       // Authentication failure
	ErrCatNetwork    ErrorCategory = "network"    // Network connectivity
	ErrCatNotFound   ErrorCategory = "not_found"  // Resource not found
	ErrCatConflict   ErrorCategory = "conflict"   // Concurrent modification
	ErrCatInternal   ErrorCategory = "internal"   // Unexpected internal error
)

// DomainError represents a structured error from the domain layer.
type DomainError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Retryable bool
	Cause     error
	Details   map[string]interface{}
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (%v)", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches a target.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Category == t.Category && e.Code == t.Code
}

// WithCause wraps an underlying error.
func (e *DomainError) WithCause(cause error) *DomainError {
	e.Cause = cause
	return e
}

// WithDetail adds contextual information.
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ErrValidation creates a validation error.
func ErrValidation(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatValidation,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// ErrExecution creates an execution error.
func ErrExecution(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatExecution,
		Code:      code,
		Message:   message,
		Retryable: true,
	}
}

// ErrTimeout creates a timeout error.
func ErrTimeout(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatTimeout,
		Code:      "TIMEOUT",
		Message:   message,
		Retryable: true,
	}
}

// ErrRateLimit creates a rate limit error.
func ErrRateLimit(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatRateLimit,
		Code:      "RATE_LIMITED",
		Message:   message,
		Retryable: true,
	}
}

// ErrState creates a state error.
func ErrState(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatState,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// ErrAuth creates an authentication error.
func ErrAuth(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatAuth,
		Code:      "AUTH_FAILED",
		Message:   message,
		Retryable: false,
	}
}

// ErrNotFound creates a not found error.
func ErrNotFound(resource, id string) *DomainError {
	return &DomainError{
		Category:  ErrCatNotFound,
		Code:      "NOT_FOUND",
		Message:   fmt.Sprintf("%s not found: %s", resource, id),
		Retryable: false,
	}
}

// ErrConflict creates a conflict error.
func ErrConflict(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatConflict,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// ErrInvalidReference is returned when a reference is appended to a step
// but its target does not exist or is not strictly earlier in the sequence.
func ErrInvalidReference(stepID StepID, ref Reference, reason string) *DomainError {
	return &DomainError{
		Category:  ErrCatValidation,
		Code:      CodeInvalidReference,
		Message:   fmt.Sprintf("step %s cannot reference %s %q: %s", stepID, ref.Kind, ref.TargetID, reason),
		Retryable: false,
		Details: map[string]interface{}{
			"step_id":   string(stepID),
			"kind":      string(ref.Kind),
			"target_id": ref.TargetID,
		},
	}
}

// ErrUnresolvedReference reports a reference whose target no longer exists.
func ErrUnresolvedReference(stepID StepID, ref Reference) *DomainError {
	return &DomainError{
		Category:  ErrCatValidation,
		Code:      CodeUnresolvedReference,
		Message:   fmt.Sprintf("step %s: %s %q no longer exists", stepID, ref.Kind, ref.TargetID),
		Retryable: false,
		Details: map[string]interface{}{
			"step_id":   string(stepID),
			"kind":      string(ref.Kind),
			"target_id": ref.TargetID,
		},
	}
}

// ErrOrderViolation is returned when a reordering would place a step
// before a step whose output it consumes.
func ErrOrderViolation(stepID StepID, outputID string) *DomainError {
	return &DomainError{
		Category:  ErrCatValidation,
		Code:      CodeOrderViolation,
		Message:   fmt.Sprintf("step %s would run before the producer of %s", stepID, outputID),
		Retryable: false,
		Details: map[string]interface{}{
			"step_id":   string(stepID),
			"output_id": outputID,
		},
	}
}

// ErrService wraps a failure of the generation backend for one step.
func ErrService(stepID StepID, cause error) *DomainError {
	return &DomainError{
		Category:  ErrCatExecution,
		Code:      CodeServiceError,
		Message:   fmt.Sprintf("generation failed for step %s", stepID),
		Retryable: true,
		Cause:     cause,
		Details: map[string]interface{}{
			"step_id": string(stepID),
		},
	}
}

// ErrRunAlreadyInProgress is returned when a run is requested for a
// workflow that already has one running.
func ErrRunAlreadyInProgress(workflowID WorkflowID) *DomainError {
	return &DomainError{
		Category:  ErrCatConflict,
		Code:      CodeRunAlreadyInProgress,
		Message:   fmt.Sprintf("workflow %s already has a run in progress", workflowID),
		Retryable: false,
		Details: map[string]interface{}{
			"workflow_id": string(workflowID),
		},
	}
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Retryable
	}
	return false
}

// GetCategory extracts the error category.
func GetCategory(err error) ErrorCategory {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Category
	}
	return ErrCatInternal
}

// IsCategory checks if an error belongs to a category.
func IsCategory(err error, cat ErrorCategory) bool {
	return GetCategory(err) == cat
}

// IsCode reports whether err is, or wraps, a DomainError with the given code.
func IsCode(err error, code string) bool {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Code == code
	}
	return false
}

// Predefined error codes
const (
	CodeWorkflowNotFound = "WORKFLOW_NOT_FOUND"
	CodeStepNotFound     = "STEP_NOT_FOUND"
	CodeFileNotFound     = "FILE_NOT_FOUND"
	CodeInvalidState     = "INVALID_STATE"
	CodeStateCorrupted   = "STATE_CORRUPTED"
	CodeCancelled        = "CANCELLED"

	// Validation error codes
	CodeInvalidReference    = "INVALID_REFERENCE"
	CodeUnresolvedReference = "UNRESOLVED_REFERENCE"
	CodeOrderViolation      = "ORDER_VIOLATION"
	CodeDuplicateOutput     = "DUPLICATE_OUTPUT"
	CodeInvalidRecord       = "INVALID_RECORD"
	CodeInvalidFileName     = "INVALID_FILE_NAME"
	CodeFileExists          = "FILE_EXISTS"
	CodeFileTooLarge        = "FILE_TOO_LARGE"
	CodeEmptyPrompt         = "EMPTY_PROMPT"
	CodePromptTooLong       = "PROMPT_TOO_LONG"
	CodeInvalidConfig       = "INVALID_CONFIG"
	CodeGraphCycle          = "CYCLE_DETECTED"

	// Execution error codes
	CodeServiceError         = "SERVICE_ERROR"
	CodeRunAlreadyInProgress = "RUN_ALREADY_IN_PROGRESS"
)

// MaxPromptLength is the maximum allowed prompt length.
const MaxPromptLength = 100000
