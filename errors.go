package actionflow

import (
	"errors"
	"fmt"
)

// Error codes for specific failure types
const (
	ErrCodePlanning      = "PLANNING_ERROR"
	ErrCodeDeadlock      = "DEADLOCK"
	ErrCodeToolNotFound  = "TOOL_NOT_FOUND"
	ErrCodeToolExecution = "TOOL_EXECUTION_ERROR"
	ErrCodeExtraction    = "EXTRACTION_ERROR"
	ErrCodeValidation    = "VALIDATION_ERROR"
	ErrCodeUpstream      = "UPSTREAM_FAILED"
	ErrCodeConfiguration = "CONFIGURATION_ERROR"
	ErrCodeCancelled     = "EXECUTION_CANCELLED"
	ErrCodeTimeout       = "EXECUTION_TIMEOUT"
	ErrCodeRecorder      = "RECORDER_ERROR"
	ErrCodeCache         = "CACHE_ERROR"
	ErrCodeInternal      = "INTERNAL_ERROR"
)

// Stages reported on errors.
const (
	StageIngest     = "ingest"
	StageClassify   = "classify"
	StageExecution  = "execution"
	StageExtraction = "extraction"
	StageInvocation = "invocation"
	StageRecording  = "recording"
	StageInit       = "initialization"
)

// Error is the error type returned by every actionflow component.
type Error struct {
	Code    string // A machine-readable error code (e.g., ErrCodeToolNotFound)
	Message string // A human-readable message
	Stage   string // The stage where the error occurred (e.g., "ingest", "execution")
	Cause   error  // The underlying error, if any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Stage, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Stage, e.Code, e.Message)
}

// Unwrap returns the underlying cause of the error, allowing for error chaining.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error.
func NewError(code, stage, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Stage:   stage,
		Message: message,
		Cause:   cause,
	}
}

// Specific error constructors

func NewPlanningError(message string, cause error) *Error {
	return NewError(ErrCodePlanning, StageIngest, message, cause)
}

func NewToolNotFoundError(stage, category, toolName string) *Error {
	msg := fmt.Sprintf("tool '%s' not found", toolName)
	if category != "" {
		msg = fmt.Sprintf("tool '%s' not found in category '%s'", toolName, category)
	}
	return NewError(ErrCodeToolNotFound, stage, msg, nil)
}

func NewToolExecutionError(stage, toolName string, cause error) *Error {
	return NewError(ErrCodeToolExecution, stage, fmt.Sprintf("execution failed for tool '%s'", toolName), cause)
}

func NewExtractionError(field string, cause error) *Error {
	return NewError(ErrCodeExtraction, StageExtraction, fmt.Sprintf("could not extract value for field '%s'", field), cause)
}

func NewValidationError(stage, message string, cause error) *Error {
	return NewError(ErrCodeValidation, stage, message, cause)
}

func NewUpstreamError(actionID, sourceID string) *Error {
	return NewError(ErrCodeUpstream, StageExecution,
		fmt.Sprintf("action '%s' skipped: upstream action '%s' failed", actionID, sourceID), nil)
}

func NewConfigurationError(message string, cause error) *Error {
	return NewError(ErrCodeConfiguration, StageInit, message, cause)
}

func NewCancelledError(stage string, cause error) *Error {
	msg := "execution cancelled"
	if cause != nil && cause.Error() != "" && cause.Error() != "context canceled" {
		msg = fmt.Sprintf("execution cancelled: %v", cause)
	}
	return NewError(ErrCodeCancelled, stage, msg, cause)
}

func NewTimeoutError(stage string, cause error) *Error {
	return NewError(ErrCodeTimeout, stage, "execution timed out", cause)
}

func NewRecorderError(operation string, cause error) *Error {
	return NewError(ErrCodeRecorder, StageRecording, fmt.Sprintf("recorder operation '%s' failed", operation), cause)
}

func NewCacheError(stage, operation string, cause error) *Error {
	return NewError(ErrCodeCache, stage, fmt.Sprintf("cache operation '%s' failed", operation), cause)
}

func NewInternalError(stage, message string, cause error) *Error {
	return NewError(ErrCodeInternal, stage, message, cause)
}

// DeadlockError reports Pending actions that can never become Ready.
// Completed holds the results produced before the deadlock was detected.
type DeadlockError struct {
	BlockedPlaceholders []string
	AvailableEntities   []string
	BlockedActions      []string
	Completed           []ExecutionResult
}

func (e *DeadlockError) Error() string {
	return fmt.Sprintf("deadlock detected: cannot resolve placeholders\nblocked actions: %v\nblocked placeholders: %v\navailable entities in context: %v\npossible causes:\n- entity was not created successfully\n- circular dependency between actions",
		e.BlockedActions, e.BlockedPlaceholders, e.AvailableEntities)
}

// NewDeadlockError wraps a DeadlockError in the common error envelope.
func NewDeadlockError(d *DeadlockError) *Error {
	return NewError(ErrCodeDeadlock, StageExecution, "no ready actions while actions remain pending", d)
}

// CodeOf returns the code of the first *Error in the chain, or "".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsStructural reports whether err aborts a whole batch rather than a single action.
func IsStructural(err error) bool {
	switch CodeOf(err) {
	case ErrCodePlanning, ErrCodeDeadlock, ErrCodeConfiguration, ErrCodeToolNotFound:
		return true
	}
	return false
}

// IsError reports whether err carries an *Error anywhere in its chain.
func IsError(err error) bool {
	var e *Error
	return errors.As(err, &e)
}
