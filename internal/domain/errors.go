package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the domain layer.
var (
	ErrSessionNotFound   = fmt.Errorf("session not found")
	ErrToolNotFound      = fmt.Errorf("tool not found")
	ErrToolFailure       = fmt.Errorf("tool execution failed")
	ErrCapabilityMissing = fmt.Errorf("host capability not available")
	ErrElicitDeclined    = fmt.Errorf("elicitation declined")
	ErrBranchDepth       = fmt.Errorf("branch depth exceeded")
	ErrHandoffNotFound   = fmt.Errorf("pending handoff not found")
	ErrInvalidInput      = fmt.Errorf("invalid input")
	ErrConfigLoad        = fmt.Errorf("failed to load configuration")
	ErrSamplingFailed    = fmt.Errorf("sampling failed")
	ErrStreamClosed      = fmt.Errorf("stream closed")
	ErrAlreadyResolved   = fmt.Errorf("already resolved")

	// Pipeline plugin resolution errors.
	ErrDuplicatePlugin    = fmt.Errorf("duplicate plugin name")
	ErrMissingDependency  = fmt.Errorf("missing plugin dependency")
	ErrCircularDependency = fmt.Errorf("circular plugin dependency")
)

// DomainError wraps a sentinel error with operation context.
type DomainError struct {
	Op     string // operation name (e.g., "Executor.Run")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsTerminal reports whether err ends the tool invocation without retry.
// Capability absence is the one host-interaction failure that is fatal for a
// call; transport-level host failures degrade instead.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrCapabilityMissing)
}

// ErrorCode is a machine-parseable error category for monitoring.
type ErrorCode string

const (
	CodeUnknown            ErrorCode = "UNKNOWN"
	CodeSessionNotFound    ErrorCode = "SESSION_NOT_FOUND"
	CodeToolNotFound       ErrorCode = "TOOL_NOT_FOUND"
	CodeToolFailure        ErrorCode = "TOOL_FAILURE"
	CodeCapabilityMissing  ErrorCode = "CAPABILITY_MISSING"
	CodeElicitDeclined     ErrorCode = "ELICIT_DECLINED"
	CodeBranchDepth        ErrorCode = "BRANCH_DEPTH"
	CodeHandoffNotFound    ErrorCode = "HANDOFF_NOT_FOUND"
	CodeInvalidInput       ErrorCode = "INVALID_INPUT"
	CodeConfigLoad         ErrorCode = "CONFIG_LOAD"
	CodeSamplingFailed     ErrorCode = "SAMPLING_FAILED"
	CodeStreamClosed       ErrorCode = "STREAM_CLOSED"
	CodeAlreadyResolved    ErrorCode = "ALREADY_RESOLVED"
	CodeDuplicatePlugin    ErrorCode = "DUPLICATE_PLUGIN"
	CodeMissingDependency  ErrorCode = "MISSING_DEPENDENCY"
	CodeCircularDependency ErrorCode = "CIRCULAR_DEPENDENCY"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrSessionNotFound:    CodeSessionNotFound,
	ErrToolNotFound:       CodeToolNotFound,
	ErrToolFailure:        CodeToolFailure,
	ErrCapabilityMissing:  CodeCapabilityMissing,
	ErrElicitDeclined:     CodeElicitDeclined,
	ErrBranchDepth:        CodeBranchDepth,
	ErrHandoffNotFound:    CodeHandoffNotFound,
	ErrInvalidInput:       CodeInvalidInput,
	ErrConfigLoad:         CodeConfigLoad,
	ErrSamplingFailed:     CodeSamplingFailed,
	ErrStreamClosed:       CodeStreamClosed,
	ErrAlreadyResolved:    CodeAlreadyResolved,
	ErrDuplicatePlugin:    CodeDuplicatePlugin,
	ErrMissingDependency:  CodeMissingDependency,
	ErrCircularDependency: CodeCircularDependency,
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It unwraps DomainError and uses errors.Is to match sentinel errors.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}
	if code, ok := errorCodeMap[err]; ok {
		return code
	}
	var de *DomainError
	if errors.As(err, &de) {
		if code, ok := errorCodeMap[de.Err]; ok {
			return code
		}
	}
	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return CodeUnknown
}
