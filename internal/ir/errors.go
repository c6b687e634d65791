package ir

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes kernel errors.
type ErrorCode string

const (
	// ErrCodeInvalidArgument indicates missing or malformed input, rejected
	// before any write.
	ErrCodeInvalidArgument ErrorCode = "INVALID_ARGUMENT"

	// ErrCodeStorageUnavailable indicates the transactional layer failed or was
	// unreachable. Atomicity guarantees no partial effects.
	ErrCodeStorageUnavailable ErrorCode = "STORAGE_UNAVAILABLE"

	// ErrCodeProjectionInvariant indicates an observed partial projection.
	// Fatal: never retry.
	ErrCodeProjectionInvariant ErrorCode = "PROJECTION_INVARIANT_VIOLATION"

	// ErrCodeRationaleContract indicates an impact rationale was rejected.
	ErrCodeRationaleContract ErrorCode = "RATIONALE_CONTRACT_VIOLATION"

	// ErrCodeIsolationViolation indicates a cross-module mutation was detected.
	ErrCodeIsolationViolation ErrorCode = "ISOLATION_VIOLATION"

	// ErrCodeMissingSchemaObject indicates a monitored table does not exist.
	ErrCodeMissingSchemaObject ErrorCode = "MISSING_SCHEMA_OBJECT"

	// ErrCodeDivergentResubmission indicates an inputs hash was already
	// accepted with a different result payload, sport, horizon or scope.
	ErrCodeDivergentResubmission ErrorCode = "DIVERGENT_RESUBMISSION"

	// ErrCodeNotFound indicates a referenced entity does not exist.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
)

// KernelError is the single error type surfaced by kernel operations.
// Op names the failing operation and prefixes the rendered message so the
// root cause stays visible to operators.
type KernelError struct {
	Code    ErrorCode
	Op      string
	Message string
	Err     error

	// Details carries per-rule messages (rationale) or per-table findings.
	Details []string
}

// Error implements the error interface.
func (e *KernelError) Error() string {
	msg := e.Message
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = fmt.Sprintf("%s: %v", msg, e.Err)
		}
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, msg)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *KernelError) Unwrap() error {
	return e.Err
}

// CodeOf returns the code of the first KernelError in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var ke *KernelError
	if errors.As(err, &ke) {
		return ke.Code
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

// WithOp re-wraps err under op, preserving its code. Errors outside the
// taxonomy are classified as storage failures.
func WithOp(op string, err error) error {
	if err == nil {
		return nil
	}
	code := CodeOf(err)
	if code == "" {
		code = ErrCodeStorageUnavailable
	}
	var details []string
	var ke *KernelError
	if errors.As(err, &ke) {
		details = ke.Details
	}
	return &KernelError{Code: code, Op: op, Err: err, Details: details}
}

// InvalidArgument creates an ErrCodeInvalidArgument error.
func InvalidArgument(op, format string, args ...any) *KernelError {
	return &KernelError{Code: ErrCodeInvalidArgument, Op: op, Message: fmt.Sprintf(format, args...)}
}

// StorageUnavailable wraps a datastore failure.
func StorageUnavailable(op string, err error) *KernelError {
	return &KernelError{Code: ErrCodeStorageUnavailable, Op: op, Err: err}
}

// ProjectionInvariant creates an ErrCodeProjectionInvariant error.
func ProjectionInvariant(op, format string, args ...any) *KernelError {
	return &KernelError{Code: ErrCodeProjectionInvariant, Op: op, Message: fmt.Sprintf(format, args...)}
}

// MissingSchemaObject wraps a missing-table failure.
func MissingSchemaObject(op, table string, err error) *KernelError {
	return &KernelError{
		Code:    ErrCodeMissingSchemaObject,
		Op:      op,
		Message: fmt.Sprintf("table %s does not exist", table),
		Err:     err,
	}
}

// DivergentResubmission creates an ErrCodeDivergentResubmission error.
func DivergentResubmission(op, programID, inputsHash, existingID string) *KernelError {
	return &KernelError{
		Code: ErrCodeDivergentResubmission,
		Op:   op,
		Message: fmt.Sprintf("inputs hash %s for program %s already accepted as event %s with different content",
			inputsHash, programID, existingID),
	}
}

// NotFound creates an ErrCodeNotFound error.
func NotFound(op, format string, args ...any) *KernelError {
	return &KernelError{Code: ErrCodeNotFound, Op: op, Message: fmt.Sprintf(format, args...)}
}
