package errors

import (
	"context"
	stderrors "errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorCode represents internal error codes for counter operations
type ErrorCode int

const (
	// Success
	ErrCodeOK ErrorCode = 0

	// Client errors (4xx equivalent)
	ErrCodeInvalidArgument ErrorCode = 1000
	ErrCodeInvalidField    ErrorCode = 1001
	ErrCodeInvalidName     ErrorCode = 1002
	ErrCodeNotFound        ErrorCode = 1003
	ErrCodeQuotaExceeded   ErrorCode = 1004

	// Server errors (5xx equivalent)
	ErrCodeInternal         ErrorCode = 2000
	ErrCodeUnavailable      ErrorCode = 2001
	ErrCodeCounterNotFound  ErrorCode = 2002
	ErrCodePersistence      ErrorCode = 2003
	ErrCodeServiceStopped   ErrorCode = 2004
	ErrCodeDeadlineExceeded ErrorCode = 2005
)

var codeNames = map[ErrorCode]string{
	ErrCodeOK:               "OK",
	ErrCodeInvalidArgument:  "INVALID_REQUEST",
	ErrCodeInvalidField:     "INVALID_FIELD",
	ErrCodeInvalidName:      "INVALID_COUNTER_NAME",
	ErrCodeNotFound:         "COUNTER_NOT_FOUND",
	ErrCodeQuotaExceeded:    "QUOTA_EXCEEDED",
	ErrCodeInternal:         "INTERNAL_ERROR",
	ErrCodeUnavailable:      "SERVICE_UNAVAILABLE",
	ErrCodeCounterNotFound:  "COUNTER_MISSING",
	ErrCodePersistence:      "PERSISTENCE_FAILED",
	ErrCodeServiceStopped:   "SERVICE_STOPPED",
	ErrCodeDeadlineExceeded: "TIMEOUT",
}

// String returns the wire name of the code
func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return "UNKNOWN"
}

// CounterError represents a structured error with code and context
type CounterError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Cause   error
}

// Error implements the error interface
func (e *CounterError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *CounterError) Unwrap() error {
	return e.Cause
}

// Is matches any CounterError carrying the same code
func (e *CounterError) Is(target error) bool {
	var ce *CounterError
	if !stderrors.As(target, &ce) {
		return false
	}
	return ce.Code == e.Code
}

// GRPCStatus converts CounterError to a gRPC status. status.FromError and
// status.Code pick it up through wrapping.
func (e *CounterError) GRPCStatus() *status.Status {
	return status.New(grpcCode(e.Code), e.Error())
}

// ToGRPCStatus classifies any error as a gRPC status. Errors that are not
// CounterErrors are classified by GetCode.
func ToGRPCStatus(err error) *status.Status {
	if err == nil {
		return status.New(codes.OK, "")
	}
	return status.New(grpcCode(GetCode(err)), err.Error())
}

func grpcCode(code ErrorCode) codes.Code {
	switch code {
	case ErrCodeOK:
		return codes.OK
	case ErrCodeInvalidArgument, ErrCodeInvalidField, ErrCodeInvalidName:
		return codes.InvalidArgument
	case ErrCodeNotFound:
		return codes.NotFound
	case ErrCodeQuotaExceeded:
		return codes.ResourceExhausted
	case ErrCodeCounterNotFound:
		return codes.FailedPrecondition
	case ErrCodeUnavailable, ErrCodeServiceStopped:
		return codes.Unavailable
	case ErrCodeDeadlineExceeded:
		return codes.DeadlineExceeded
	default:
		return codes.Internal
	}
}

// NewCounterError creates a new CounterError
func NewCounterError(code ErrorCode, message string, cause error) *CounterError {
	return &CounterError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Cause:   cause,
	}
}

// WithDetail adds a detail to the error
func (e *CounterError) WithDetail(key string, value interface{}) *CounterError {
	e.Details[key] = value
	return e
}

// Sentinels for errors.Is comparisons
var (
	ErrQuotaExceeded   = NewCounterError(ErrCodeQuotaExceeded, "quota exceeded", nil)
	ErrCounterNotFound = NewCounterError(ErrCodeCounterNotFound, "counter not found", nil)
	ErrServiceStopped  = NewCounterError(ErrCodeServiceStopped, "counter service stopped", nil)
)

// Convenience constructors for common errors

func InvalidField(field string, cause error) *CounterError {
	return NewCounterError(ErrCodeInvalidField, fmt.Sprintf("invalid field of interest '%s'", field), cause).
		WithDetail("field", field)
}

func InvalidName(name, reason string) *CounterError {
	return NewCounterError(ErrCodeInvalidName, fmt.Sprintf("invalid counter name '%s': %s", name, reason), nil).
		WithDetail("counter", name).
		WithDetail("reason", reason)
}

func NotFound(name string) *CounterError {
	return NewCounterError(ErrCodeNotFound, fmt.Sprintf("counter not found: %s", name), nil).
		WithDetail("counter", name)
}

// CounterMissing reports a counter row that vanished after it was ensured
func CounterMissing(name string) *CounterError {
	return NewCounterError(ErrCodeCounterNotFound, fmt.Sprintf("counter not found: %s", name), nil).
		WithDetail("counter", name)
}

func QuotaExceeded(name string, limit int64) *CounterError {
	return NewCounterError(ErrCodeQuotaExceeded, fmt.Sprintf("quota exceeded for counter %s: limit %d", name, limit), nil).
		WithDetail("counter", name).
		WithDetail("limit", limit)
}

func PersistenceFailed(message string, cause error) *CounterError {
	return NewCounterError(ErrCodePersistence, message, cause)
}

func InternalError(message string, cause error) *CounterError {
	return NewCounterError(ErrCodeInternal, message, cause)
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	if err == nil {
		return ErrCodeOK
	}
	var ce *CounterError
	if stderrors.As(err, &ce) {
		return ce.Code
	}
	switch {
	case stderrors.Is(err, context.DeadlineExceeded):
		return ErrCodeDeadlineExceeded
	case stderrors.Is(err, context.Canceled):
		return ErrCodeUnavailable
	}
	return ErrCodeInternal
}
