package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the domain layer.
var (
	ErrInvalidInput   = fmt.Errorf("invalid input")
	ErrUnauthorized   = fmt.Errorf("caller identity required")
	ErrForbidden      = fmt.Errorf("forbidden: not the thread owner")
	ErrThreadNotFound = fmt.Errorf("thread not found")
	ErrThreadExists   = fmt.Errorf("thread already exists")
	ErrThreadLimit    = fmt.Errorf("thread limit reached")
	ErrConflict       = fmt.Errorf("concurrent modification detected")
	ErrToolNotFound   = fmt.Errorf("tool not found")
	ErrToolFailure    = fmt.Errorf("tool execution failed")
	ErrUpstream       = fmt.Errorf("upstream provider error")
	ErrRateLimit      = fmt.Errorf("rate limit exceeded")
	ErrAuthInvalid    = fmt.Errorf("authentication failed")
	ErrStore          = fmt.Errorf("store unavailable")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "Orchestrator.Chat")
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

// ErrorCode is a machine-parseable error category for clients and
// monitoring. The code never carries provider-internal text; the error
// message may.
type ErrorCode string

const (
	CodeUnknown        ErrorCode = "UNKNOWN"
	CodeInvalidInput   ErrorCode = "INVALID_INPUT"
	CodeUnauthorized   ErrorCode = "UNAUTHORIZED"
	CodeForbidden      ErrorCode = "FORBIDDEN"
	CodeThreadNotFound ErrorCode = "THREAD_NOT_FOUND"
	CodeThreadExists   ErrorCode = "THREAD_EXISTS"
	CodeLimitExceeded  ErrorCode = "LIMIT_EXCEEDED"
	CodeConflict       ErrorCode = "CONFLICT"
	CodeToolNotFound   ErrorCode = "TOOL_NOT_FOUND"
	CodeToolFailure    ErrorCode = "TOOL_FAILURE"
	CodeUpstream       ErrorCode = "UPSTREAM"
	CodeRateLimit      ErrorCode = "RATE_LIMIT"
	CodeAuthInvalid    ErrorCode = "AUTH_INVALID"
	CodeStore          ErrorCode = "STORE_UNAVAILABLE"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrInvalidInput:   CodeInvalidInput,
	ErrUnauthorized:   CodeUnauthorized,
	ErrForbidden:      CodeForbidden,
	ErrThreadNotFound: CodeThreadNotFound,
	ErrThreadExists:   CodeThreadExists,
	ErrThreadLimit:    CodeLimitExceeded,
	ErrConflict:       CodeConflict,
	ErrToolNotFound:   CodeToolNotFound,
	ErrToolFailure:    CodeToolFailure,
	ErrUpstream:       CodeUpstream,
	ErrRateLimit:      CodeRateLimit,
	ErrAuthInvalid:    CodeAuthInvalid,
	ErrStore:          CodeStore,
}

// ErrorCodeOf returns the machine-parseable error code for the given
// error. It unwraps DomainError and walks the chain with errors.Is.
// Returns CodeUnknown if no matching sentinel is found.
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
