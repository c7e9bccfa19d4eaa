package services

import (
	"errors"
	"fmt"
)

// Stable machine-readable error codes surfaced to API clients. Handlers map
// these onto HTTP statuses; internal detail never leaks past the message.
const (
	CodeValidation         = "VALIDATION_ERROR"
	CodeNotFound           = "NOT_FOUND"
	CodeConflict           = "CONFLICT"
	CodeInterpreterFailure = "INTERPRETER_FAILURE"
	CodeUpstreamFailure    = "UPSTREAM_FAILURE"
	CodeRateLimited        = "RATE_LIMITED"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeInternal           = "INTERNAL_ERROR"
)

// AppError is a structured, user-visible failure with a stable code.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	err     error
}

func (e *AppError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.err }

// NewAppError wraps an underlying error with a stable code and client-safe
// message.
func NewAppError(code, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, err: err}
}

// AsAppError extracts an AppError from an error chain.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// Common service errors.
var (
	// ErrFingerprintConflict signals a (user, fingerprint) uniqueness
	// violation at promotion time. It aborts the enclosing action
	// transaction and is retryable after the caller re-fetches batch state.
	ErrFingerprintConflict = errors.New("ledger entry with this fingerprint already exists")

	// ErrBatchNotFound is returned by read paths for an unknown batch.
	// Mutation paths skip stale targets silently instead.
	ErrBatchNotFound = errors.New("batch not found")

	// ErrInstructionNotUnderstood means the interpreter produced no
	// actions. Non-fatal: the caller reports it and keeps the batch as-is.
	ErrInstructionNotUnderstood = errors.New("instruction could not be interpreted")
)
