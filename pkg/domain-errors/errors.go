// Package domainerrors defines the coded error type shared by services and the
// HTTP boundary. Services return *Error values; transports map the Code to a
// status with ToHTTPStatus.
package domainerrors

import (
	"errors"
	"net/http"
)

// Code is a stable, machine-readable error identifier exposed to clients.
type Code string

const (
	CodeBadRequest         Code = "bad_request"
	CodeValidation         Code = "validation_error"
	CodeNotFound           Code = "not_found"
	CodeConflict           Code = "conflict"
	CodeInvariantViolation Code = "invariant_violation"
	CodeInternal           Code = "internal_error"
	CodeTimeout            Code = "timeout"

	// Point distribution taxonomy.
	CodeStaleWeek            Code = "stale_week"
	CodeMissingSubmitter     Code = "missing_submitter"
	CodeInvalidValue         Code = "invalid_value"
	CodeIncompleteSubmission Code = "incomplete_submission"
	CodeSumMismatch          Code = "sum_mismatch"
	CodePointConflict        Code = "point_conflict"
	CodeDuplicateScore       Code = "duplicate_score"
	CodeAlreadyFinal         Code = "already_final"

	CodeDirectoryUnavailable Code = "directory_unavailable"
)

// Error is a domain failure carrying a Code and a human-readable message.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a coded error.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, message string) error {
	return &Error{Code: code, Message: message, Err: err}
}

// As returns the outermost *Error in err's chain.
func As(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// HasCode reports whether the outermost domain error in err's chain has code.
func HasCode(err error, code Code) bool {
	de, ok := As(err)
	return ok && de.Code == code
}

// Is is an alias of HasCode kept for handler call sites.
func Is(err error, code Code) bool {
	return HasCode(err, code)
}

// ToHTTPStatus maps an error code to the HTTP status the API responds with.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeBadRequest, CodeValidation, CodeInvariantViolation,
		CodeStaleWeek, CodeMissingSubmitter, CodeInvalidValue,
		CodeIncompleteSubmission, CodeSumMismatch, CodePointConflict, CodeDuplicateScore:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict, CodeAlreadyFinal:
		return http.StatusConflict
	case CodeDirectoryUnavailable:
		return http.StatusBadGateway
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
