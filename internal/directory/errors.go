package directory

import (
	"errors"
	"fmt"
)

// ErrorCategory is the normalized directory failure taxonomy.
type ErrorCategory string

const (
	ErrorTimeout        ErrorCategory = "timeout"
	ErrorBadData        ErrorCategory = "bad_data"
	ErrorAuthentication ErrorCategory = "authentication"
	ErrorOutage         ErrorCategory = "outage"
	ErrorNotFound       ErrorCategory = "not_found"
	ErrorRateLimited    ErrorCategory = "rate_limited"
	ErrorInternal       ErrorCategory = "internal"
)

// DirectoryError wraps a directory failure with its category.
type DirectoryError struct {
	Category   ErrorCategory
	Op         string
	Message    string
	Underlying error
	Retryable  bool
}

func (e *DirectoryError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("directory %s [%s]: %s: %v", e.Op, e.Category, e.Message, e.Underlying)
	}
	return fmt.Sprintf("directory %s [%s]: %s", e.Op, e.Category, e.Message)
}

func (e *DirectoryError) Unwrap() error {
	return e.Underlying
}

// NewError builds a DirectoryError; timeouts, outages and rate limits are retryable.
func NewError(category ErrorCategory, op, message string, underlying error) *DirectoryError {
	retryable := category == ErrorTimeout ||
		category == ErrorOutage ||
		category == ErrorRateLimited

	return &DirectoryError{
		Category:   category,
		Op:         op,
		Message:    message,
		Underlying: underlying,
		Retryable:  retryable,
	}
}

// IsRetryable checks if an error is worth retrying
func IsRetryable(err error) bool {
	var de *DirectoryError
	if errors.As(err, &de) {
		return de.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error
func GetCategory(err error) ErrorCategory {
	var de *DirectoryError
	if errors.As(err, &de) {
		return de.Category
	}
	return ErrorInternal
}
