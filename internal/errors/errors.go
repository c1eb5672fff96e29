package errors

import (
	stderrors "errors"
	"fmt"
)

// NousError is the structured error type for the Nous backend.
// It provides context for error handling, logging, and the small fixed set of
// user-facing error categories. Raw store errors are never exposed to clients;
// they travel in Cause and stop at the logging boundary.
type NousError struct {
	// Code is the unique error code (e.g., "ERR_501_NOT_INDEXED_YET").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, Store, Transient, ...).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs (user, uri, class).
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool
}

// Error implements the error interface.
func (e *NousError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *NousError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with NousError.
func (e *NousError) Is(target error) bool {
	if t, ok := target.(*NousError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *NousError) WithDetail(key, value string) *NousError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New creates a new NousError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *NousError {
	return &NousError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a NousError from an existing error.
// The existing error's message becomes the NousError message.
func Wrap(code string, err error) *NousError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// NotIndexedYet marks the recoverable "tenant has no schema" condition,
// user-visible as "nothing saved yet".
func NotIndexedYet(cause error) *NousError {
	return New(ErrCodeNotIndexedYet, "nothing saved yet", cause)
}

// IndexFailed creates a generic indexing failure.
func IndexFailed(cause error) *NousError {
	return New(ErrCodeIndexFailed, "indexing failed", cause)
}

// SearchFailed creates a generic query-execution failure.
func SearchFailed(cause error) *NousError {
	return New(ErrCodeSearchFailed, "search failed", cause)
}

// MalformedContent marks a search result missing expected join data, which
// indicates an indexing-side data-integrity defect rather than a query problem.
func MalformedContent(cause error) *NousError {
	return New(ErrCodeMalformedContent, "content not indexed properly", cause)
}

// DeleteFailed creates a generic deletion failure.
func DeleteFailed(cause error) *NousError {
	return New(ErrCodeDeleteFailed, "delete failed", cause)
}

// TransientStore wraps a connection or timeout failure from the store.
func TransientStore(message string, cause error) *NousError {
	return New(ErrCodeStoreUnavailable, message, cause)
}

// IsRetryable checks if an error is retryable anywhere in its chain.
func IsRetryable(err error) bool {
	var ne *NousError
	if stderrors.As(err, &ne) {
		return ne.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
// Fatal errors should abort the current operation.
func IsFatal(err error) bool {
	var ne *NousError
	if stderrors.As(err, &ne) {
		return ne.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from a NousError in the chain.
// Returns empty string if none is found.
func GetCode(err error) string {
	var ne *NousError
	if stderrors.As(err, &ne) {
		return ne.Code
	}
	return ""
}

// HasCode reports whether any error in the chain carries the given code.
func HasCode(err error, code string) bool {
	return GetCode(err) == code
}
