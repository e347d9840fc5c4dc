package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorType classifies failures seen while crawling
type ErrorType string

const (
	ErrorTypeNetwork      ErrorType = "network"
	ErrorTypeRateLimit    ErrorType = "rate_limit"
	ErrorTypeForbidden    ErrorType = "forbidden"
	ErrorTypeMalformed    ErrorType = "malformed"
	ErrorTypeUnsuccessful ErrorType = "unsuccessful"
	ErrorTypeNotFound     ErrorType = "not_found"
	ErrorTypeServerError  ErrorType = "server_error"
	ErrorTypeInvariant    ErrorType = "invariant"
	ErrorTypeUnknown      ErrorType = "unknown"
)

// Error is a classified failure. Code carries the HTTP status when there was one.
type Error struct {
	Type    ErrorType
	Message string
	Code    int
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s error (code %d): %s: %v", e.Type, e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s error (code %d): %s", e.Type, e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error
func New(t ErrorType, msg string) *Error {
	return &Error{Type: t, Message: msg}
}

// Wrap classifies an underlying error
func Wrap(t ErrorType, err error, msg string) *Error {
	return &Error{Type: t, Message: msg, Err: err}
}

// Invariantf reports a broken data invariant. These abort the crawl.
func Invariantf(format string, args ...interface{}) *Error {
	return &Error{Type: ErrorTypeInvariant, Message: fmt.Sprintf(format, args...)}
}

// TypeOf returns the classification of err, or ErrorTypeUnknown
func TypeOf(err error) ErrorType {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Type
	}
	return ErrorTypeUnknown
}

// Is reports whether err carries the given classification
func Is(err error, t ErrorType) bool {
	return err != nil && TypeOf(err) == t
}

// IsFatal reports whether err must stop the whole run
func IsFatal(err error) bool {
	return Is(err, ErrorTypeInvariant)
}

// IsRetryable checks if an account failing with this type may be attempted again
func IsRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeNetwork, ErrorTypeRateLimit, ErrorTypeServerError,
		ErrorTypeMalformed, ErrorTypeUnsuccessful:
		return true
	default:
		return false
	}
}

// TripsGate reports whether the error means upstream is throttling us
func TripsGate(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeRateLimit, ErrorTypeMalformed, ErrorTypeUnsuccessful:
		return true
	default:
		return false
	}
}

// FromStatusCode maps a non-200 HTTP status to an error type
func FromStatusCode(statusCode int) ErrorType {
	switch {
	case statusCode == http.StatusForbidden, statusCode == http.StatusUnauthorized:
		return ErrorTypeForbidden
	case statusCode == http.StatusTooManyRequests:
		return ErrorTypeRateLimit
	case statusCode == http.StatusNotFound:
		return ErrorTypeNotFound
	case statusCode >= 500:
		return ErrorTypeServerError
	default:
		return ErrorTypeNetwork
	}
}
