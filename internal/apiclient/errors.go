package apiclient

import "errors"

type ErrorCode string

const (
	ErrorCodeValidation      ErrorCode = "validation_error"
	ErrorCodeUnauthorized    ErrorCode = "unauthorized"
	ErrorCodeForbidden       ErrorCode = "forbidden"
	ErrorCodeNotFound        ErrorCode = "not_found"
	ErrorCodeFeatureNotFound ErrorCode = "feature_not_found"
	ErrorCodeConflict        ErrorCode = "conflict"
	ErrorCodeTimeout         ErrorCode = "timeout"
	ErrorCodeInternal        ErrorCode = "internal_error"
)

type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(code ErrorCode, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func codeOf(err error) ErrorCode {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}

// IsUnauthenticated reports whether err carries the authentication-expired
// signal. It is fatal to the session and must never be retried.
func IsUnauthenticated(err error) bool {
	return codeOf(err) == ErrorCodeUnauthorized
}

// IsFeatureNotFound reports whether the remote answered that the requested
// feature does not exist at all, as opposed to a missing record.
func IsFeatureNotFound(err error) bool {
	return codeOf(err) == ErrorCodeFeatureNotFound
}

// IsTransient reports whether err is a network or timeout failure that the
// next scheduled poll will implicitly retry.
func IsTransient(err error) bool {
	switch codeOf(err) {
	case ErrorCodeTimeout, ErrorCodeInternal:
		return true
	}
	return false
}
