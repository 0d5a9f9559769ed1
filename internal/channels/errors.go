package channels

import (
	"errors"
	"fmt"
)

// ErrorCode classifies adapter failures for monitoring and retry policy.
type ErrorCode string

const (
	ErrCodeConnection     ErrorCode = "CONNECTION_ERROR"
	ErrCodeAuthentication ErrorCode = "AUTH_ERROR"
	ErrCodeRateLimit      ErrorCode = "RATE_LIMIT_ERROR"
	ErrCodeInvalidInput   ErrorCode = "INVALID_INPUT"
	ErrCodeTimeout        ErrorCode = "TIMEOUT_ERROR"
	ErrCodeUnavailable    ErrorCode = "SERVICE_UNAVAILABLE"
	ErrCodeConfig         ErrorCode = "CONFIG_ERROR"
	ErrCodeInternal       ErrorCode = "INTERNAL_ERROR"
)

// Error is a classified adapter error.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// IsRetryable reports whether the failure is transient.
func (e *Error) IsRetryable() bool {
	switch e.Code {
	case ErrCodeRateLimit, ErrCodeTimeout, ErrCodeUnavailable, ErrCodeConnection:
		return true
	}
	return false
}

func ErrConnection(msg string, err error) *Error {
	return &Error{Code: ErrCodeConnection, Message: msg, Err: err}
}

func ErrAuthentication(msg string, err error) *Error {
	return &Error{Code: ErrCodeAuthentication, Message: msg, Err: err}
}

func ErrInvalidInput(msg string, err error) *Error {
	return &Error{Code: ErrCodeInvalidInput, Message: msg, Err: err}
}

func ErrTimeout(msg string, err error) *Error {
	return &Error{Code: ErrCodeTimeout, Message: msg, Err: err}
}

func ErrUnavailable(msg string, err error) *Error {
	return &Error{Code: ErrCodeUnavailable, Message: msg, Err: err}
}

func ErrConfig(msg string, err error) *Error {
	return &Error{Code: ErrCodeConfig, Message: msg, Err: err}
}

func ErrInternal(msg string, err error) *Error {
	return &Error{Code: ErrCodeInternal, Message: msg, Err: err}
}

// CodeOf extracts the error code, or ErrCodeInternal for foreign errors.
func CodeOf(err error) ErrorCode {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ErrCodeInternal
}
