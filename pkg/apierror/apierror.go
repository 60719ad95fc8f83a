package apierror

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a stable, machine-readable error code shared between the auth
// backend and this client. Backend responses carry one of these in their
// normalized {code, message, data} error body.
type Code string

const (
	// Generic codes
	CodeBadRequest       Code = "BAD_REQUEST"
	CodeUnauthorized     Code = "UNAUTHORIZED"
	CodeForbidden        Code = "FORBIDDEN"
	CodeNotFound         Code = "NOT_FOUND"
	CodeConflict         Code = "CONFLICT"
	CodeTimeout          Code = "TIMEOUT"
	CodeRateLimited      Code = "RATE_LIMITED"
	CodeInternal         Code = "INTERNAL_ERROR"
	CodeNetworkError     Code = "NETWORK_ERROR"
	CodePermissionDenied Code = "PERMISSION_DENIED"

	// Authentication codes
	CodePasswordNotSet  Code = "PASSWORD_NOT_SET"
	CodeInvalidPassword Code = "INVALID_PASSWORD"
	CodeInvalidOTP      Code = "INVALID_OTP"
	CodeOTPExpired      Code = "OTP_EXPIRED"
	CodeUserNotFound    Code = "USER_NOT_FOUND"
	CodeAccountBlocked  Code = "ACCOUNT_BLOCKED"

	// Validation codes (checked client-side before any network call)
	CodeValidationFailed Code = "VALIDATION_FAILED"
	CodeInvalidFormat    Code = "INVALID_FORMAT"
)

// Error is the normalized error shape used across the session core.
type Error struct {
	Code    Code                   `json:"code"`
	Message string                 `json:"message"`
	Data    map[string]interface{} `json:"data,omitempty"`
	Err     error                  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for errors.Is and errors.As
func (e *Error) Unwrap() error {
	return e.Err
}

// WithData adds a data entry to the error
func (e *Error) WithData(key string, value interface{}) *Error {
	if e.Data == nil {
		e.Data = make(map[string]interface{})
	}
	e.Data[key] = value
	return e
}

// Retryable reports whether the failure is transient and the attempt may be
// repeated without the user changing anything.
func (e *Error) Retryable() bool {
	switch e.Code {
	case CodeTimeout, CodeNetworkError, CodeInternal:
		return true
	}
	return false
}

// New creates a new Error with the given code and message
func New(code Code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new Error with formatted message
func Newf(code Code, format string, args ...interface{}) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an existing error with code and message
func Wrap(err error, code Code, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// IsCode checks if an error carries a specific code
func IsCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// GetCode extracts the code from an error.
// Returns CodeInternal if the error is not a structured Error.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// FromHTTPStatus maps an HTTP response status to a code using the fixed
// status table. Used when the backend returns a non-JSON or codeless body.
func FromHTTPStatus(status int) Code {
	switch status {
	case http.StatusBadRequest:
		return CodeBadRequest
	case http.StatusUnauthorized:
		return CodeUnauthorized
	case http.StatusForbidden:
		return CodeForbidden
	case http.StatusNotFound:
		return CodeNotFound
	case http.StatusConflict:
		return CodeConflict
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return CodeTimeout
	case http.StatusTooManyRequests:
		return CodeRateLimited
	default:
		return CodeInternal
	}
}

// HTTPStatus maps a code back to the HTTP status the backend uses for it.
func HTTPStatus(code Code) int {
	switch code {
	case CodeBadRequest, CodeValidationFailed, CodeInvalidFormat:
		return http.StatusBadRequest
	case CodeUnauthorized, CodeInvalidPassword, CodeInvalidOTP, CodeOTPExpired, CodePasswordNotSet:
		return http.StatusUnauthorized
	case CodeForbidden, CodePermissionDenied, CodeAccountBlocked:
		return http.StatusForbidden
	case CodeNotFound, CodeUserNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
