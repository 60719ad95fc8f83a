package apierror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorString(t *testing.T) {
	err := New(CodeInvalidPassword, "wrong password")
	assert.Equal(t, "[INVALID_PASSWORD] wrong password", err.Error())

	wrapped := Wrap(errors.New("boom"), CodeInternal, "backend failed")
	assert.Equal(t, "[INTERNAL_ERROR] backend failed: boom", wrapped.Error())
}

func TestWrap_PreservesChain(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(cause, CodeNetworkError, "request failed")

	assert.True(t, errors.Is(err, cause))

	// Wrapping again with fmt keeps the code reachable.
	outer := fmt.Errorf("login: %w", err)
	assert.Equal(t, CodeNetworkError, GetCode(outer))
	assert.True(t, IsCode(outer, CodeNetworkError))
}

func TestWrap_NilIsNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, CodeInternal, "ignored"))
}

func TestGetCode_PlainError(t *testing.T) {
	assert.Equal(t, CodeInternal, GetCode(errors.New("plain")))
	assert.False(t, IsCode(errors.New("plain"), CodeTimeout))
}

func TestWithData(t *testing.T) {
	err := New(CodeAccountBlocked, "blocked").
		WithData("remainingMinutes", 30).
		WithData("reason", "too_many_failed_logins")

	require.NotNil(t, err.Data)
	assert.Equal(t, 30, err.Data["remainingMinutes"])
	assert.Equal(t, "too_many_failed_logins", err.Data["reason"])
}

func TestRetryable(t *testing.T) {
	assert.True(t, New(CodeTimeout, "").Retryable())
	assert.True(t, New(CodeNetworkError, "").Retryable())
	assert.True(t, New(CodeInternal, "").Retryable())

	assert.False(t, New(CodeInvalidPassword, "").Retryable())
	assert.False(t, New(CodeInvalidOTP, "").Retryable())
	assert.False(t, New(CodeAccountBlocked, "").Retryable())
}

func TestStatusMapping(t *testing.T) {
	assert.Equal(t, CodeTimeout, FromHTTPStatus(http.StatusGatewayTimeout))
	assert.Equal(t, CodeRateLimited, FromHTTPStatus(http.StatusTooManyRequests))
	assert.Equal(t, CodeInternal, FromHTTPStatus(http.StatusBadGateway))

	assert.Equal(t, http.StatusUnauthorized, HTTPStatus(CodeInvalidOTP))
	assert.Equal(t, http.StatusForbidden, HTTPStatus(CodeAccountBlocked))
	assert.Equal(t, http.StatusNotFound, HTTPStatus(CodeUserNotFound))
}
