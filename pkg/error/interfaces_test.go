package error

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBaseError_ErrorString(t *testing.T) {
	err := NewError(CodeUnknownMethod, "method get_foo is not registered")
	assert.Equal(t, "UNKNOWN_METHOD: method get_foo is not registered", err.Error())

	wrapped := WrapError(CodeProviderCallFailed, "yfinance failed", errors.New("boom"))
	assert.Equal(t, "PROVIDER_CALL_FAILED: yfinance failed: boom", wrapped.Error())
}

func TestBaseError_IsComparesCode(t *testing.T) {
	sentinel := NewError(CodeAllVendorsFailed, "all vendors failed")
	err := fmt.Errorf("route: %w", Newf(CodeAllVendorsFailed, "method %s", "get_news"))

	assert.True(t, errors.Is(err, sentinel))
	assert.False(t, errors.Is(err, NewError(CodeUnknownMethod, "")))
}

func TestCodeOfAndHasCode(t *testing.T) {
	cause := NewError(CodeProviderRateLimited, "429")
	err := fmt.Errorf("outer: %w", WrapError(CodeRetriesExhausted, "gave up", cause))

	assert.Equal(t, CodeRetriesExhausted, CodeOf(err))
	assert.True(t, HasCode(err, CodeRetriesExhausted))
	assert.True(t, HasCode(err, CodeProviderRateLimited))
	assert.False(t, HasCode(err, CodeCacheMiss))
	assert.Equal(t, ErrorCode(""), CodeOf(errors.New("plain")))
}

func TestWithContext(t *testing.T) {
	err := NewError(CodeConfigInvalid, "bad").WithContext("field", "limiter.tokens_per_minute")
	assert.Equal(t, "limiter.tokens_per_minute", err.Context["field"])
}
