package limiter

import (
	"errors"
	"fmt"
	"testing"
	"time"

	apperr "marketroute/pkg/error"

	"github.com/stretchr/testify/assert"
)

// RateLimitError 模拟上游 SDK 以类型名表达限流的错误
type RateLimitError struct{ msg string }

func (e *RateLimitError) Error() string { return e.msg }

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorLevel
	}{
		// 限流信号
		{"哨兵错误", ErrThrottled, LevelThrottled},
		{"包装的哨兵错误", fmt.Errorf("openai: %w", ErrThrottled), LevelThrottled},
		{"ThrottleError", &ThrottleError{Source: "openai", RetryAfter: time.Second}, LevelThrottled},
		{"提供商限流代码", apperr.NewError(apperr.CodeProviderRateLimited, "alpha_vantage"), LevelThrottled},
		{"HTTP 429", errors.New("HTTP 429 Too Many Requests"), LevelThrottled},
		{"类型名标记", &RateLimitError{msg: "slow down"}, LevelThrottled},
		{"消息中的类型名", errors.New("openai.RateLimitError: quota"), LevelThrottled},
		{"rate limit 文本", errors.New("Rate limit reached for requests"), LevelThrottled},

		// 致命级错误
		{"连接拒绝", errors.New("dial tcp: connection refused"), LevelFatal},
		{"连接重置", errors.New("read: connection reset by peer"), LevelFatal},
		{"403禁止", errors.New("HTTP/1.1 403 Forbidden"), LevelFatal},

		// 网络错误
		{"超时", errors.New("i/o timeout"), LevelNetwork},
		{"网络不可达", errors.New("network is unreachable"), LevelNetwork},
		{"读TCP失败", errors.New("read tcp: connection reset by peer"), LevelNetwork},

		// 无效参数
		{"无效参数", errors.New("invalid argument"), LevelInvalid},
		{"请求错误", errors.New("HTTP/1.1 400 Bad Request"), LevelInvalid},
		{"未找到", errors.New("HTTP/1.1 404 Not Found"), LevelInvalid},

		// 未知错误
		{"nil错误", nil, LevelUnknown},
		{"其他错误", errors.New("some other error"), LevelUnknown},
	}

	classifier := NewErrorClassifier()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			actual := classifier.Classify(tt.err)
			assert.Equal(t, tt.expected, actual, "错误分类应匹配预期: %s", tt.name)
		})
	}
}

func TestErrorClassifier_ExtraMarkers(t *testing.T) {
	err := errors.New("Thank you for using Alpha Vantage! Our standard API call frequency is 5 calls per minute")

	assert.False(t, NewErrorClassifier().IsThrottled(err))
	assert.True(t, NewErrorClassifier(" call frequency ", "").IsThrottled(err))
}

func TestErrorLevel_String(t *testing.T) {
	assert.Equal(t, "throttled", LevelThrottled.String())
	assert.Equal(t, "network", LevelNetwork.String())
	assert.Equal(t, "unknown", ErrorLevel(99).String())
}
