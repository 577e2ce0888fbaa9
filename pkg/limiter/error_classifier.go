package limiter

import (
	"errors"
	"fmt"
	"strings"

	apperr "marketroute/pkg/error"
)

// ErrorLevel 定义错误的严重级别
type ErrorLevel int

const (
	LevelThrottled ErrorLevel = iota // 被限流，退避后重试
	LevelFatal                       // 致命级，立即终止
	LevelNetwork                     // 网络错误，交由上层回退
	LevelInvalid                     // 无效参数
	LevelUnknown                     // 未知错误
)

// String 返回级别名称，用于日志字段
func (l ErrorLevel) String() string {
	switch l {
	case LevelThrottled:
		return "throttled"
	case LevelFatal:
		return "fatal"
	case LevelNetwork:
		return "network"
	case LevelInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// throttleMarkers 错误信息中出现即视为限流信号（小写比较）
var throttleMarkers = []string{
	"429",
	"ratelimiterror",
	"rate limit",
	"rate_limit",
	"too many requests",
}

// ErrorClassifier 负责根据错误类型进行分类
type ErrorClassifier struct {
	markers []string
}

// NewErrorClassifier 创建新的错误分类器，extraMarkers 追加自定义的限流标记
func NewErrorClassifier(extraMarkers ...string) *ErrorClassifier {
	markers := make([]string, 0, len(throttleMarkers)+len(extraMarkers))
	markers = append(markers, throttleMarkers...)
	for _, m := range extraMarkers {
		if m = strings.ToLower(strings.TrimSpace(m)); m != "" {
			markers = append(markers, m)
		}
	}
	return &ErrorClassifier{markers: markers}
}

// IsThrottled 判断错误是否为限流信号
func (c *ErrorClassifier) IsThrottled(err error) bool {
	return err != nil && c.Classify(err) == LevelThrottled
}

// Classify 根据错误内容分类错误级别
func (c *ErrorClassifier) Classify(err error) ErrorLevel {
	if err == nil {
		return LevelUnknown
	}

	// 类型化的限流信号
	var te *ThrottleError
	if errors.Is(err, ErrThrottled) || errors.As(err, &te) ||
		apperr.HasCode(err, apperr.CodeProviderRateLimited) {
		return LevelThrottled
	}

	msg := strings.ToLower(err.Error())
	typeName := strings.ToLower(fmt.Sprintf("%T", err))
	if strings.Contains(typeName, "ratelimit") {
		return LevelThrottled
	}
	for _, marker := range c.markers {
		if strings.Contains(msg, marker) {
			return LevelThrottled
		}
	}

	switch {
	case strings.Contains(msg, "connection refused"):
		return LevelFatal
	case strings.Contains(msg, "connection reset") && !strings.Contains(msg, "read tcp") && !strings.Contains(msg, "write tcp"):
		return LevelFatal
	case strings.Contains(msg, "no such host"),
		strings.Contains(msg, "dial tcp"):
		return LevelFatal
	case strings.Contains(msg, "forbidden") && strings.Contains(msg, "403"):
		return LevelFatal
	}

	switch {
	case strings.Contains(msg, "timeout"),
		strings.Contains(msg, "deadline exceeded"),
		strings.Contains(msg, "network is unreachable"),
		strings.Contains(msg, "temporary failure"),
		strings.Contains(msg, "read tcp") && strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "write tcp"):
		return LevelNetwork
	}

	switch {
	case strings.Contains(msg, "invalid argument"),
		strings.Contains(msg, "bad request"),
		strings.Contains(msg, "not found") && strings.Contains(msg, "404"):
		return LevelInvalid
	}

	return LevelUnknown
}
