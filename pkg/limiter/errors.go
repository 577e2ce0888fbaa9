package limiter

import (
	"fmt"
	"time"

	apperr "marketroute/pkg/error"
)

var (
	// ErrThrottled 调用方可直接返回或包装它来表示被限流
	ErrThrottled = apperr.NewError(apperr.CodeProviderRateLimited, "throttled by upstream")

	// ErrRetriesExhausted 用于 errors.Is 判断重试耗尽
	ErrRetriesExhausted = apperr.NewError(apperr.CodeRetriesExhausted, "rate limiter retries exhausted")
)

// ThrottleError 携带上游建议等待时间的限流错误
type ThrottleError struct {
	Source     string
	RetryAfter time.Duration
	Cause      error
}

func (e *ThrottleError) Error() string {
	msg := fmt.Sprintf("%s throttled", e.Source)
	if e.RetryAfter > 0 {
		msg += fmt.Sprintf(" (retry after %s)", e.RetryAfter)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ThrottleError) Unwrap() error {
	return e.Cause
}

func retriesExhausted(name string, attempts int, last error) error {
	return apperr.WrapError(apperr.CodeRetriesExhausted,
		fmt.Sprintf("%s still throttled after %d attempts", name, attempts), last).
		WithContext("call", name).
		WithContext("attempts", attempts)
}
