package routing

import (
	"errors"
	"fmt"

	apperr "marketroute/pkg/error"
)

// OutcomeKind 单次调用的结果类型
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeRateLimited
	OutcomeFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeRateLimited:
		return "rate_limited"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome 一次供应商调用的结果，Kind 为 OutcomeSuccess 时 Text 有效
type Outcome struct {
	Kind OutcomeKind
	Text string
	Err  error
}

// Classify 把调用返回值归类为 Outcome
func Classify(value any, err error) Outcome {
	if err == nil {
		return Outcome{Kind: OutcomeSuccess, Text: AsText(value)}
	}
	if IsRateLimited(err) {
		return Outcome{Kind: OutcomeRateLimited, Err: err}
	}
	return Outcome{Kind: OutcomeFailed, Err: err}
}

// IsRateLimited 判断错误是否表示供应商被限流
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrProviderRateLimited) || apperr.HasCode(err, apperr.CodeProviderRateLimited)
}

// AsText 把供应商返回值转换为文本；nil 视为空结果
func AsText(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}
