package routing

import (
	"fmt"

	apperr "marketroute/pkg/error"
)

var (
	// ErrUnknownMethod 方法未注册
	ErrUnknownMethod = apperr.NewError(apperr.CodeUnknownMethod, "unknown method")
	// ErrProviderRateLimited 供应商实现返回它（或包装它）表示自身被限流，执行器会转向下一个供应商
	ErrProviderRateLimited = apperr.NewError(apperr.CodeProviderRateLimited, "provider rate limited")
	// ErrAllVendorsFailed 所有供应商都失败或不适用
	ErrAllVendorsFailed = apperr.NewError(apperr.CodeAllVendorsFailed, "all vendor implementations failed")
)

// RateLimited 构造某个供应商的限流错误
func RateLimited(provider ProviderID, cause error) error {
	msg := fmt.Sprintf("%s rate limit exceeded", provider)
	if cause == nil {
		return apperr.NewError(apperr.CodeProviderRateLimited, msg).WithContext("provider", string(provider))
	}
	return apperr.WrapError(apperr.CodeProviderRateLimited, msg, cause).WithContext("provider", string(provider))
}

func unknownMethod(method Method) error {
	return apperr.Newf(apperr.CodeUnknownMethod, "method %q is not registered", method).
		WithContext("method", string(method))
}

func allVendorsFailed(method Method, attempted int) error {
	return apperr.Newf(apperr.CodeAllVendorsFailed, "all vendor implementations failed for method %q (%d provider attempts)", method, attempted).
		WithContext("method", string(method)).
		WithContext("attempted", attempted)
}
