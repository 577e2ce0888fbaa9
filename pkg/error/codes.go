package error

// 路由与限流相关的错误代码
const (
	// CodeUnknownMethod 方法未在注册表中登记
	CodeUnknownMethod ErrorCode = "UNKNOWN_METHOD"
	// CodeProviderNotApplicable 提供商没有该方法的实现，只记录不算失败
	CodeProviderNotApplicable ErrorCode = "PROVIDER_NOT_APPLICABLE"
	// CodeProviderRateLimited 提供商报告自身被限流，立即切换到下一个提供商
	CodeProviderRateLimited ErrorCode = "PROVIDER_RATE_LIMITED"
	// CodeProviderCallFailed 提供商调用的其他失败
	CodeProviderCallFailed ErrorCode = "PROVIDER_CALL_FAILED"
	// CodeAllVendorsFailed 所有提供商都失败或不适用
	CodeAllVendorsFailed ErrorCode = "ALL_VENDORS_FAILED"
	// CodeRetriesExhausted 限流器在退避重试后仍被限流
	CodeRetriesExhausted ErrorCode = "RATE_LIMITER_RETRIES_EXHAUSTED"

	// CodeConfigInvalid 配置无效
	CodeConfigInvalid ErrorCode = "CONFIG_INVALID"
	// CodeCacheMiss 缓存未命中
	CodeCacheMiss ErrorCode = "CACHE_MISS"
)
