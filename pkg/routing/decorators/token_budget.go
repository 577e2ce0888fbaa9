package decorators

import (
	"context"

	"marketroute/pkg/limiter"
	"marketroute/pkg/routing"
)

// TokenBudgetConfig token 预算装饰器配置
type TokenBudgetConfig struct {
	Providers       []routing.ProviderID `yaml:"providers" mapstructure:"providers"`               // 需要计入预算的供应商，为空表示全部
	EstimatedTokens int                  `yaml:"estimated_tokens" mapstructure:"estimated_tokens"` // 0 表示按参数估算
	CacheEnabled    bool                 `yaml:"cache_enabled" mapstructure:"cache_enabled"`
	MaxRetries      int                  `yaml:"max_retries" mapstructure:"max_retries"` // 1 表示限流时立即交给执行器回退
	Enabled         bool                 `yaml:"enabled" mapstructure:"enabled"`
}

// DefaultTokenBudgetConfig 默认配置：只保护按 token 计费的 openai
func DefaultTokenBudgetConfig() *TokenBudgetConfig {
	return &TokenBudgetConfig{
		Providers:    []routing.ProviderID{routing.ProviderOpenAI},
		CacheEnabled: true,
		MaxRetries:   1,
		Enabled:      true,
	}
}

// TokenBudget 让供应商调用经过共享的 token 预算限流器
type TokenBudget struct {
	limiter *limiter.Limiter
	config  *TokenBudgetConfig
	applies map[routing.ProviderID]bool
}

// NewTokenBudget 创建 token 预算装饰器
func NewTokenBudget(l *limiter.Limiter, config *TokenBudgetConfig) *TokenBudget {
	if config == nil {
		config = DefaultTokenBudgetConfig()
	}
	applies := make(map[routing.ProviderID]bool, len(config.Providers))
	for _, p := range config.Providers {
		applies[p] = true
	}
	return &TokenBudget{limiter: l, config: config, applies: applies}
}

func (t *TokenBudget) covers(provider routing.ProviderID) bool {
	return len(t.applies) == 0 || t.applies[provider]
}

// Decorate 实现 Decorator
// 限流器重试耗尽后的限流错误转换为供应商限流，使执行器转向下一个供应商
func (t *TokenBudget) Decorate(provider routing.ProviderID, callable routing.Callable) routing.Callable {
	if !t.config.Enabled || t.limiter == nil || !t.covers(provider) {
		return callable
	}

	opts := []limiter.Option{limiter.WithCache(t.config.CacheEnabled)}
	if t.config.EstimatedTokens > 0 {
		opts = append(opts, limiter.WithEstimatedTokens(t.config.EstimatedTokens))
	}
	if t.config.MaxRetries > 0 {
		opts = append(opts, limiter.WithMaxRetries(t.config.MaxRetries))
	}

	next := callable.Fn
	return routing.Callable{
		Name: callable.Name,
		Fn: func(ctx context.Context, args routing.Args) (any, error) {
			result, err := t.limiter.Guard(ctx, limiter.Call{
				Name:   callable.Name,
				Args:   args.Positional,
				Kwargs: args.Named,
				Fn: func(ctx context.Context) (any, error) {
					return next(ctx, args)
				},
			}, opts...)
			if err != nil && !routing.IsRateLimited(err) && t.limiter.IsThrottled(err) {
				return nil, routing.RateLimited(provider, err)
			}
			return result, err
		},
	}
}
