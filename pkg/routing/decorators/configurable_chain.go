package decorators

import (
	"fmt"
	"sort"

	"marketroute/pkg/limiter"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// DecoratorType 装饰器类型枚举
type DecoratorType string

const (
	FrequencyControlType DecoratorType = "frequency_control"
	CircuitBreakerType   DecoratorType = "circuit_breaker"
	TokenBudgetType      DecoratorType = "token_budget"
)

// DecoratorConfig 装饰器配置
type DecoratorConfig struct {
	Type     DecoratorType          `yaml:"type" mapstructure:"type"`
	Enabled  bool                   `yaml:"enabled" mapstructure:"enabled"`
	Priority int                    `yaml:"priority" mapstructure:"priority"` // 数值越小越靠内层，越接近供应商实现
	Config   map[string]interface{} `yaml:"config" mapstructure:"config"`
}

// ChainConfig 装饰器链完整配置
type ChainConfig struct {
	Decorators []DecoratorConfig `yaml:"decorators" mapstructure:"decorators"`
}

// ConfigurableDecoratorChain 可配置的装饰器链
type ConfigurableDecoratorChain struct {
	decorators []DecoratorConfig
	factory    *DecoratorFactory
}

// DecoratorFactory 根据配置创建装饰器
// token_budget 装饰器需要共享的限流器
type DecoratorFactory struct {
	limiter *limiter.Limiter
}

// NewDecoratorFactory 创建装饰器工厂，l 可以为空，此时 token_budget 装饰器不可用
func NewDecoratorFactory(l *limiter.Limiter) *DecoratorFactory {
	return &DecoratorFactory{limiter: l}
}

// NewConfigurableDecoratorChain 创建可配置装饰器链
func NewConfigurableDecoratorChain(factory *DecoratorFactory) *ConfigurableDecoratorChain {
	if factory == nil {
		factory = NewDecoratorFactory(nil)
	}
	return &ConfigurableDecoratorChain{
		decorators: make([]DecoratorConfig, 0),
		factory:    factory,
	}
}

// LoadFromViper 从 Viper 配置加载装饰器链配置，configKey 下为装饰器列表
func (cdc *ConfigurableDecoratorChain) LoadFromViper(v *viper.Viper, configKey string) error {
	var list []DecoratorConfig
	if err := v.UnmarshalKey(configKey, &list); err != nil {
		return fmt.Errorf("无法解析装饰器配置: %w", err)
	}
	cdc.decorators = list
	return nil
}

// LoadFromConfig 从配置结构体加载装饰器链配置
func (cdc *ConfigurableDecoratorChain) LoadFromConfig(config ChainConfig) {
	cdc.decorators = append([]DecoratorConfig(nil), config.Decorators...)
}

// AddDecorator 添加装饰器配置
func (cdc *ConfigurableDecoratorChain) AddDecorator(decoratorConfig DecoratorConfig) {
	cdc.decorators = append(cdc.decorators, decoratorConfig)
}

// Build 按优先级创建装饰器链
func (cdc *ConfigurableDecoratorChain) Build() (*DecoratorChain, error) {
	chain := NewDecoratorChain()
	for _, dc := range cdc.getSortedEnabledDecorators() {
		d, err := cdc.factory.Create(dc.Type, dc.Config)
		if err != nil {
			return nil, fmt.Errorf("无法创建装饰器 %s: %w", dc.Type, err)
		}
		chain.AddDecorator(d)
	}
	return chain, nil
}

// getSortedEnabledDecorators 获取按优先级排序的已启用装饰器
func (cdc *ConfigurableDecoratorChain) getSortedEnabledDecorators() []DecoratorConfig {
	enabled := make([]DecoratorConfig, 0, len(cdc.decorators))
	for _, d := range cdc.decorators {
		if d.Enabled {
			enabled = append(enabled, d)
		}
	}
	sort.SliceStable(enabled, func(i, j int) bool {
		return enabled[i].Priority < enabled[j].Priority
	})
	return enabled
}

// GetAppliedDecorators 获取将要应用的装饰器列表
func (cdc *ConfigurableDecoratorChain) GetAppliedDecorators() []DecoratorType {
	sorted := cdc.getSortedEnabledDecorators()
	types := make([]DecoratorType, len(sorted))
	for i, d := range sorted {
		types[i] = d.Type
	}
	return types
}

// Create 创建指定类型的装饰器，configMap 覆盖默认配置
func (df *DecoratorFactory) Create(decoratorType DecoratorType, configMap map[string]interface{}) (Decorator, error) {
	switch decoratorType {
	case FrequencyControlType:
		config := DefaultFrequencyControlConfig()
		if err := decodeConfig(configMap, config); err != nil {
			return nil, err
		}
		return NewFrequencyControl(config), nil
	case CircuitBreakerType:
		config := DefaultCircuitBreakerConfig()
		if err := decodeConfig(configMap, config); err != nil {
			return nil, err
		}
		return NewCircuitBreaker(config), nil
	case TokenBudgetType:
		if df.limiter == nil {
			return nil, fmt.Errorf("token_budget 装饰器需要限流器")
		}
		config := DefaultTokenBudgetConfig()
		if err := decodeConfig(configMap, config); err != nil {
			return nil, err
		}
		return NewTokenBudget(df.limiter, config), nil
	default:
		return nil, fmt.Errorf("不支持的装饰器类型: %s", decoratorType)
	}
}

// decodeConfig 把配置项解码到 out，时长支持 "200ms" 形式
func decodeConfig(configMap map[string]interface{}, out interface{}) error {
	if len(configMap) == 0 {
		return nil
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(configMap); err != nil {
		return fmt.Errorf("装饰器配置无效: %w", err)
	}
	return nil
}

// NewChainFromViper 便捷方法：从 Viper 配置创建装饰器链
func NewChainFromViper(v *viper.Viper, configKey string, l *limiter.Limiter) (*DecoratorChain, error) {
	chain := NewConfigurableDecoratorChain(NewDecoratorFactory(l))
	if err := chain.LoadFromViper(v, configKey); err != nil {
		return nil, err
	}
	return chain.Build()
}

// DefaultChainConfig 默认装饰器配置：频率控制在内层，token 预算其次，熔断在最外层
func DefaultChainConfig() ChainConfig {
	return ChainConfig{
		Decorators: []DecoratorConfig{
			{
				Type:     FrequencyControlType,
				Enabled:  true,
				Priority: 1,
				Config: map[string]interface{}{
					"min_interval": "200ms",
				},
			},
			{
				Type:     TokenBudgetType,
				Enabled:  true,
				Priority: 2,
				Config: map[string]interface{}{
					"providers":   []string{"openai"},
					"max_retries": 1,
				},
			},
			{
				Type:     CircuitBreakerType,
				Enabled:  true,
				Priority: 3,
				Config: map[string]interface{}{
					"max_requests":  5,
					"interval":      "60s",
					"timeout":       "30s",
					"ready_to_trip": 5,
				},
			},
		},
	}
}

// TestChainConfig 测试环境装饰器配置，全部关闭
func TestChainConfig() ChainConfig {
	return ChainConfig{
		Decorators: []DecoratorConfig{
			{Type: FrequencyControlType, Enabled: false, Priority: 1},
			{Type: TokenBudgetType, Enabled: false, Priority: 2},
			{Type: CircuitBreakerType, Enabled: false, Priority: 3},
		},
	}
}
