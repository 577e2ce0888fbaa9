// Package decorators 为供应商实现提供可组合的保护层：熔断、频率控制与 token 预算。
package decorators

import (
	"marketroute/pkg/routing"
)

// Decorator 包装某个供应商的一个实现
type Decorator interface {
	Decorate(provider routing.ProviderID, c routing.Callable) routing.Callable
}

// DecoratorFunc 函数形式的 Decorator
type DecoratorFunc func(provider routing.ProviderID, c routing.Callable) routing.Callable

// Decorate 实现 Decorator
func (f DecoratorFunc) Decorate(provider routing.ProviderID, c routing.Callable) routing.Callable {
	return f(provider, c)
}

// DecoratorChain 装饰器链
// 先加入的装饰器在内层，最后加入的最先执行
type DecoratorChain struct {
	decorators []Decorator
}

// NewDecoratorChain 创建装饰器链
func NewDecoratorChain() *DecoratorChain {
	return &DecoratorChain{
		decorators: make([]Decorator, 0),
	}
}

// AddDecorator 添加装饰器到链中
func (dc *DecoratorChain) AddDecorator(d Decorator) *DecoratorChain {
	if d != nil {
		dc.decorators = append(dc.decorators, d)
	}
	return dc
}

// Len 返回链中装饰器数量
func (dc *DecoratorChain) Len() int {
	return len(dc.decorators)
}

// Apply 把装饰器链应用到单个实现
func (dc *DecoratorChain) Apply(provider routing.ProviderID, c routing.Callable) routing.Callable {
	current := c
	for _, d := range dc.decorators {
		current = d.Decorate(provider, current)
	}
	return current
}

// ApplyBinding 把装饰器链应用到供应商的全部实现
func (dc *DecoratorChain) ApplyBinding(provider routing.ProviderID, binding routing.Binding) routing.Binding {
	out := make(routing.Binding, len(binding))
	for i, c := range binding {
		out[i] = dc.Apply(provider, c)
	}
	return out
}

// Source 返回一个在 src 基础上套用装饰器链的 BindingSource
func (dc *DecoratorChain) Source(src routing.BindingSource) routing.BindingSource {
	return routing.BindingSourceFunc(func(method routing.Method, provider routing.ProviderID) (routing.Binding, bool) {
		binding, ok := src.BindingFor(method, provider)
		if !ok || len(dc.decorators) == 0 {
			return binding, ok
		}
		return dc.ApplyBinding(provider, binding), true
	})
}

// StatusReporter 可报告运行状态的装饰器
type StatusReporter interface {
	GetStatus() map[string]interface{}
}

// Status 收集链中各装饰器的状态，按由内到外的顺序排列
func (dc *DecoratorChain) Status() []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(dc.decorators))
	for _, d := range dc.decorators {
		if r, ok := d.(StatusReporter); ok {
			out = append(out, r.GetStatus())
		}
	}
	return out
}
