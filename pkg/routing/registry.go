// Package routing 把逻辑数据方法路由到具体的数据供应商实现。
//
// Registry 记录方法、类别和供应商绑定；Resolver 根据配置得出供应商偏好；
// Executor 按尝试顺序调用实现，负责回退、聚合与尝试记录。
package routing

import (
	"context"
	"fmt"
	"sort"
	"strings"

	apperr "marketroute/pkg/error"
)

// Method 逻辑数据方法名，如 get_news
type Method string

// Category 方法类别，如 news_data
type Category string

// ProviderID 供应商标识，如 yfinance
type ProviderID string

// LocalProvider 本地数据源的供应商标识，可通过配置整体禁用
const LocalProvider ProviderID = "local"

// Args 方法调用参数：位置参数与关键字参数
type Args struct {
	Positional []any
	Named      map[string]any
}

// NewArgs 用位置参数构造 Args
func NewArgs(positional ...any) Args {
	return Args{Positional: positional}
}

// String 返回第 i 个位置参数的字符串形式，不存在时返回 false
func (a Args) String(i int) (string, bool) {
	if i < 0 || i >= len(a.Positional) {
		return "", false
	}
	switch v := a.Positional[i].(type) {
	case string:
		return v, true
	case nil:
		return "", false
	default:
		return fmt.Sprint(v), true
	}
}

// Lookup 返回关键字参数
func (a Args) Lookup(name string) (any, bool) {
	v, ok := a.Named[name]
	return v, ok
}

// Func 供应商实现的统一签名
type Func func(ctx context.Context, args Args) (any, error)

// Callable 带名称的供应商实现，名称出现在尝试记录中
type Callable struct {
	Name string
	Fn   Func
}

// Binding 一个供应商对某方法的实现列表，至少一个，按顺序调用
type Binding []Callable

// Registry 不可变的方法注册表
type Registry struct {
	categories     []Category
	categoryOf     map[Method]Category
	methodsOf      map[Category][]Method
	providers      map[Method][]ProviderID
	bindings       map[Method]map[ProviderID]Binding
	descriptions   map[Category]string
	orderedMethods []Method
}

// CategoryOf 返回方法所属类别
func (r *Registry) CategoryOf(method Method) (Category, bool) {
	c, ok := r.categoryOf[method]
	return c, ok
}

// Providers 返回方法已注册的供应商，保持注册顺序
func (r *Registry) Providers(method Method) []ProviderID {
	return append([]ProviderID(nil), r.providers[method]...)
}

// Binding 返回方法在某供应商下的实现
func (r *Registry) Binding(method Method, provider ProviderID) (Binding, bool) {
	b, ok := r.bindings[method][provider]
	if !ok {
		return nil, false
	}
	return append(Binding(nil), b...), true
}

// Has 判断方法是否已注册
func (r *Registry) Has(method Method) bool {
	_, ok := r.categoryOf[method]
	return ok
}

// Methods 返回所有方法，按类别与登记顺序排列
func (r *Registry) Methods() []Method {
	return append([]Method(nil), r.orderedMethods...)
}

// Categories 返回所有类别
func (r *Registry) Categories() []Category {
	return append([]Category(nil), r.categories...)
}

// MethodsIn 返回类别下的方法
func (r *Registry) MethodsIn(category Category) []Method {
	return append([]Method(nil), r.methodsOf[category]...)
}

// Description 返回类别说明
func (r *Registry) Description(category Category) string {
	return r.descriptions[category]
}

// RegistryBuilder 注册表构建器，Build 之后注册表不可变
type RegistryBuilder struct {
	categories   []Category
	descriptions map[Category]string
	categoryOf   map[Method]Category
	methodsOf    map[Category][]Method
	providers    map[Method][]ProviderID
	bindings     map[Method]map[ProviderID]Binding
	errs         []string
}

// NewRegistryBuilder 创建注册表构建器
func NewRegistryBuilder() *RegistryBuilder {
	return &RegistryBuilder{
		descriptions: make(map[Category]string),
		categoryOf:   make(map[Method]Category),
		methodsOf:    make(map[Category][]Method),
		providers:    make(map[Method][]ProviderID),
		bindings:     make(map[Method]map[ProviderID]Binding),
	}
}

// Category 登记类别及其方法
func (b *RegistryBuilder) Category(category Category, description string, methods ...Method) *RegistryBuilder {
	if _, exists := b.methodsOf[category]; !exists {
		b.categories = append(b.categories, category)
		b.methodsOf[category] = nil
	}
	if description != "" {
		b.descriptions[category] = description
	}
	for _, m := range methods {
		if existing, ok := b.categoryOf[m]; ok {
			if existing != category {
				b.errs = append(b.errs, fmt.Sprintf("method %s registered in both %s and %s", m, existing, category))
			}
			continue
		}
		b.categoryOf[m] = category
		b.methodsOf[category] = append(b.methodsOf[category], m)
	}
	return b
}

// Bind 为方法绑定供应商实现，对同一供应商重复调用会追加实现
func (b *RegistryBuilder) Bind(method Method, provider ProviderID, callables ...Callable) *RegistryBuilder {
	if provider == "" {
		b.errs = append(b.errs, fmt.Sprintf("empty provider id for method %s", method))
		return b
	}
	if len(callables) == 0 {
		b.errs = append(b.errs, fmt.Sprintf("no callables for %s/%s", method, provider))
		return b
	}
	for _, c := range callables {
		if c.Fn == nil {
			b.errs = append(b.errs, fmt.Sprintf("nil callable %q for %s/%s", c.Name, method, provider))
			return b
		}
	}

	if b.bindings[method] == nil {
		b.bindings[method] = make(map[ProviderID]Binding)
	}
	if _, exists := b.bindings[method][provider]; !exists {
		b.providers[method] = append(b.providers[method], provider)
	}
	for _, c := range callables {
		if c.Name == "" {
			c.Name = fmt.Sprintf("%s.%s", provider, method)
		}
		b.bindings[method][provider] = append(b.bindings[method][provider], c)
	}
	return b
}

// BindFunc 以单个函数绑定供应商实现
func (b *RegistryBuilder) BindFunc(method Method, provider ProviderID, name string, fn Func) *RegistryBuilder {
	return b.Bind(method, provider, Callable{Name: name, Fn: fn})
}

// Build 校验并生成注册表：每个方法恰好属于一个类别，且至少有一个供应商实现
func (b *RegistryBuilder) Build() (*Registry, error) {
	errs := append([]string(nil), b.errs...)

	for method := range b.bindings {
		if _, ok := b.categoryOf[method]; !ok {
			errs = append(errs, fmt.Sprintf("method %s is bound but belongs to no category", method))
		}
	}
	for method := range b.categoryOf {
		if len(b.providers[method]) == 0 {
			errs = append(errs, fmt.Sprintf("method %s has no provider binding", method))
		}
	}

	if len(errs) > 0 {
		sort.Strings(errs)
		return nil, apperr.NewError(apperr.CodeConfigInvalid, "invalid registry: "+strings.Join(errs, "; "))
	}

	r := &Registry{
		categories:   append([]Category(nil), b.categories...),
		categoryOf:   make(map[Method]Category, len(b.categoryOf)),
		methodsOf:    make(map[Category][]Method, len(b.methodsOf)),
		providers:    make(map[Method][]ProviderID, len(b.providers)),
		bindings:     make(map[Method]map[ProviderID]Binding, len(b.bindings)),
		descriptions: make(map[Category]string, len(b.descriptions)),
	}
	for m, c := range b.categoryOf {
		r.categoryOf[m] = c
	}
	for _, c := range b.categories {
		r.methodsOf[c] = append([]Method(nil), b.methodsOf[c]...)
		r.orderedMethods = append(r.orderedMethods, b.methodsOf[c]...)
		r.descriptions[c] = b.descriptions[c]
	}
	for m, ps := range b.providers {
		r.providers[m] = append([]ProviderID(nil), ps...)
	}
	for m, byProvider := range b.bindings {
		r.bindings[m] = make(map[ProviderID]Binding, len(byProvider))
		for p, binding := range byProvider {
			r.bindings[m][p] = append(Binding(nil), binding...)
		}
	}
	return r, nil
}
