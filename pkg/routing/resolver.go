package routing

import (
	"strings"

	"marketroute/pkg/config"

	"golang.org/x/text/cases"
)

// Settings 供应商偏好配置
type Settings struct {
	CategoryDefaults map[Category]string // 类别 -> 逗号分隔的供应商列表
	MethodOverrides  map[Method]string   // 方法 -> 逗号分隔的供应商列表，优先于类别
	DisableLocal     *bool               // 为空时按禁用处理
}

// SettingsFromConfig 从应用配置提取供应商偏好
func SettingsFromConfig(cfg *config.Config) Settings {
	s := Settings{
		CategoryDefaults: make(map[Category]string, len(cfg.Vendors.DataVendors)),
		MethodOverrides:  make(map[Method]string, len(cfg.Vendors.ToolVendors)),
	}
	for k, v := range cfg.Vendors.DataVendors {
		s.CategoryDefaults[Category(k)] = v
	}
	for k, v := range cfg.Vendors.ToolVendors {
		s.MethodOverrides[Method(k)] = v
	}
	disable := cfg.LocalDisabled()
	s.DisableLocal = &disable
	return s
}

// Resolution 一次解析的结果
type Resolution struct {
	Method       Method
	Category     Category
	Preferred    []ProviderID // 首选供应商，按配置顺序，多个表示全部作为主供应商
	DisableLocal bool
}

// Resolver 根据配置解析方法的供应商偏好
type Resolver struct {
	registry *Registry
	settings Settings
}

// NewResolver 创建解析器
func NewResolver(registry *Registry, settings Settings) *Resolver {
	return &Resolver{registry: registry, settings: settings}
}

// Resolve 解析方法的类别与首选供应商
// 方法级配置优先于类别级配置；两者都没有时首选列表为空
func (r *Resolver) Resolve(method Method) (Resolution, error) {
	category, ok := r.registry.CategoryOf(method)
	if !ok {
		return Resolution{}, unknownMethod(method)
	}

	value, ok := r.settings.MethodOverrides[method]
	if !ok {
		value = r.settings.CategoryDefaults[category]
	}

	disable := true
	if r.settings.DisableLocal != nil {
		disable = *r.settings.DisableLocal
	}

	return Resolution{
		Method:       method,
		Category:     category,
		Preferred:    ParsePreference(value),
		DisableLocal: disable,
	}, nil
}

// ParsePreference 解析逗号分隔的供应商列表：去除空白与空项，统一大小写，保持顺序并去重
func ParsePreference(value string) []ProviderID {
	folder := cases.Fold()
	parts := strings.Split(value, ",")
	out := make([]ProviderID, 0, len(parts))
	seen := make(map[ProviderID]bool, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		id := ProviderID(folder.String(p))
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
