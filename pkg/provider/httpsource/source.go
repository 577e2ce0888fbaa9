// Package httpsource 通过 HTTP GET 调用按 URL 模板配置的数据供应商，原样返回响应文本。
package httpsource

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"marketroute/pkg/config"
	apperr "marketroute/pkg/error"
	"marketroute/pkg/limiter"
	"marketroute/pkg/logger"
	"marketroute/pkg/routing"

	"github.com/sirupsen/logrus"
)

const defaultTimeout = 15 * time.Second

var placeholder = regexp.MustCompile(`\{([A-Za-z0-9_]+)\}`)

// Source 一个 HTTP 数据供应商
type Source struct {
	provider   routing.ProviderID
	templates  map[routing.Method]string
	headers    map[string]string
	markers    []string
	httpClient *http.Client
	userAgent  string
	log        *logrus.Entry
}

// New 根据配置创建 HTTP 数据源
func New(provider routing.ProviderID, cfg config.SourceConfig) *Source {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	templates := make(map[routing.Method]string, len(cfg.Methods))
	for m, tpl := range cfg.Methods {
		templates[routing.Method(m)] = tpl
	}
	markers := make([]string, 0, len(cfg.RateLimitMarkers))
	for _, m := range cfg.RateLimitMarkers {
		if m = strings.ToLower(strings.TrimSpace(m)); m != "" {
			markers = append(markers, m)
		}
	}

	return &Source{
		provider:  provider,
		templates: templates,
		headers:   cfg.Headers,
		markers:   markers,
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     30 * time.Second,
				MaxConnsPerHost:     10,
			},
			Timeout: timeout,
		},
		userAgent: "marketroute/1.0",
		log:       logger.WithComponent("HTTPSource").WithField("provider", provider),
	}
}

// FromConfig 为每个启用的数据源创建 Source，按名称排序
func FromConfig(sources map[string]config.SourceConfig) []*Source {
	names := make([]string, 0, len(sources))
	for name, sc := range sources {
		if sc.Enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	out := make([]*Source, 0, len(names))
	for _, name := range names {
		out = append(out, New(routing.ProviderID(name), sources[name]))
	}
	return out
}

// Provider 返回供应商标识
func (s *Source) Provider() routing.ProviderID {
	return s.provider
}

// BindingFor 实现 routing.BindingSource
func (s *Source) BindingFor(method routing.Method, provider routing.ProviderID) (routing.Binding, bool) {
	if provider != s.provider {
		return nil, false
	}
	if _, ok := s.templates[method]; !ok {
		return nil, false
	}
	return routing.Binding{{
		Name: fmt.Sprintf("%s.%s", s.provider, method),
		Fn: func(ctx context.Context, args routing.Args) (any, error) {
			return s.Fetch(ctx, method, args)
		},
	}}, true
}

// Fetch 请求方法对应的 URL 并返回响应文本
// HTTP 429 或响应体中出现限流标记时返回供应商限流错误
func (s *Source) Fetch(ctx context.Context, method routing.Method, args routing.Args) (string, error) {
	tpl, ok := s.templates[method]
	if !ok {
		return "", apperr.Newf(apperr.CodeProviderNotApplicable, "%s has no url template for %s", s.provider, method)
	}
	target, err := BuildURL(tpl, args)
	if err != nil {
		return "", s.callFailed(method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", s.callFailed(method, fmt.Errorf("create request failed: %w", err))
	}
	req.Header.Set("User-Agent", s.userAgent)
	for k, v := range s.headers {
		req.Header.Set(k, os.ExpandEnv(v))
	}

	start := time.Now()
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", s.callFailed(method, fmt.Errorf("HTTP request failed: %w", err))
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return "", s.callFailed(method, fmt.Errorf("read response failed: %w", err))
	}

	s.log.WithFields(logrus.Fields{
		"method":   method,
		"status":   resp.StatusCode,
		"bytes":    len(body),
		"duration": time.Since(start).String(),
	}).Debug("HTTP 请求完成")

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", routing.RateLimited(s.provider, &limiter.ThrottleError{
			Source:     string(s.provider),
			RetryAfter: retryAfter(resp.Header.Get("Retry-After")),
			Cause:      fmt.Errorf("HTTP status %d", resp.StatusCode),
		})
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", s.callFailed(method, fmt.Errorf("HTTP status error: %d", resp.StatusCode))
	}

	text := string(body)
	if marker, hit := s.rateLimitMarker(text); hit {
		return "", routing.RateLimited(s.provider, fmt.Errorf("response contains %q", marker))
	}
	return text, nil
}

func (s *Source) rateLimitMarker(body string) (string, bool) {
	if len(s.markers) == 0 {
		return "", false
	}
	lower := strings.ToLower(body)
	for _, m := range s.markers {
		if strings.Contains(lower, m) {
			return m, true
		}
	}
	return "", false
}

func (s *Source) callFailed(method routing.Method, cause error) error {
	return apperr.WrapError(apperr.CodeProviderCallFailed, fmt.Sprintf("%s %s failed", s.provider, method), cause).
		WithContext("provider", string(s.provider)).
		WithContext("method", string(method))
}

// BuildURL 展开 URL 模板：先替换 ${ENV} 环境变量，再用参数填充 {0}、{1} 与 {name} 占位符
// 参数值经过查询转义；缺少参数时返回错误
func BuildURL(tpl string, args routing.Args) (string, error) {
	expanded := os.Expand(tpl, func(key string) string {
		return url.QueryEscape(os.Getenv(key))
	})

	var missing []string
	out := placeholder.ReplaceAllStringFunc(expanded, func(m string) string {
		key := m[1 : len(m)-1]
		var (
			v  any
			ok bool
		)
		if i, err := strconv.Atoi(key); err == nil {
			if i < len(args.Positional) {
				v, ok = args.Positional[i], true
			}
		} else {
			v, ok = args.Lookup(key)
		}
		if !ok {
			missing = append(missing, key)
			return m
		}
		return url.QueryEscape(formatArg(v))
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("missing url arguments: %s", strings.Join(missing, ", "))
	}
	return out, nil
}

func formatArg(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []string:
		return strings.Join(x, ",")
	case time.Time:
		return x.Format("2006-01-02")
	default:
		return fmt.Sprint(x)
	}
}

func retryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(header)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
