package routing

import (
	"context"
	"fmt"
	"strings"
	"time"

	apperr "marketroute/pkg/error"
	"marketroute/pkg/logger"
	"marketroute/pkg/timing"

	"github.com/sirupsen/logrus"
)

// Report 一次执行的完整结果
type Report struct {
	Method     Method
	Resolution Resolution
	Order      []ProviderID
	Attempts   []AttemptRecord
	Results    []string
	Text       string
}

// Executor 按尝试顺序调用供应商实现并聚合结果
// 除只读注册表外不持有可变状态，可并发使用
type Executor struct {
	registry *Registry
	resolver *Resolver
	sink     TraceSink
	clock    timing.TimeService
	log      *logrus.Entry
}

// ExecutorOption 执行器选项
type ExecutorOption func(*Executor)

// WithTimeService 替换执行器计时使用的时间源
func WithTimeService(ts timing.TimeService) ExecutorOption {
	return func(e *Executor) {
		if ts != nil {
			e.clock = ts
		}
	}
}

// NewExecutor 创建执行器，sink 为空时尝试记录写入日志
func NewExecutor(registry *Registry, resolver *Resolver, sink TraceSink, opts ...ExecutorOption) *Executor {
	e := &Executor{
		registry: registry,
		resolver: resolver,
		sink:     sink,
		clock:    timing.SystemClock{},
		log:      logger.WithComponent("VendorExecutor"),
	}
	if e.sink == nil {
		e.sink = NewLogSink(nil)
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry 返回执行器使用的注册表
func (e *Executor) Registry() *Registry {
	return e.registry
}

// AttemptOrder 计算尝试顺序：先首选供应商，再按注册顺序补上其余供应商，去重；
// 禁用本地数据源时两部分都去掉 local
func (e *Executor) AttemptOrder(res Resolution) []ProviderID {
	registered := e.registry.Providers(res.Method)
	order := make([]ProviderID, 0, len(res.Preferred)+len(registered))
	seen := make(map[ProviderID]bool, cap(order))

	add := func(p ProviderID) {
		if seen[p] || (res.DisableLocal && p == LocalProvider) {
			return
		}
		seen[p] = true
		order = append(order, p)
	}
	for _, p := range res.Preferred {
		add(p)
	}
	for _, p := range registered {
		add(p)
	}
	return order
}

// primaries 返回过滤 local 后的首选供应商集合
func primaries(res Resolution) map[ProviderID]bool {
	set := make(map[ProviderID]bool, len(res.Preferred))
	for _, p := range res.Preferred {
		if res.DisableLocal && p == LocalProvider {
			continue
		}
		set[p] = true
	}
	return set
}

// Execute 执行方法并返回聚合后的文本
func (e *Executor) Execute(ctx context.Context, method Method, args ...any) (string, error) {
	report, err := e.ExecuteArgs(ctx, method, NewArgs(args...))
	if err != nil {
		return "", err
	}
	return report.Text, nil
}

// ExecuteArgs 执行方法并返回包含尝试记录的报告
//
// 停止规则：
//   - 首选为单个供应商（或未配置）时，第一个成功的供应商之后停止，无论它是首选还是回退；
//   - 首选为多个供应商时，全部首选都会尝试；任一首选成功则不再尝试回退供应商，
//     全部失败时依次累积每个回退供应商的结果。
//
// 出错时同样返回已填充的报告。
func (e *Executor) ExecuteArgs(ctx context.Context, method Method, args Args) (*Report, error) {
	res, err := e.resolver.Resolve(method)
	if err != nil {
		return nil, err
	}

	report := &Report{
		Method:     method,
		Resolution: res,
		Order:      e.AttemptOrder(res),
	}
	primary := primaries(res)
	multi := len(primary) > 1
	primarySucceeded := false

	log := e.log.WithFields(logrus.Fields{
		"method":    method,
		"category":  res.Category,
		"preferred": res.Preferred,
	})
	log.Debugf("尝试顺序: %v", report.Order)

	for _, provider := range report.Order {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		role := RoleFallback
		if primary[provider] {
			role = RolePrimary
		}
		if multi && primarySucceeded && role == RoleFallback {
			break
		}

		binding, ok := e.registry.Binding(method, provider)
		if !ok {
			e.record(ctx, report, AttemptRecord{
				Method:   method,
				Provider: provider,
				Role:     role,
				Status:   StatusNotApplicable,
				Err: apperr.Newf(apperr.CodeProviderNotApplicable, "provider %s has no binding for %s", provider, method).
					WithContext("provider", string(provider)),
			})
			continue
		}

		succeeded, err := e.runProvider(ctx, report, provider, role, binding, args)
		if err != nil {
			return report, err
		}
		if !succeeded {
			continue
		}
		if role == RolePrimary {
			primarySucceeded = true
		}
		if !multi {
			break
		}
	}

	switch len(report.Results) {
	case 0:
		attempted := 0
		for _, a := range report.Attempts {
			if a.Status != StatusNotApplicable && a.Status != StatusSkipped {
				attempted++
			}
		}
		log.Warnf("所有供应商均未返回结果，共尝试 %d 次", attempted)
		return report, allVendorsFailed(method, attempted)
	case 1:
		report.Text = report.Results[0]
	default:
		report.Text = strings.Join(report.Results, "\n")
	}
	return report, nil
}

// runProvider 依次调用一个供应商的全部实现
// 各实现相互独立；某个实现被限流时该供应商本轮结束，剩余实现记为跳过
func (e *Executor) runProvider(ctx context.Context, report *Report, provider ProviderID, role Role, binding Binding, args Args) (bool, error) {
	succeeded := false
	for i, c := range binding {
		if err := ctx.Err(); err != nil {
			return succeeded, err
		}

		start := e.clock.Now()
		out := Classify(invoke(ctx, c, args))
		e.record(ctx, report, AttemptRecord{
			Method:   report.Method,
			Provider: provider,
			Role:     role,
			Callable: c.Name,
			Status:   statusOf(out.Kind),
			Err:      out.Err,
			Duration: e.clock.Now().Sub(start),
		})

		switch out.Kind {
		case OutcomeSuccess:
			report.Results = append(report.Results, out.Text)
			succeeded = true
		case OutcomeRateLimited:
			for _, rest := range binding[i+1:] {
				e.record(ctx, report, AttemptRecord{
					Method:   report.Method,
					Provider: provider,
					Role:     role,
					Callable: rest.Name,
					Status:   StatusSkipped,
				})
			}
			return succeeded, nil
		case OutcomeFailed:
		}
	}
	return succeeded, nil
}

// invoke 调用实现，panic 转换为 PROVIDER_CALL_FAILED 错误
func invoke(ctx context.Context, c Callable, args Args) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			value = nil
			err = apperr.NewError(apperr.CodeProviderCallFailed, fmt.Sprintf("callable %s panicked: %v", c.Name, r))
		}
	}()
	return c.Fn(ctx, args)
}

func (e *Executor) record(ctx context.Context, report *Report, rec AttemptRecord) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = e.clock.Now()
	}
	report.Attempts = append(report.Attempts, rec)
	e.sink.Record(ctx, rec)
}

// Elapsed 返回报告中所有尝试的总耗时
func (r *Report) Elapsed() time.Duration {
	var total time.Duration
	for _, a := range r.Attempts {
		total += a.Duration
	}
	return total
}
