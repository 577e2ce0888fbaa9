// Package fetch 并行执行一批数据方法，所有调用都经过同一个执行器。
package fetch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"marketroute/pkg/logger"
	"marketroute/pkg/routing"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// DefaultMaxWorkers 默认并发数
const DefaultMaxWorkers = 5

// Executor 执行单个数据方法
type Executor interface {
	Execute(ctx context.Context, method routing.Method, args ...any) (string, error)
}

// Task 一个抓取任务
type Task struct {
	Name   string
	Method routing.Method
	Args   []any
}

// Result 单个任务的结果
type Result struct {
	Name     string
	Value    string
	Err      error
	Duration time.Duration
}

// OK 任务是否成功
func (r Result) OK() bool {
	return r.Err == nil
}

// Results 一批任务的结果，失败的任务不影响其他任务
type Results struct {
	ByName  map[string]Result
	Order   []string
	Elapsed time.Duration
}

// Get 返回任务的结果文本，失败或不存在时返回 false
func (r *Results) Get(name string) (string, bool) {
	res, ok := r.ByName[name]
	if !ok || res.Err != nil {
		return "", false
	}
	return res.Value, true
}

// Succeeded 返回成功任务数
func (r *Results) Succeeded() int {
	n := 0
	for _, res := range r.ByName {
		if res.OK() {
			n++
		}
	}
	return n
}

// Failed 返回失败的任务名，按提交顺序
func (r *Results) Failed() []string {
	var out []string
	for _, name := range r.Order {
		if !r.ByName[name].OK() {
			out = append(out, name)
		}
	}
	return out
}

// FetchParallel 以最多 maxWorkers 个并发执行任务
// 单个任务失败只记录错误；ctx 取消后尚未开始的任务以 ctx.Err() 结束
func FetchParallel(ctx context.Context, ex Executor, tasks []Task, maxWorkers int) *Results {
	if maxWorkers <= 0 {
		maxWorkers = DefaultMaxWorkers
	}
	log := logger.WithComponent("ParallelFetch")

	results := &Results{
		ByName: make(map[string]Result, len(tasks)),
		Order:  make([]string, 0, len(tasks)),
	}
	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(maxWorkers)

	start := time.Now()
	for _, task := range tasks {
		results.Order = append(results.Order, task.Name)
		g.Go(func() error {
			res := runTask(ctx, ex, task)
			entry := log.WithFields(logrus.Fields{
				"task":     task.Name,
				"method":   task.Method,
				"duration": res.Duration.String(),
			})
			if res.Err != nil {
				entry.WithError(res.Err).Warn("任务失败")
			} else {
				entry.Debug("任务完成")
			}

			mu.Lock()
			results.ByName[task.Name] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	results.Elapsed = time.Since(start)

	failed := results.Failed()
	entry := log.WithFields(logrus.Fields{
		"succeeded": results.Succeeded(),
		"total":     len(tasks),
		"elapsed":   results.Elapsed.String(),
	})
	if len(failed) > 0 {
		entry.WithField("failed", failed).Warn("并行抓取完成，部分任务失败")
	} else {
		entry.Info("并行抓取完成")
	}
	return results
}

func runTask(ctx context.Context, ex Executor, task Task) Result {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return Result{Name: task.Name, Err: err}
	}
	value, err := ex.Execute(ctx, task.Method, task.Args...)
	return Result{
		Name:     task.Name,
		Value:    value,
		Err:      err,
		Duration: time.Since(start),
	}
}

// ComprehensiveTasks 构造一只股票的标准抓取批次：行情、新闻、基本面、资产负债表与内部人交易
func ComprehensiveTasks(ticker, startDate, endDate, currentDate string) []Task {
	return []Task{
		{Name: "price_data", Method: routing.MethodStockData, Args: []any{ticker, startDate, endDate}},
		{Name: "news", Method: routing.MethodNews, Args: []any{ticker, startDate, endDate}},
		{Name: "fundamentals", Method: routing.MethodFundamentals, Args: []any{ticker, currentDate}},
		{Name: "balance_sheet", Method: routing.MethodBalanceSheet, Args: []any{ticker, currentDate}},
		{Name: "insider_transactions", Method: routing.MethodInsiderTransactions, Args: []any{ticker, currentDate}},
	}
}

// IndicatorTasks 把指标分组为多个 get_indicators 任务
func IndicatorTasks(ticker, startDate, endDate string, groups [][]string) []Task {
	tasks := make([]Task, 0, len(groups))
	for i, indicators := range groups {
		tasks = append(tasks, Task{
			Name:   fmt.Sprintf("indicators_batch_%d", i),
			Method: routing.MethodIndicators,
			Args:   []any{ticker, startDate, endDate, indicators},
		})
	}
	return tasks
}
