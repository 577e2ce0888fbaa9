package scheduler

import (
	"context"
	"fmt"

	"marketroute/pkg/logger"
	"marketroute/pkg/routing"

	"github.com/sirupsen/logrus"
)

// MethodRunner 按方法执行供应商路由
type MethodRunner interface {
	ExecuteArgs(ctx context.Context, method routing.Method, args routing.Args) (*routing.Report, error)
}

// Publisher 接收任务的执行报告
type Publisher interface {
	Publish(ctx context.Context, job *Job, args routing.Args, report *routing.Report) error
}

// PublisherFunc 函数形式的 Publisher
type PublisherFunc func(ctx context.Context, job *Job, args routing.Args, report *routing.Report) error

// Publish 实现 Publisher
func (f PublisherFunc) Publish(ctx context.Context, job *Job, args routing.Args, report *routing.Report) error {
	return f(ctx, job, args, report)
}

// RouteExecutor 把任务转换为一次路由执行，并把结果交给 Publisher
type RouteExecutor struct {
	runner    MethodRunner
	publisher Publisher
	log       *logrus.Entry
}

// NewRouteExecutor 创建路由任务执行器，publisher 为空时结果只写日志
func NewRouteExecutor(runner MethodRunner, publisher Publisher) *RouteExecutor {
	return &RouteExecutor{
		runner:    runner,
		publisher: publisher,
		log:       logger.WithComponent("RouteExecutor"),
	}
}

// JobArgs 根据任务配置构造调用参数
func JobArgs(cfg JobConfig) routing.Args {
	args := routing.NewArgs(cfg.Args...)
	if len(cfg.Kwargs) > 0 {
		args.Named = make(map[string]any, len(cfg.Kwargs))
		for k, v := range cfg.Kwargs {
			args.Named[k] = v
		}
	}
	return args
}

// Execute 实现 JobExecutor
func (e *RouteExecutor) Execute(ctx context.Context, job *Job) error {
	method := routing.Method(job.Config.Method)
	args := JobArgs(job.Config)

	report, err := e.runner.ExecuteArgs(ctx, method, args)
	if err != nil {
		return fmt.Errorf("执行方法 %s 失败: %w", method, err)
	}

	log := e.log.WithFields(logrus.Fields{
		"job":      job.Config.Name,
		"method":   method,
		"attempts": len(report.Attempts),
		"results":  len(report.Results),
	})

	if e.publisher == nil || (job.Config.Output != nil && job.Config.Output.Type == "log") {
		log.WithField("bytes", len(report.Text)).Info("任务结果未配置输出，仅记录日志")
		return nil
	}
	if err := e.publisher.Publish(ctx, job, args, report); err != nil {
		return fmt.Errorf("发布任务结果失败: %w", err)
	}
	log.Debug("任务结果已发布")
	return nil
}
