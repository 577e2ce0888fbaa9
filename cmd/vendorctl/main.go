// vendorctl 在命令行中执行一次方法路由并打印结果文本。
//
//	vendorctl -method get_stock_data AAPL 2024-01-01 2024-01-31
//	vendorctl -comprehensive AAPL 2024-01-01 2024-01-31 2024-01-31
//	vendorctl -list
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"marketroute/pkg/app"
	"marketroute/pkg/config"
	"marketroute/pkg/fetch"
	"marketroute/pkg/logger"
	"marketroute/pkg/routing"
)

var (
	configPath    = flag.String("config", "", "配置文件路径 (默认查找 config/marketroute.yaml)")
	method        = flag.String("method", "", "要执行的方法，例如 get_news")
	timeout       = flag.Duration("timeout", 2*time.Minute, "执行超时")
	comprehensive = flag.Bool("comprehensive", false, "并行抓取综合数据：参数为 ticker start end current")
	list          = flag.Bool("list", false, "列出已注册的方法与供应商")
	showReport    = flag.Bool("report", false, "以 JSON 输出尝试记录")
	logLevel      = flag.String("log-level", "warn", "日志级别")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}
	cfg.SetLogLevel(*logLevel)
	logger.Init(cfg.Logger)
	logger.SetOutput(os.Stderr)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	routes, err := app.New(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化路由组件失败: %v\n", err)
		os.Exit(1)
	}
	defer routes.Close()

	if err := run(ctx, routes, cfg, flag.Args(), os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		routes.Close()
		os.Exit(1)
	}
}

func run(ctx context.Context, routes *app.App, cfg *config.Config, args []string, out io.Writer) error {
	switch {
	case *list:
		printMethods(routes.Registry, out)
		return nil
	case *comprehensive:
		return runComprehensive(ctx, routes.Executor, cfg.Fetch.MaxWorkers, args, out)
	case *method != "":
		return runMethod(ctx, routes.Executor, routing.Method(*method), args, *showReport, out)
	default:
		return fmt.Errorf("需要 -method、-comprehensive 或 -list")
	}
}

func runMethod(ctx context.Context, ex *routing.Executor, m routing.Method, args []string, report bool, out io.Writer) error {
	positional := make([]any, len(args))
	for i, a := range args {
		positional[i] = a
	}

	rep, err := ex.ExecuteArgs(ctx, m, routing.NewArgs(positional...))
	if report && rep != nil {
		printReport(rep, out)
	}
	if err != nil {
		return err
	}
	if !report {
		fmt.Fprintln(out, rep.Text)
	}
	return nil
}

func runComprehensive(ctx context.Context, ex *routing.Executor, workers int, args []string, out io.Writer) error {
	if len(args) != 4 {
		return fmt.Errorf("-comprehensive 需要 4 个参数: ticker start end current")
	}
	results := fetch.FetchParallel(ctx, ex, fetch.ComprehensiveTasks(args[0], args[1], args[2], args[3]), workers)
	for _, name := range results.Order {
		r := results.ByName[name]
		fmt.Fprintf(out, "## %s (%s)\n", name, r.Duration.Round(time.Millisecond))
		if r.Err != nil {
			fmt.Fprintf(out, "error: %v\n\n", r.Err)
			continue
		}
		fmt.Fprintf(out, "%s\n\n", r.Value)
	}
	fmt.Fprintf(out, "完成 %d/%d，耗时 %s\n", results.Succeeded(), len(results.Order), results.Elapsed.Round(time.Millisecond))
	if results.Succeeded() == 0 {
		return fmt.Errorf("所有任务均失败: %s", strings.Join(results.Failed(), ", "))
	}
	return nil
}

func printMethods(reg *routing.Registry, out io.Writer) {
	for _, category := range reg.Categories() {
		fmt.Fprintf(out, "%s  %s\n", category, reg.Description(category))
		for _, m := range reg.MethodsIn(category) {
			providers := make([]string, 0)
			for _, p := range reg.Providers(m) {
				providers = append(providers, string(p))
			}
			fmt.Fprintf(out, "  %-26s %s\n", m, strings.Join(providers, ", "))
		}
	}
}

type attemptView struct {
	Provider string `json:"provider"`
	Role     string `json:"role"`
	Callable string `json:"callable,omitempty"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
	Duration string `json:"duration"`
}

func printReport(rep *routing.Report, out io.Writer) {
	view := struct {
		Method   string        `json:"method"`
		Order    []string      `json:"order"`
		Attempts []attemptView `json:"attempts"`
		Text     string        `json:"text"`
	}{Method: string(rep.Method), Text: rep.Text}

	for _, p := range rep.Order {
		view.Order = append(view.Order, string(p))
	}
	for _, a := range rep.Attempts {
		v := attemptView{
			Provider: string(a.Provider),
			Role:     string(a.Role),
			Callable: a.Callable,
			Status:   string(a.Status),
			Duration: a.Duration.String(),
		}
		if a.Err != nil {
			v.Error = a.Err.Error()
		}
		view.Attempts = append(view.Attempts, v)
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	_ = enc.Encode(view)
}
