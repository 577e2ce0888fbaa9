package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"marketroute/pkg/app"
	"marketroute/pkg/config"
	"marketroute/pkg/logger"
	"marketroute/pkg/routing"
	"marketroute/pkg/scheduler"

	"github.com/go-redis/redis/v8"
)

var (
	configPath = flag.String("config", "", "路由配置文件路径 (默认查找 config/marketroute.yaml)")
	jobsPath   = flag.String("jobs", "config/jobs.yaml", "任务配置文件路径")
	nodeID     = flag.String("node-id", "", "节点ID（默认自动生成）")
	maxLen     = flag.Int64("stream-maxlen", 10000, "Stream 近似最大长度，0 表示不裁剪")
	logLevel   = flag.String("log-level", "", "日志级别")
	logFormat  = flag.String("log-format", "", "日志格式 (json 或 text)")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Errorf("加载配置失败: %v", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.SetLogLevel(*logLevel)
	}
	if *logFormat != "" {
		cfg.Logger.Format = *logFormat
	}
	logger.Init(cfg.Logger)
	log := logger.WithComponent("fetcher")

	if *nodeID == "" {
		*nodeID = fmt.Sprintf("fetcher-%d", time.Now().Unix())
	}
	log.WithField("nodeID", *nodeID).Info("启动 Fetcher")

	// 结果发布需要 Redis，缓存是否使用 Redis 由配置决定
	log.Debugf("创建 Redis 客户端: %s", cfg.Redis.Addr)
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	err = redisClient.Ping(ctx).Err()
	cancel()
	if err != nil {
		log.Errorf("无法连接到 Redis: %v", err)
		os.Exit(1)
	}
	log.Info("Redis 连接成功")

	var opts []app.Option
	if cfg.Cache.RedisEnabled {
		opts = append(opts, app.WithRedisClient(redisClient))
	}
	routes, err := app.New(context.Background(), cfg, opts...)
	if err != nil {
		log.Errorf("初始化路由组件失败: %v", err)
		os.Exit(1)
	}

	executor := scheduler.NewRouteExecutor(routes.Executor, NewStreamPublisher(redisClient, *nodeID, *maxLen, log))

	jobScheduler := scheduler.NewJobScheduler()
	jobScheduler.SetExecutor(executor)
	jobScheduler.SetMethodFilter(func(method string) bool {
		return routes.Registry.Has(routing.Method(method))
	})

	log.Debugf("加载任务配置文件: %s", *jobsPath)
	if err := jobScheduler.LoadConfig(*jobsPath); err != nil {
		log.Errorf("加载任务配置失败: %v", err)
		os.Exit(1)
	}

	if err := jobScheduler.Start(); err != nil {
		log.Errorf("启动任务调度器失败: %v", err)
		os.Exit(1)
	}

	jobs := jobScheduler.GetAllJobs()
	log.Infof("已加载 %d 个任务", len(jobs))
	for _, job := range jobs {
		status := "启用"
		if !job.Config.Enabled {
			status = "禁用"
		}
		log.Debugf("任务详情: %s (%s): %s %s", job.Config.Name, status, job.Config.Schedule, job.Config.Method)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	log.Info("Fetcher 运行中，按 Ctrl+C 停止...")
	<-sigChan

	log.Info("收到停止信号，正在优雅关闭...")
	if err := jobScheduler.Stop(); err != nil {
		log.Errorf("停止任务调度器失败: %v", err)
	}

	routes.Close()
	if err := redisClient.Close(); err != nil {
		log.Errorf("关闭 Redis 连接失败: %v", err)
	}
	log.Info("Fetcher 已停止")
}
