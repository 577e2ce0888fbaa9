package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"marketroute/pkg/app"
	"marketroute/pkg/config"
	"marketroute/pkg/logger"

	"github.com/gin-gonic/gin"
)

var (
	configPath = flag.String("config", "", "配置文件路径 (例如 config/marketroute.yaml)")
	port       = flag.String("port", "", "监听端口，覆盖配置文件")
	logLevel   = flag.String("log-level", "", "日志级别 (debug, info, warn, error)")
	logFormat  = flag.String("log-format", "", "日志格式 (json or text)")
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
	if *port != "" {
		cfg.Server.Port = *port
	}
	logger.Init(cfg.Logger)
	log := logger.WithComponent("api_server")

	gin.SetMode(cfg.Server.Mode)

	ctx := context.Background()
	routes, err := app.New(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("初始化路由组件失败")
	}
	defer routes.Close()

	server := NewAPIServer(routes.Executor, routes.Status, routes.Redis, cfg.Fetch.Timeout, log)
	server.Start(cfg.Server.Port)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutting down API server...")
	server.Stop()
}
