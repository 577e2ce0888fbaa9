package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	apperr "marketroute/pkg/error"
	"marketroute/pkg/routing"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const requestIDHeader = "X-Request-ID"

// RouteRequest 路由调用请求体
type RouteRequest struct {
	Args   []interface{}          `json:"args"`
	Kwargs map[string]interface{} `json:"kwargs,omitempty"`
}

// AttemptResponse 单次尝试
type AttemptResponse struct {
	Provider   string `json:"provider"`
	Role       string `json:"role"`
	Callable   string `json:"callable,omitempty"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// RouteResponse 路由调用结果
type RouteResponse struct {
	RequestID string            `json:"request_id"`
	Method    string            `json:"method"`
	Preferred []string          `json:"preferred"`
	Text      string            `json:"text"`
	Results   int               `json:"results"`
	Attempts  []AttemptResponse `json:"attempts"`
	ElapsedMs int64             `json:"elapsed_ms"`
}

// ErrorResponse 错误响应
type ErrorResponse struct {
	RequestID string            `json:"request_id,omitempty"`
	Error     string            `json:"error"`
	Message   string            `json:"message"`
	Attempts  []AttemptResponse `json:"attempts,omitempty"`
}

// APIServer 路由服务的 HTTP 入口
type APIServer struct {
	executor *routing.Executor
	status   func() map[string]interface{}
	redis    *redis.Client
	timeout  time.Duration
	logger   *logrus.Entry
	server   *http.Server
}

// NewAPIServer 创建 API 服务，redisClient 可以为空
func NewAPIServer(executor *routing.Executor, status func() map[string]interface{}, redisClient *redis.Client, timeout time.Duration, logger *logrus.Entry) *APIServer {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &APIServer{
		executor: executor,
		status:   status,
		redis:    redisClient,
		timeout:  timeout,
		logger:   logger,
	}
}

// Router 创建路由
func (s *APIServer) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(s.requestIDMiddleware())
	router.Use(s.loggingMiddleware())
	router.Use(s.corsMiddleware())

	router.GET("/health", s.healthCheck)

	v1 := router.Group("/v1")
	{
		v1.POST("/route/:method", s.route)
		v1.GET("/methods", s.methods)
		v1.GET("/limiter/status", s.limiterStatus)
	}
	return router
}

// Start 在后台启动 HTTP 服务
func (s *APIServer) Start(port string) {
	s.server = &http.Server{
		Addr:    ":" + port,
		Handler: s.Router(),
	}
	s.logger.WithField("port", port).Info("Starting API server...")

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Fatal("Failed to start HTTP server")
		}
	}()
}

// Stop 优雅关闭 HTTP 服务
func (s *APIServer) Stop() {
	if s.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.WithError(err).Error("Failed to gracefully shutdown server")
	}
}

func (s *APIServer) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func (s *APIServer) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.WithFields(logrus.Fields{
			"request_id": c.GetString("request_id"),
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"duration":   time.Since(start).String(),
		}).Debug("HTTP 请求")
	}
}

func (s *APIServer) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, "+requestIDHeader)

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (s *APIServer) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	services := map[string]string{}
	status := "ok"
	if s.redis != nil {
		if err := s.redis.Ping(ctx).Err(); err != nil {
			services["redis"] = "error: " + err.Error()
			status = "degraded"
		} else {
			services["redis"] = "ok"
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    status,
		"timestamp": time.Now(),
		"methods":   len(s.executor.Registry().Methods()),
		"services":  services,
	})
}

func (s *APIServer) route(c *gin.Context) {
	requestID := c.GetString("request_id")
	method := routing.Method(c.Param("method"))

	var req RouteRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				RequestID: requestID,
				Error:     "invalid_request",
				Message:   err.Error(),
			})
			return
		}
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.timeout)
	defer cancel()

	args := routing.Args{Positional: req.Args, Named: req.Kwargs}
	report, err := s.executor.ExecuteArgs(ctx, method, args)
	if err != nil {
		status, code := errorStatus(err)
		resp := ErrorResponse{
			RequestID: requestID,
			Error:     code,
			Message:   err.Error(),
		}
		if report != nil {
			resp.Attempts = attempts(report)
		}
		c.JSON(status, resp)
		return
	}

	preferred := make([]string, 0, len(report.Resolution.Preferred))
	for _, p := range report.Resolution.Preferred {
		preferred = append(preferred, string(p))
	}
	c.JSON(http.StatusOK, RouteResponse{
		RequestID: requestID,
		Method:    string(method),
		Preferred: preferred,
		Text:      report.Text,
		Results:   len(report.Results),
		Attempts:  attempts(report),
		ElapsedMs: report.Elapsed().Milliseconds(),
	})
}

func (s *APIServer) methods(c *gin.Context) {
	reg := s.executor.Registry()
	out := make(map[string]interface{}, len(reg.Categories()))
	for _, category := range reg.Categories() {
		methods := make([]gin.H, 0)
		for _, m := range reg.MethodsIn(category) {
			methods = append(methods, gin.H{
				"method":    m,
				"providers": reg.Providers(m),
			})
		}
		out[string(category)] = gin.H{
			"description": reg.Description(category),
			"methods":     methods,
		}
	}
	c.JSON(http.StatusOK, out)
}

func (s *APIServer) limiterStatus(c *gin.Context) {
	if s.status == nil {
		c.JSON(http.StatusOK, gin.H{})
		return
	}
	c.JSON(http.StatusOK, s.status())
}

func attempts(report *routing.Report) []AttemptResponse {
	out := make([]AttemptResponse, 0, len(report.Attempts))
	for _, rec := range report.Attempts {
		a := AttemptResponse{
			Provider:   string(rec.Provider),
			Role:       string(rec.Role),
			Callable:   rec.Callable,
			Status:     string(rec.Status),
			DurationMs: rec.Duration.Milliseconds(),
		}
		if rec.Err != nil {
			a.Error = rec.Err.Error()
		}
		out = append(out, a)
	}
	return out
}

// errorStatus 把执行错误映射为 HTTP 状态码与错误代码
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, context.Canceled):
		return 499, "canceled"
	case apperr.HasCode(err, apperr.CodeUnknownMethod):
		return http.StatusNotFound, string(apperr.CodeUnknownMethod)
	case apperr.HasCode(err, apperr.CodeAllVendorsFailed):
		return http.StatusBadGateway, string(apperr.CodeAllVendorsFailed)
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
