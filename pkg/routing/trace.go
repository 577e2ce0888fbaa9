package routing

import (
	"context"
	"sync"
	"time"

	"marketroute/pkg/logger"

	"github.com/sirupsen/logrus"
)

// Role 供应商在一次执行中的角色
type Role string

const (
	RolePrimary  Role = "primary"
	RoleFallback Role = "fallback"
)

// AttemptStatus 尝试记录的状态
type AttemptStatus string

const (
	StatusSuccess       AttemptStatus = "success"
	StatusRateLimited   AttemptStatus = "rate_limited"
	StatusFailed        AttemptStatus = "failed"
	StatusNotApplicable AttemptStatus = "not_applicable"
	StatusSkipped       AttemptStatus = "skipped"
)

func statusOf(kind OutcomeKind) AttemptStatus {
	switch kind {
	case OutcomeSuccess:
		return StatusSuccess
	case OutcomeRateLimited:
		return StatusRateLimited
	default:
		return StatusFailed
	}
}

// AttemptRecord 一次供应商调用（或跳过）的记录
type AttemptRecord struct {
	Method    Method
	Provider  ProviderID
	Role      Role
	Callable  string
	Status    AttemptStatus
	Err       error
	Duration  time.Duration
	Timestamp time.Time
}

// TraceSink 接收尝试记录
type TraceSink interface {
	Record(ctx context.Context, rec AttemptRecord)
}

// LogSink 把尝试记录写入日志
type LogSink struct {
	log *logrus.Entry
}

// NewLogSink 创建日志记录器，entry 为空时使用路由组件日志
func NewLogSink(entry *logrus.Entry) *LogSink {
	if entry == nil {
		entry = logger.WithComponent("VendorTrace")
	}
	return &LogSink{log: entry}
}

// Record 实现 TraceSink
func (s *LogSink) Record(_ context.Context, rec AttemptRecord) {
	entry := s.log.WithFields(logrus.Fields{
		"method":   rec.Method,
		"provider": rec.Provider,
		"role":     rec.Role,
		"callable": rec.Callable,
		"status":   rec.Status,
		"duration": rec.Duration,
	})
	switch rec.Status {
	case StatusSuccess:
		entry.Debug("供应商调用成功")
	case StatusRateLimited:
		entry.WithError(rec.Err).Info("供应商被限流，转向下一个供应商")
	case StatusFailed:
		entry.WithError(rec.Err).Warn("供应商调用失败")
	default:
		entry.Debug("跳过供应商实现")
	}
}

// MultiSink 把记录分发给多个 sink
type MultiSink []TraceSink

// Record 实现 TraceSink
func (m MultiSink) Record(ctx context.Context, rec AttemptRecord) {
	for _, s := range m {
		if s != nil {
			s.Record(ctx, rec)
		}
	}
}

// Recorder 在内存中保存尝试记录，测试和诊断使用
type Recorder struct {
	mu      sync.Mutex
	records []AttemptRecord
}

// Record 实现 TraceSink
func (r *Recorder) Record(_ context.Context, rec AttemptRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
}

// Records 返回已保存记录的副本
func (r *Recorder) Records() []AttemptRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]AttemptRecord(nil), r.records...)
}

// Providers 返回按状态过滤后的供应商序列，status 为空时返回全部
func (r *Recorder) Providers(status AttemptStatus) []ProviderID {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []ProviderID
	for _, rec := range r.records {
		if status == "" || rec.Status == status {
			out = append(out, rec.Provider)
		}
	}
	return out
}

// Reset 清空记录
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = nil
}
