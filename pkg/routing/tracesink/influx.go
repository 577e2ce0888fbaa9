// Package tracesink 把供应商尝试记录写入 InfluxDB，便于按供应商统计成功率与耗时。
package tracesink

import (
	"context"
	"fmt"
	"sync"
	"time"

	"marketroute/pkg/config"
	"marketroute/pkg/logger"
	"marketroute/pkg/routing"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/sirupsen/logrus"
)

// Measurement 尝试记录写入的 measurement 名称
const Measurement = "vendor_attempt"

// PointWriter 异步写入点，influxdb2 的 api.WriteAPI 满足该接口
type PointWriter interface {
	WritePoint(point *write.Point)
	Flush()
}

// InfluxSink 以 InfluxDB 点的形式记录尝试
type InfluxSink struct {
	writer PointWriter
	client influxdb2.Client
	log    *logrus.Entry

	mu      sync.Mutex
	written int64
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewInfluxSink 使用已有的写入器创建 sink
func NewInfluxSink(writer PointWriter) *InfluxSink {
	return &InfluxSink{
		writer: writer,
		log:    logger.WithComponent("InfluxTraceSink"),
	}
}

// Dial 连接 InfluxDB 并创建 sink，连接失败或健康检查未通过时返回错误
func Dial(ctx context.Context, cfg config.InfluxConfig) (*InfluxSink, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to InfluxDB: %w", err)
	}
	if health.Status != "pass" {
		client.Close()
		return nil, fmt.Errorf("InfluxDB health check failed: %s", health.Status)
	}

	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)
	sink := NewInfluxSink(writeAPI)
	sink.client = client

	errCtx, cancel := context.WithCancel(context.Background())
	sink.cancel = cancel
	sink.done = make(chan struct{})
	go sink.handleWriteErrors(errCtx, writeAPI.Errors())
	return sink, nil
}

// Point 把尝试记录转换为 InfluxDB 点
func Point(rec routing.AttemptRecord) *write.Point {
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	p := influxdb2.NewPointWithMeasurement(Measurement).
		AddTag("method", string(rec.Method)).
		AddTag("provider", string(rec.Provider)).
		AddTag("role", string(rec.Role)).
		AddTag("status", string(rec.Status)).
		AddField("callable", rec.Callable).
		AddField("duration_ms", float64(rec.Duration)/float64(time.Millisecond)).
		SetTime(ts)
	if rec.Err != nil {
		p.AddField("error", rec.Err.Error())
	}
	return p
}

// Record 实现 routing.TraceSink
func (s *InfluxSink) Record(_ context.Context, rec routing.AttemptRecord) {
	s.writer.WritePoint(Point(rec))
	s.mu.Lock()
	s.written++
	s.mu.Unlock()
}

// Written 返回已写入的点数
func (s *InfluxSink) Written() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}

func (s *InfluxSink) handleWriteErrors(ctx context.Context, errorsCh <-chan error) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errorsCh:
			if !ok {
				return
			}
			s.log.WithError(err).Error("InfluxDB write error")
		}
	}
}

// Close 刷新缓冲并关闭连接
func (s *InfluxSink) Close() {
	s.writer.Flush()
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	if s.client != nil {
		s.client.Close()
	}
}
