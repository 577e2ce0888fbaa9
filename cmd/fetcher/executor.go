package main

import (
	"context"
	"fmt"

	"marketroute/pkg/message"
	"marketroute/pkg/routing"
	"marketroute/pkg/scheduler"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// streamAdder 是 redis.Client 中用到的部分
type streamAdder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// StreamPublisher 把任务结果以消息形式发布到 Redis Streams
type StreamPublisher struct {
	client    streamAdder
	nodeID    string
	maxLength int64
	log       *logrus.Entry
}

// NewStreamPublisher 创建发布者，maxLength 大于 0 时按近似长度裁剪 Stream
func NewStreamPublisher(client streamAdder, nodeID string, maxLength int64, baseLog *logrus.Entry) *StreamPublisher {
	return &StreamPublisher{
		client:    client,
		nodeID:    nodeID,
		maxLength: maxLength,
		log:       baseLog.WithField("publisher", "redis_stream"),
	}
}

// Publish 实现 scheduler.Publisher
func (p *StreamPublisher) Publish(ctx context.Context, job *scheduler.Job, args routing.Args, report *routing.Report) error {
	msg := message.FromReport(p.nodeID, job.Config.Name, report, args)
	data, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("序列化消息失败: %w", err)
	}

	override := ""
	if job.Config.Output != nil {
		override = job.Config.Output.Stream
	}
	stream := message.GetStreamName(msg.Metadata.Method, override)

	xadd := &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{
			"data":   data,
			"method": msg.Metadata.Method,
			"job":    job.Config.Name,
		},
	}
	if p.maxLength > 0 {
		xadd.MaxLen = p.maxLength
		xadd.Approx = true
	}

	result := p.client.XAdd(ctx, xadd)
	if err := result.Err(); err != nil {
		return fmt.Errorf("发布消息到 Redis Streams 失败: %w", err)
	}

	p.log.WithFields(logrus.Fields{
		"job":       job.Config.Name,
		"stream":    stream,
		"messageID": result.Val(),
		"providers": msg.Metadata.Providers,
		"bytes":     len(data),
	}).Info("消息发布成功")
	return nil
}
