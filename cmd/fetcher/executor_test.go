package main

import (
	"context"
	"errors"
	"testing"

	"marketroute/pkg/logger"
	"marketroute/pkg/message"
	"marketroute/pkg/routing"
	"marketroute/pkg/scheduler"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStream struct {
	calls []*redis.XAddArgs
	err   error
}

func (f *fakeStream) XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd {
	f.calls = append(f.calls, a)
	return redis.NewStringResult("1700000000000-0", f.err)
}

func sampleReport() *routing.Report {
	return &routing.Report{
		Method: routing.MethodStockData,
		Attempts: []routing.AttemptRecord{
			{Provider: routing.ProviderYFinance, Role: routing.RolePrimary, Status: routing.StatusSuccess},
		},
		Results: []string{"prices"},
		Text:    "prices",
	}
}

func TestStreamPublisher(t *testing.T) {
	t.Run("发布到方法对应的Stream", func(t *testing.T) {
		stream := &fakeStream{}
		p := NewStreamPublisher(stream, "node-1", 500, logger.WithComponent("fetcher_test"))
		job := &scheduler.Job{Config: scheduler.JobConfig{Name: "prices", Method: "get_stock_data"}}

		require.NoError(t, p.Publish(context.Background(), job, routing.NewArgs("AAPL"), sampleReport()))
		require.Len(t, stream.calls, 1)

		call := stream.calls[0]
		assert.Equal(t, "stream:route:get_stock_data", call.Stream)
		assert.Equal(t, int64(500), call.MaxLen)
		assert.True(t, call.Approx)

		values, ok := call.Values.(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, "prices", values["job"])

		msg, err := message.FromJSON(values["data"].(string))
		require.NoError(t, err)
		assert.NoError(t, msg.Validate())
		assert.Equal(t, "node-1", msg.Header.Producer)
		assert.Equal(t, []string{"yfinance"}, msg.Metadata.Providers)
		assert.Equal(t, []string{"AAPL"}, msg.Metadata.Args)
	})

	t.Run("使用配置的Stream", func(t *testing.T) {
		stream := &fakeStream{}
		p := NewStreamPublisher(stream, "node-1", 0, logger.WithComponent("fetcher_test"))
		job := &scheduler.Job{Config: scheduler.JobConfig{
			Name:   "prices",
			Method: "get_stock_data",
			Output: &scheduler.OutputConfig{Type: "stream", Stream: "stream:custom"},
		}}

		require.NoError(t, p.Publish(context.Background(), job, routing.NewArgs(), sampleReport()))
		assert.Equal(t, "stream:custom", stream.calls[0].Stream)
		assert.Zero(t, stream.calls[0].MaxLen)
	})

	t.Run("Redis错误", func(t *testing.T) {
		stream := &fakeStream{err: errors.New("connection refused")}
		p := NewStreamPublisher(stream, "node-1", 0, logger.WithComponent("fetcher_test"))
		job := &scheduler.Job{Config: scheduler.JobConfig{Name: "prices", Method: "get_stock_data"}}

		err := p.Publish(context.Background(), job, routing.NewArgs(), sampleReport())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection refused")
	})
}
