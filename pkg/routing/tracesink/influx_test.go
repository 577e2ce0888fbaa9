package tracesink

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"marketroute/pkg/routing"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryWriter struct {
	mu      sync.Mutex
	points  []*write.Point
	flushed int
}

func (w *memoryWriter) WritePoint(p *write.Point) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.points = append(w.points, p)
}

func (w *memoryWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.flushed++
}

func tagsOf(p *write.Point) map[string]string {
	out := make(map[string]string)
	for _, t := range p.TagList() {
		out[t.Key] = t.Value
	}
	return out
}

func fieldsOf(p *write.Point) map[string]interface{} {
	out := make(map[string]interface{})
	for _, f := range p.FieldList() {
		out[f.Key] = f.Value
	}
	return out
}

func TestPoint(t *testing.T) {
	ts := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)
	p := Point(routing.AttemptRecord{
		Method:    routing.MethodNews,
		Provider:  routing.ProviderGoogle,
		Role:      routing.RoleFallback,
		Callable:  "google.get_news",
		Status:    routing.StatusFailed,
		Err:       errors.New("timeout"),
		Duration:  1500 * time.Millisecond,
		Timestamp: ts,
	})

	assert.Equal(t, Measurement, p.Name())
	assert.Equal(t, ts, p.Time())
	assert.Equal(t, map[string]string{
		"method":   "get_news",
		"provider": "google",
		"role":     "fallback",
		"status":   "failed",
	}, tagsOf(p))

	fields := fieldsOf(p)
	assert.Equal(t, "google.get_news", fields["callable"])
	assert.Equal(t, 1500.0, fields["duration_ms"])
	assert.Equal(t, "timeout", fields["error"])
}

func TestInfluxSinkWithExecutor(t *testing.T) {
	reg, err := routing.NewRegistryBuilder().
		Category(routing.CategoryNews, "", routing.MethodNews).
		BindFunc(routing.MethodNews, routing.ProviderFinnhub, "", func(ctx context.Context, args routing.Args) (any, error) {
			return nil, errors.New("down")
		}).
		BindFunc(routing.MethodNews, routing.ProviderOpenAI, "", func(ctx context.Context, args routing.Args) (any, error) {
			return "news", nil
		}).
		Build()
	require.NoError(t, err)

	w := &memoryWriter{}
	sink := NewInfluxSink(w)
	rec := &routing.Recorder{}
	ex := routing.NewExecutor(reg, routing.NewResolver(reg, routing.Settings{}), routing.MultiSink{sink, rec})

	text, err := ex.Execute(context.Background(), routing.MethodNews, "TSLA")
	require.NoError(t, err)
	assert.Equal(t, "news", text)

	assert.Equal(t, int64(2), sink.Written())
	require.Len(t, w.points, 2)
	assert.Equal(t, "failed", tagsOf(w.points[0])["status"])
	assert.Equal(t, "success", tagsOf(w.points[1])["status"])
	assert.Len(t, rec.Records(), 2)

	sink.Close()
	assert.Equal(t, 1, w.flushed)
}
