package timing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSleep_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := Sleep(ctx, 5*time.Second)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestSleep_Completes(t *testing.T) {
	start := time.Now()
	assert.NoError(t, SystemClock{}.Sleep(context.Background(), 20*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestSleep_NonPositive(t *testing.T) {
	assert.NoError(t, Sleep(context.Background(), 0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, 0), context.Canceled)
}

func TestManualClock(t *testing.T) {
	start := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)
	c := NewManualClock(start)

	assert.Equal(t, start, c.Now())
	c.Advance(time.Second)
	assert.NoError(t, c.Sleep(context.Background(), 2*time.Second))
	assert.Equal(t, start.Add(3*time.Second), c.Now())
	assert.Equal(t, []time.Duration{2 * time.Second}, c.Sleeps())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, c.Sleep(ctx, time.Minute))
	assert.Equal(t, start.Add(3*time.Second), c.Now(), "取消的等待不应推进时间")
}
