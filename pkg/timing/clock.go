package timing

import (
	"context"
	"sync"
	"time"
)

// TimeService 提供当前时间接口，用于mock测试
type TimeService interface {
	Now() time.Time
}

// Clock 在 TimeService 的基础上提供可取消的等待
// 限流器和频率控制都通过它等待，测试中用 ManualClock 替换以避免真实休眠
type Clock interface {
	TimeService
	Sleep(ctx context.Context, d time.Duration) error
}

// SystemClock 使用系统实际时间
type SystemClock struct{}

// Now 返回系统当前时间
func (SystemClock) Now() time.Time {
	return time.Now()
}

// Sleep 等待 d，ctx 结束时提前返回 ctx.Err()
func (SystemClock) Sleep(ctx context.Context, d time.Duration) error {
	return Sleep(ctx, d)
}

// Sleep 可被 ctx 中断的等待
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ManualClock 手动推进的时钟，Sleep 不真正等待而是把时间向前推进
type ManualClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

// NewManualClock 创建从 start 开始的手动时钟
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

// Now 返回当前模拟时间
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance 推进模拟时间
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Sleep 记录等待时长并推进时间，ctx 已结束时不推进
func (c *ManualClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	if d > 0 {
		c.now = c.now.Add(d)
	}
	return nil
}

// Sleeps 返回所有记录的等待时长
func (c *ManualClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.sleeps))
	copy(out, c.sleeps)
	return out
}

var (
	_ Clock = SystemClock{}
	_ Clock = (*ManualClock)(nil)
)
