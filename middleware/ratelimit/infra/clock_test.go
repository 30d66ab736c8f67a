package infra

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// manualClock só anda quando o teste manda (ou no Sleep, se advanceOnSleep).
type manualClock struct {
	mu             sync.Mutex
	now            int64
	advanceOnSleep bool
	slept          []time.Duration
}

func (c *manualClock) NowMicros() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += d.Microseconds()
}

func (c *manualClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slept = append(c.slept, d)
	if c.advanceOnSleep {
		c.now += d.Microseconds()
	}
	return nil
}

func TestSystemClock_IsMonotonic(t *testing.T) {
	c := NewSystemClock()
	a := c.NowMicros()
	time.Sleep(2 * time.Millisecond)
	b := c.NowMicros()
	assert.GreaterOrEqual(t, b-a, int64(2000))
}

func TestSystemClock_SleepStopsOnCancel(t *testing.T) {
	c := NewSystemClock()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := c.Sleep(ctx, time.Second)
	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestSystemClock_SleepZeroReturnsImmediately(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, NewSystemClock().Sleep(ctx, 0))
}
