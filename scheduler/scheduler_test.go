package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func counter(n *int32, by int32) TaskFn {
	return func(context.Context) { atomic.AddInt32(n, by) }
}

func TestAddTicker_Fires(t *testing.T) {
	s := New(zap.NewNop())
	defer s.Stop()

	var count int32
	s.AddTicker("tick", 20*time.Millisecond, counter(&count, 1))

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&count) >= 3 },
		time.Second, 10*time.Millisecond)
}

func TestAddTicker_Replaces(t *testing.T) {
	s := New(zap.NewNop())
	defer s.Stop()

	var count1, count2 int32
	s.AddTicker("task", 20*time.Millisecond, counter(&count1, 1))
	time.Sleep(30 * time.Millisecond)
	s.AddTicker("task", 20*time.Millisecond, counter(&count2, 1))
	time.Sleep(80 * time.Millisecond)

	snap1 := atomic.LoadInt32(&count1)
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, snap1, atomic.LoadInt32(&count1), "old ticker must stop after replacement")
	assert.Positive(t, atomic.LoadInt32(&count2))
}

func TestAddDelay_FiresOnce(t *testing.T) {
	s := New(zap.NewNop())
	defer s.Stop()

	var count int32
	s.AddDelay("once", 30*time.Millisecond, counter(&count, 1))

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&count))
}

func TestAddDelay_ReplacesCancelsOld(t *testing.T) {
	s := New(zap.NewNop())
	defer s.Stop()

	var count int32
	s.AddDelay("d", 500*time.Millisecond, counter(&count, 1))
	s.AddDelay("d", 30*time.Millisecond, counter(&count, 10))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(10), atomic.LoadInt32(&count))
}

func TestRemove(t *testing.T) {
	s := New(zap.NewNop())
	defer s.Stop()

	var ticks, delayed int32
	s.AddTicker("task", 20*time.Millisecond, counter(&ticks, 1))
	s.AddDelay("d", 100*time.Millisecond, counter(&delayed, 1))
	time.Sleep(50 * time.Millisecond)
	s.Remove("task")
	s.Remove("d")
	s.Remove("nope")

	snap := atomic.LoadInt32(&ticks)
	time.Sleep(120 * time.Millisecond)
	assert.Equal(t, snap, atomic.LoadInt32(&ticks), "ticker must stop after Remove")
	assert.Zero(t, atomic.LoadInt32(&delayed))
}

func TestStop_CancelsRunningTask(t *testing.T) {
	s := New(zap.NewNop())

	started := make(chan struct{})
	var once atomic.Bool
	var cancelled atomic.Bool
	s.AddTicker("long", 10*time.Millisecond, func(ctx context.Context) {
		if !once.CompareAndSwap(false, true) {
			return
		}
		close(started)
		<-ctx.Done()
		cancelled.Store(true)
	})

	<-started
	s.Stop()
	assert.True(t, cancelled.Load())

	// No new tasks after Stop.
	s.AddTicker("late", 10*time.Millisecond, func(context.Context) {})
	assert.Empty(t, s.ListTickers())
}

func TestStop_Idempotent(t *testing.T) {
	s := New(zap.NewNop())
	s.Stop()
	s.Stop()
}

func TestListTickers(t *testing.T) {
	s := New(zap.NewNop())
	defer s.Stop()

	require.Empty(t, s.ListTickers())
	s.AddTicker("beta", time.Hour, func(context.Context) {})
	s.AddTicker("alpha", time.Hour, func(context.Context) {})
	assert.Equal(t, []string{"alpha", "beta"}, s.ListTickers())

	s.Remove("alpha")
	assert.Equal(t, []string{"beta"}, s.ListTickers())
}

func TestTicker_PanicRecovery(t *testing.T) {
	s := New(zap.NewNop())
	defer s.Stop()

	var calls int32
	s.AddTicker("panic", 20*time.Millisecond, func(context.Context) {
		atomic.AddInt32(&calls, 1)
		panic("oops")
	})
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&calls) >= 2 },
		time.Second, 10*time.Millisecond, "ticker keeps running after a panic")
}
