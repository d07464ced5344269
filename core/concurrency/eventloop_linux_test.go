//go:build linux

package concurrency_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/momentics/hioload-evloop/api"
	"github.com/momentics/hioload-evloop/core/concurrency"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func newEpollLoop(t *testing.T, name string) *concurrency.EventLoop {
	t.Helper()
	l, err := concurrency.NewEventLoop(concurrency.DefaultConfig(name))
	require.NoError(t, err)
	return l
}

func TestEpollLoopExactlyOnceAcrossProducers(t *testing.T) {
	l := newEpollLoop(t, "epoll-producers")
	const producers, perProducer = 8, 1000

	counts := make([]int, producers*perProducer) // loop thread only
	var running atomic.Int32
	var overlap atomic.Bool
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				v := p*perProducer + i
				err := l.AddWithPriority(func() {
					if running.Add(1) != 1 {
						overlap.Store(true)
					}
					if unix.Gettid() != l.TID() {
						overlap.Store(true)
					}
					counts[v]++
					running.Add(-1)
				}, api.Priority(i%api.NumPriorities))
				if !assert.NoError(t, err) {
					return
				}
			}
		}(p)
	}
	wg.Wait()
	require.NoError(t, l.Close())

	assert.False(t, overlap.Load(), "tasks overlapped or ran off the loop thread")
	for v, n := range counts {
		if n != 1 {
			t.Fatalf("task %d ran %d times", v, n)
		}
	}
}

func TestEpollLoopTIDIsKernelThread(t *testing.T) {
	l := newEpollLoop(t, "epoll-tid")
	defer l.Close()
	tid := make(chan int, 1)
	require.NoError(t, l.Add(func() { tid <- unix.Gettid() }))
	select {
	case got := <-tid:
		assert.Equal(t, l.TID(), got)
		assert.NotEqual(t, unix.Gettid(), got)
	case <-time.After(5 * time.Second):
		t.Fatal("task did not run")
	}
}

func TestEpollLoopSchedule(t *testing.T) {
	l := newEpollLoop(t, "epoll-schedule")
	defer l.Close()

	fired := make(chan bool, 1)
	start := time.Now()
	h, err := l.Schedule(20*time.Millisecond, func() { fired <- l.IsCurrent() })
	require.NoError(t, err)
	select {
	case onLoop := <-fired:
		assert.True(t, onLoop)
		assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduled callback did not fire")
	}
	<-h.Done()
	assert.NoError(t, h.Err())
	assert.NoError(t, h.Cancel())
	assert.NoError(t, h.Err())
}

func TestEpollLoopScheduleCancel(t *testing.T) {
	l := newEpollLoop(t, "epoll-cancel")
	defer l.Close()

	var fired atomic.Bool
	h, err := l.Schedule(50*time.Millisecond, func() { fired.Store(true) })
	require.NoError(t, err)
	require.NoError(t, h.Cancel())
	assert.ErrorIs(t, h.Err(), concurrency.ErrScheduleCanceled)

	time.Sleep(120 * time.Millisecond)
	assert.False(t, fired.Load())
}

func TestEpollLoopAccumulatesDelayWhenBlocked(t *testing.T) {
	cfg := concurrency.DefaultConfig("epoll-delay")
	cfg.DelayCheckInterval = 10 * time.Millisecond
	l, err := concurrency.NewEventLoop(cfg)
	require.NoError(t, err)
	defer l.Close()

	// keep the loop busy well past a probe cycle
	deadline := time.Now().Add(2 * time.Second)
	for l.DelayMicros() == 0 && time.Now().Before(deadline) {
		require.NoError(t, l.Add(func() { time.Sleep(15 * time.Millisecond) }))
		time.Sleep(5 * time.Millisecond)
	}
	assert.Positive(t, l.DelayMicros())
}
