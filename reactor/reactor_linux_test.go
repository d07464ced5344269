//go:build linux

package reactor_test

import (
	"testing"
	"time"

	"github.com/momentics/hioload-evloop/reactor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func newReactor(t *testing.T) reactor.Reactor {
	t.Helper()
	r, err := reactor.New(reactor.WithMaxEvents(16))
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestTimersFireInDeadlineOrder(t *testing.T) {
	r := newReactor(t)
	var order []int
	t2 := r.NewTimer(func() { order = append(order, 2) })
	t1 := r.NewTimer(func() { order = append(order, 1); t2.Arm(0) })
	t3 := r.NewTimer(func() { order = append(order, 3); r.Stop() })
	t1.Arm(time.Millisecond)
	t3.Arm(30 * time.Millisecond)
	assert.True(t, t1.Pending())

	require.NoError(t, r.Loop())
	assert.Equal(t, []int{1, 2, 3}, order)
	assert.False(t, t3.Pending())
}

func TestTimerCancelAndRearm(t *testing.T) {
	r := newReactor(t)
	fired := 0
	tm := r.NewTimer(func() { fired++ })
	tm.Arm(0)
	tm.Cancel()
	assert.False(t, tm.Pending())
	time.Sleep(time.Millisecond)
	require.NoError(t, r.LoopOnce())
	assert.Equal(t, 0, fired)

	tm.Arm(time.Hour)
	tm.Arm(0)
	time.Sleep(time.Millisecond)
	require.NoError(t, r.LoopOnce())
	assert.Equal(t, 1, fired)
}

func TestSignalWakesLoopFromAnotherGoroutine(t *testing.T) {
	r := newReactor(t)
	hits := 0
	sig, err := r.NewSignal(func() {
		hits++
		r.Stop()
	})
	require.NoError(t, err)
	defer sig.Close()

	notified := make(chan error, 1)
	go func() {
		time.Sleep(5 * time.Millisecond)
		err := sig.Notify()
		// may land after the loop stopped
		sig.Notify()
		notified <- err
	}()

	done := make(chan error, 1)
	go func() { done <- r.Loop() }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("loop was not woken by signal")
	}
	assert.NoError(t, <-notified)
	assert.GreaterOrEqual(t, hits, 1)
}

func TestStopFromAnotherGoroutine(t *testing.T) {
	r := newReactor(t)
	done := make(chan error, 1)
	go func() { done <- r.Loop() }()
	time.Sleep(5 * time.Millisecond)
	r.Stop()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not interrupt Loop")
	}
}

func TestRegisterDescriptorReadiness(t *testing.T) {
	r := newReactor(t)
	var p [2]int
	require.NoError(t, unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC))
	defer unix.Close(p[0])
	defer unix.Close(p[1])

	var got []byte
	require.NoError(t, r.Register(uintptr(p[0]), reactor.EventRead, func(fd uintptr, ev reactor.FDEventType) {
		assert.NotZero(t, ev&reactor.EventRead)
		buf := make([]byte, 16)
		n, _ := unix.Read(int(fd), buf)
		got = append(got, buf[:n]...)
	}))

	_, err := unix.Write(p[1], []byte("ping"))
	require.NoError(t, err)
	require.NoError(t, r.LoopOnce())
	assert.Equal(t, "ping", string(got))

	require.NoError(t, r.Unregister(uintptr(p[0])))
	_, err = unix.Write(p[1], []byte("x"))
	require.NoError(t, err)
	require.NoError(t, r.LoopOnce())
	assert.Equal(t, "ping", string(got))
}

func TestClosedReactorRejectsPasses(t *testing.T) {
	r, err := reactor.New()
	require.NoError(t, err)
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
	assert.ErrorIs(t, r.LoopOnce(), reactor.ErrClosed)
}
