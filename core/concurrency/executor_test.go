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
)

func TestExecutorRunsEveryTask(t *testing.T) {
	e := concurrency.NewExecutor("io", 4)
	const n = 2000
	var wg sync.WaitGroup
	var ran atomic.Int64
	wg.Add(n)
	for i := 0; i < n; i++ {
		p := api.Priority(i % api.NumPriorities)
		require.NoError(t, e.SubmitWithPriority(func() {
			ran.Add(1)
			wg.Done()
		}, p))
	}
	waitGroup(t, &wg)
	assert.EqualValues(t, n, ran.Load())
	e.Close()
	assert.EqualValues(t, n, e.Executed())
}

func TestExecutorCloseDrainsAndRejects(t *testing.T) {
	e := concurrency.NewExecutor("io", 2)
	var ran atomic.Int64
	for i := 0; i < 100; i++ {
		require.NoError(t, e.Submit(func() { ran.Add(1) }))
	}
	e.Close()
	e.Close()
	assert.EqualValues(t, 100, ran.Load())
	assert.ErrorIs(t, e.Submit(func() {}), concurrency.ErrExecutorClosed)
	assert.ErrorIs(t, e.Resize(4), api.ErrShutdown)
}

func TestExecutorResize(t *testing.T) {
	e := concurrency.NewExecutor("io", 2)
	defer e.Close()

	require.NoError(t, e.Resize(5))
	assert.Equal(t, 5, e.NumWorkers())
	require.NoError(t, e.Resize(1))
	assert.Equal(t, 1, e.NumWorkers())
	assert.ErrorIs(t, e.Resize(0), concurrency.ErrInvalidWorkerCount)

	var wg sync.WaitGroup
	wg.Add(10)
	for i := 0; i < 10; i++ {
		require.NoError(t, e.Submit(wg.Done))
	}
	waitGroup(t, &wg)
}

func TestExecutorSurvivesPanics(t *testing.T) {
	e := concurrency.NewExecutor("io", 1)
	defer e.Close()
	done := make(chan struct{})
	require.NoError(t, e.Submit(func() { panic("boom") }))
	require.NoError(t, e.Submit(func() { close(done) }))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not survive a panicking task")
	}
}

func TestExecutorRejectsInvalidInput(t *testing.T) {
	e := concurrency.NewExecutor("io", 1)
	defer e.Close()
	assert.ErrorIs(t, e.Submit(nil), api.ErrInvalidArgument)
	assert.ErrorIs(t, e.SubmitWithPriority(func() {}, api.Priority(9)), concurrency.ErrInvalidPriority)
}

func waitGroup(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for tasks")
	}
}

func TestExecutorPending(t *testing.T) {
	e := concurrency.NewExecutor("io", 1)
	defer e.Close()

	started, release := make(chan struct{}), make(chan struct{})
	require.NoError(t, e.Submit(func() {
		close(started)
		<-release
	}))
	<-started
	require.NoError(t, e.Submit(func() {}))
	require.NoError(t, e.SubmitWithPriority(func() {}, api.PriorityHigh))
	assert.Equal(t, 2, e.Pending())
	close(release)

	assert.Eventually(t, func() bool { return e.Pending() == 0 }, 5*time.Second, time.Millisecond)
}
