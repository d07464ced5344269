package concurrency_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/momentics/hioload-evloop/api"
	"github.com/momentics/hioload-evloop/core/concurrency"
	"github.com/momentics/hioload-evloop/fake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func limits(lo, mid, hi uint32) [api.NumPriorities]uint32 {
	return [api.NumPriorities]uint32{api.PriorityLow: lo, api.PriorityMid: mid, api.PriorityHigh: hi}
}

func newQueue(t *testing.T, capacity int, l [api.NumPriorities]uint32, priorities bool) (*concurrency.TaskQueue, *fake.Reactor) {
	t.Helper()
	r := fake.NewReactor()
	q, err := concurrency.NewTaskQueue(r, capacity, l, priorities)
	require.NoError(t, err)
	return q, r
}

func TestTaskQueueFIFOWithinBucket(t *testing.T) {
	q, r := newQueue(t, 64, limits(100, 100, 100), true)
	var got []int
	for i := 0; i < 10; i++ {
		i := i
		require.NoError(t, q.AddWithPriority(func() { got = append(got, i) }, api.PriorityMid))
	}
	require.NoError(t, r.LoopOnce())
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, got)
	assert.EqualValues(t, 10, q.Executed())
	assert.Zero(t, q.Len())
}

func TestTaskQueueBoundedPriorityPreference(t *testing.T) {
	const k = 2
	q, r := newQueue(t, 64, limits(1, 1, k), true)
	var order []string
	for i := 0; i < 5; i++ {
		require.NoError(t, q.AddWithPriority(func() { order = append(order, "hi") }, api.PriorityHigh))
		require.NoError(t, q.AddWithPriority(func() { order = append(order, "lo") }, api.PriorityLow))
	}

	// first wake-up: k high tasks, then one low task
	require.NoError(t, r.LoopOnce())
	assert.Equal(t, []string{"hi", "hi", "lo"}, order)

	// low priority work keeps progressing on every wake-up
	for q.Len() > 0 {
		require.NoError(t, r.LoopOnce())
	}
	lo := 0
	for _, s := range order {
		if s == "lo" {
			lo++
		}
	}
	assert.Equal(t, 5, lo)
	assert.Len(t, order, 10)
}

func TestTaskQueueResignalsWhenWorkRemains(t *testing.T) {
	q, r := newQueue(t, 64, limits(1, 1, 1), true)
	ran := 0
	for i := 0; i < 3; i++ {
		require.NoError(t, q.Add(func() { ran++ }))
	}
	require.NoError(t, r.LoopOnce())
	assert.Equal(t, 1, ran)
	require.NoError(t, r.LoopOnce())
	require.NoError(t, r.LoopOnce())
	assert.Equal(t, 3, ran)
	// nothing left: no further wake-up is pending
	require.NoError(t, r.LoopOnce())
	assert.Equal(t, 3, ran)
}

func TestTaskQueueCapacity(t *testing.T) {
	const capacity = 8
	q, r := newQueue(t, capacity, limits(100, 100, 100), true)
	ran := 0
	for i := 0; i < capacity; i++ {
		require.NoError(t, q.AddWithPriority(func() { ran++ }, api.Priority(i%api.NumPriorities)))
	}
	err := q.Add(func() { ran++ })
	require.Error(t, err)
	assert.ErrorIs(t, err, concurrency.ErrQueueOverloaded)
	assert.ErrorIs(t, err, api.ErrOverloaded)
	assert.Equal(t, api.ErrCodeOverloaded, api.CodeOf(err))
	assert.EqualValues(t, 1, q.Rejected())

	require.NoError(t, r.LoopOnce())
	assert.Equal(t, capacity, ran)
	require.NoError(t, q.Add(func() { ran++ }))
}

func TestTaskQueuePrioritiesDisabledRemapsToTop(t *testing.T) {
	q, _ := newQueue(t, 16, limits(0, 0, 4), false)
	require.NoError(t, q.AddWithPriority(func() {}, api.PriorityLow))
	require.NoError(t, q.AddWithPriority(func() {}, api.PriorityMid))
	assert.Equal(t, [api.NumPriorities]int{0, 0, 2}, q.LenByPriority())
}

func TestTaskQueueRejectsInvalidInput(t *testing.T) {
	q, _ := newQueue(t, 16, limits(1, 1, 1), true)
	assert.ErrorIs(t, q.AddWithPriority(func() {}, api.Priority(7)), concurrency.ErrInvalidPriority)
	assert.ErrorIs(t, q.AddWithPriority(func() {}, api.Priority(-1)), concurrency.ErrInvalidPriority)
	assert.ErrorIs(t, q.Add(nil), api.ErrInvalidArgument)
}

func TestTaskQueueConfigValidation(t *testing.T) {
	r := fake.NewReactor()
	_, err := concurrency.NewTaskQueue(r, 0, limits(1, 1, 1), true)
	assert.ErrorIs(t, err, api.ErrConfiguration)

	_, err = concurrency.NewTaskQueue(r, 10, limits(0, 1, 1), true)
	assert.ErrorIs(t, err, api.ErrConfiguration)

	_, err = concurrency.NewTaskQueue(r, 10, limits(0, 0, 0), false)
	assert.ErrorIs(t, err, api.ErrConfiguration)

	_, err = concurrency.NewTaskQueue(r, 10, limits(0, 0, 1), false)
	assert.NoError(t, err)
}

func TestTaskQueueShutdownIsIdempotentAndRejects(t *testing.T) {
	q, r := newQueue(t, 16, limits(1, 1, 1), true)
	q.SetCloseEventLoopOnShutdown()
	ran := 0
	for i := 0; i < 4; i++ {
		require.NoError(t, q.Add(func() { ran++ }))
	}
	q.Shutdown()
	q.Shutdown()
	assert.True(t, q.IsShutdown())

	err := q.Add(func() { ran += 100 })
	assert.ErrorIs(t, err, concurrency.ErrQueueShutdown)
	assert.True(t, errors.Is(err, api.ErrShutdown))

	// accepted tasks all run in the final drain, then the reactor stops
	require.NoError(t, r.Loop())
	assert.Equal(t, 4, ran)
	assert.Zero(t, q.Len())
}

func TestTaskQueueTasksSubmittedDuringFinalDrainAreRejected(t *testing.T) {
	q, r := newQueue(t, 16, limits(1, 1, 1), true)
	q.SetCloseEventLoopOnShutdown()
	var inner error
	require.NoError(t, q.Add(func() { inner = q.Add(func() {}) }))
	q.Shutdown()
	require.NoError(t, r.Loop())
	assert.ErrorIs(t, inner, concurrency.ErrQueueShutdown)
}

func TestTaskQueueRecoversPanickingTask(t *testing.T) {
	q, r := newQueue(t, 16, limits(4, 4, 4), true)
	after := false
	require.NoError(t, q.Add(func() { panic("boom") }))
	require.NoError(t, q.Add(func() { after = true }))
	require.NoError(t, r.LoopOnce())
	assert.True(t, after)
	assert.EqualValues(t, 2, q.Executed())
}

func TestTaskQueueConcurrentProducers(t *testing.T) {
	const producers, perProducer = 8, 500
	q, r := newQueue(t, producers*perProducer, limits(64, 64, 64), true)
	q.SetCloseEventLoopOnShutdown()

	seen := make(map[int]int)
	loopDone := make(chan error, 1)
	go func() { loopDone <- r.Loop() }()

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				v := p*perProducer + i
				assert.NoError(t, q.AddWithPriority(func() { seen[v]++ }, api.Priority(i%api.NumPriorities)))
			}
		}(p)
	}
	wg.Wait()
	q.Shutdown()
	require.NoError(t, <-loopDone)

	assert.Len(t, seen, producers*perProducer)
	for v, n := range seen {
		if n != 1 {
			t.Fatalf("task %d ran %d times", v, n)
		}
	}
}
