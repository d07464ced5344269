// File: core/concurrency/taskqueue.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// TaskQueue is the cross-thread submission queue of an event loop. Tasks are
// partitioned into priority buckets with a combined capacity and drained on
// the reactor thread a bounded number per bucket per wake-up.

package concurrency

import (
	"log"
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"
	"github.com/momentics/hioload-evloop/api"
	"github.com/momentics/hioload-evloop/reactor"
)

// TaskFunc is a unit of work to execute.
type TaskFunc func()

// entry is a queued task. Internal entries are loop housekeeping and stay
// out of the executed and rejected counters.
type entry struct {
	fn       TaskFunc
	internal bool
}

// TaskQueue delivers tasks from any goroutine to the reactor thread.
//
// Submissions over capacity fail with ErrQueueOverloaded instead of blocking.
// After Shutdown new submissions fail with ErrQueueShutdown while every task
// accepted earlier still runs exactly once.
type TaskQueue struct {
	mu       sync.Mutex
	buckets  [api.NumPriorities]*queue.Queue
	size     int
	capacity int

	limits     [api.NumPriorities]uint32
	priorities bool

	shutdown    atomic.Bool
	closeLoop   atomic.Bool
	pendingWake atomic.Bool

	r      reactor.Reactor
	signal reactor.Signal

	executed atomic.Uint64
	rejected atomic.Uint64

	// reactor thread only
	batch   []entry
	drained bool
}

// ValidateQueueConfig checks capacity and drain limits. Every bucket that
// can receive tasks needs a drain limit of at least one or it would starve.
func ValidateQueueConfig(capacity int, limits [api.NumPriorities]uint32, priorities bool) error {
	if capacity <= 0 {
		return api.NewError(api.ErrCodeConfiguration, "task queue capacity must be positive").
			WithContext("capacity", capacity)
	}
	if !priorities {
		if limits[api.PriorityHigh] == 0 {
			return api.NewError(api.ErrCodeConfiguration, "drain limit of the top bucket must be positive")
		}
		return nil
	}
	for p, l := range limits {
		if l == 0 {
			return api.NewError(api.ErrCodeConfiguration, "drain limit must be positive").
				WithContext("priority", api.Priority(p).String())
		}
	}
	return nil
}

// NewTaskQueue creates a queue bound to r. With priorities disabled every
// submission lands in the PriorityHigh bucket.
func NewTaskQueue(r reactor.Reactor, capacity int, limits [api.NumPriorities]uint32, priorities bool) (*TaskQueue, error) {
	if err := ValidateQueueConfig(capacity, limits, priorities); err != nil {
		return nil, err
	}
	q := &TaskQueue{
		capacity:   capacity,
		limits:     limits,
		priorities: priorities,
		r:          r,
	}
	for i := range q.buckets {
		q.buckets[i] = queue.New()
	}
	sig, err := r.NewSignal(q.onWake)
	if err != nil {
		return nil, err
	}
	q.signal = sig
	return q, nil
}

// SetCloseEventLoopOnShutdown makes shutdown also stop the bound reactor
// once the remaining accepted tasks have run.
func (q *TaskQueue) SetCloseEventLoopOnShutdown() {
	q.closeLoop.Store(true)
}

// Add enqueues fn at PriorityLow.
func (q *TaskQueue) Add(fn TaskFunc) error {
	return q.AddWithPriority(fn, api.PriorityLow)
}

// AddWithPriority enqueues fn into the bucket for p and wakes the reactor.
func (q *TaskQueue) AddWithPriority(fn TaskFunc, p api.Priority) error {
	return q.add(entry{fn: fn}, p)
}

// addInternal enqueues loop housekeeping that is not counted as user work.
func (q *TaskQueue) addInternal(fn TaskFunc, p api.Priority) error {
	return q.add(entry{fn: fn, internal: true}, p)
}

func (q *TaskQueue) add(e entry, p api.Priority) error {
	if e.fn == nil {
		return api.NewError(api.ErrCodeInvalidArgument, "nil task")
	}
	if !p.Valid() {
		return ErrInvalidPriority
	}
	if !q.priorities {
		p = api.PriorityHigh
	}
	q.mu.Lock()
	if q.shutdown.Load() {
		q.mu.Unlock()
		q.reject(e)
		return ErrQueueShutdown
	}
	if q.size >= q.capacity {
		q.mu.Unlock()
		q.reject(e)
		return ErrQueueOverloaded
	}
	q.buckets[p].Add(e)
	q.size++
	q.mu.Unlock()
	q.wake()
	return nil
}

func (q *TaskQueue) reject(e entry) {
	if !e.internal {
		q.rejected.Add(1)
	}
}

// Shutdown stops accepting tasks and wakes the reactor so it observes the
// flag. It is idempotent.
func (q *TaskQueue) Shutdown() {
	q.mu.Lock()
	already := q.shutdown.Swap(true)
	q.mu.Unlock()
	if !already {
		q.wake()
	}
}

// IsShutdown reports whether Shutdown has been called.
func (q *TaskQueue) IsShutdown() bool { return q.shutdown.Load() }

// Close releases the wake signal. Call only after the reactor thread exited.
func (q *TaskQueue) Close() error {
	if q.signal == nil {
		return nil
	}
	return q.signal.Close()
}

func (q *TaskQueue) wake() {
	if !q.pendingWake.CompareAndSwap(false, true) {
		return
	}
	if err := q.signal.Notify(); err != nil {
		log.Printf("[taskqueue] wake-up failed: %v", err)
	}
}

// onWake runs on the reactor thread for every wake-up.
func (q *TaskQueue) onWake() {
	q.pendingWake.Store(false)
	if q.shutdown.Load() {
		q.finish()
		return
	}
	q.drain(false)
	if q.shutdown.Load() {
		q.finish()
		return
	}
	if q.Len() > 0 {
		// yield to I/O and timers, continue on the next pass
		q.wake()
	}
}

// finish runs every remaining accepted task and, if configured, stops the
// reactor. Nothing can be added after shutdown so this terminates.
func (q *TaskQueue) finish() {
	if q.drained {
		return
	}
	for q.drain(true) > 0 {
	}
	q.drained = true
	if q.closeLoop.Load() {
		q.r.Stop()
	}
}

// drain pops tasks high to low, each bucket up to its limit unless all is
// set, then runs them outside the lock. Returns the number executed.
func (q *TaskQueue) drain(all bool) int {
	batch := q.batch[:0]
	q.mu.Lock()
	for p := api.NumPriorities - 1; p >= 0; p-- {
		b := q.buckets[p]
		n := b.Length()
		if !all && n > int(q.limits[p]) {
			n = int(q.limits[p])
		}
		for i := 0; i < n; i++ {
			batch = append(batch, b.Remove().(entry))
		}
	}
	q.size -= len(batch)
	q.mu.Unlock()

	for i, e := range batch {
		q.run(e)
		batch[i] = entry{}
	}
	q.batch = batch[:0]
	return len(batch)
}

// run executes e, recovering panics to keep the loop thread alive. The
// task is counted before it starts, so its effects imply the count.
func (q *TaskQueue) run(e entry) {
	if !e.internal {
		q.executed.Add(1)
	}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[taskqueue] task panicked: %v", r)
		}
	}()
	e.fn()
}

// Len returns the number of queued tasks across all buckets.
func (q *TaskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// LenByPriority returns the queued task count per bucket.
func (q *TaskQueue) LenByPriority() [api.NumPriorities]int {
	var out [api.NumPriorities]int
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, b := range q.buckets {
		out[i] = b.Length()
	}
	return out
}

// Capacity returns the combined bucket capacity.
func (q *TaskQueue) Capacity() int { return q.capacity }

// Executed returns the number of submitted tasks run so far.
func (q *TaskQueue) Executed() uint64 { return q.executed.Load() }

// Rejected returns the number of refused submissions.
func (q *TaskQueue) Rejected() uint64 { return q.rejected.Load() }
