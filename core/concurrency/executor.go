// File: core/concurrency/executor.go
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Executor is a pool of worker goroutines for blocking work (metadata store
// I/O) that must never run on an event loop thread. Each worker owns a
// lock-free local queue; high priority tasks go through a shared channel
// that every worker polls first. Idle workers steal from their peers.

package concurrency

import (
	"log"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/momentics/hioload-evloop/api"
)

const localQueueSize = 1024

// Executor manages a pool of worker goroutines.
type Executor struct {
	name        string
	globalQueue chan TaskFunc
	wake        chan struct{}

	mu          sync.RWMutex
	localQueues []*LockFreeQueue[TaskFunc]
	workers     []*worker
	closed      bool
	wg          sync.WaitGroup

	next     atomic.Uint64
	executed atomic.Uint64
}

var _ api.Executor = (*Executor)(nil)

// NewExecutor starts numWorkers workers; zero or less means runtime.NumCPU.
func NewExecutor(name string, numWorkers int) *Executor {
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	e := &Executor{
		name:        name,
		globalQueue: make(chan TaskFunc, numWorkers*4),
		wake:        make(chan struct{}, numWorkers),
	}
	e.mu.Lock()
	e.spawn(numWorkers)
	e.mu.Unlock()
	return e
}

// spawn grows the pool to n workers. Caller holds e.mu.
func (e *Executor) spawn(n int) {
	for i := len(e.workers); i < n; i++ {
		q := NewLockFreeQueue[TaskFunc](localQueueSize)
		w := &worker{id: i, executor: e, localQueue: q, stopCh: make(chan struct{}), stoppedCh: make(chan struct{})}
		e.localQueues = append(e.localQueues, q)
		e.workers = append(e.workers, w)
		e.wg.Add(1)
		go w.run()
	}
}

// Submit enqueues task on a worker's local queue.
func (e *Executor) Submit(task func()) error {
	return e.SubmitWithPriority(task, api.PriorityLow)
}

// SubmitWithPriority enqueues task. PriorityHigh tasks use the shared queue
// and are picked up before any local work; other priorities are spread over
// local queues. Returns ErrExecutorClosed after Close and
// ErrExecutorOverloaded when every queue is full.
func (e *Executor) SubmitWithPriority(task func(), p api.Priority) error {
	if task == nil {
		return api.NewError(api.ErrCodeInvalidArgument, "nil task")
	}
	if !p.Valid() {
		return ErrInvalidPriority
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return ErrExecutorClosed
	}
	if p == api.PriorityHigh {
		select {
		case e.globalQueue <- task:
			e.notify()
			return nil
		default:
		}
	}
	n := uint64(len(e.localQueues))
	start := e.next.Add(1)
	for i := uint64(0); i < n; i++ {
		if e.localQueues[(start+i)%n].Enqueue(task) {
			e.notify()
			return nil
		}
	}
	select {
	case e.globalQueue <- task:
		e.notify()
		return nil
	default:
		return ErrExecutorOverloaded
	}
}

func (e *Executor) notify() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Resize scales the worker pool. Removed workers finish their local queue
// before exiting; Resize returns once they have.
func (e *Executor) Resize(newCount int) error {
	if newCount <= 0 {
		return ErrInvalidWorkerCount
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrExecutorClosed
	}
	current := len(e.workers)
	if newCount >= current {
		e.spawn(newCount)
		e.mu.Unlock()
		return nil
	}
	removed := append([]*worker(nil), e.workers[newCount:]...)
	e.workers = e.workers[:newCount]
	e.localQueues = e.localQueues[:newCount]
	for _, w := range removed {
		close(w.stopCh)
	}
	e.mu.Unlock()

	// Waiting without the lock lets tasks of removed workers submit again.
	for _, w := range removed {
		<-w.stoppedCh
	}
	log.Printf("[executor] %s resized %d -> %d workers", e.name, current, newCount)
	return nil
}

// Close stops accepting tasks, lets workers drain what was accepted and
// waits for them.
func (e *Executor) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	for _, w := range e.workers {
		close(w.stopCh)
	}
	e.mu.Unlock()
	e.wg.Wait()
}

// NumWorkers returns active worker count.
func (e *Executor) NumWorkers() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.workers)
}

// Pending returns the approximate number of queued tasks.
func (e *Executor) Pending() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	n := len(e.globalQueue)
	for _, q := range e.localQueues {
		n += q.Len()
	}
	return n
}

// Executed returns the number of tasks run so far.
func (e *Executor) Executed() uint64 { return e.executed.Load() }

// steal takes a task from any active local queue.
func (e *Executor) steal(skip int) (TaskFunc, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for i, q := range e.localQueues {
		if i == skip {
			continue
		}
		if task, ok := q.Dequeue(); ok {
			return task, true
		}
	}
	return nil, false
}

// worker runs tasks. stoppedCh is closed once the worker has drained its
// local queue and exited.
type worker struct {
	id         int
	executor   *Executor
	localQueue *LockFreeQueue[TaskFunc]
	stopCh     chan struct{}
	stoppedCh  chan struct{}
}

func (w *worker) run() {
	defer func() {
		w.executor.wg.Done()
		close(w.stoppedCh)
	}()
	e := w.executor
	for {
		select {
		case <-w.stopCh:
			w.drain()
			return
		default:
		}
		select {
		case task := <-e.globalQueue:
			w.safeExecute(task)
			continue
		default:
		}
		if task, ok := w.localQueue.Dequeue(); ok {
			w.safeExecute(task)
			continue
		}
		if task, ok := e.steal(w.id); ok {
			w.safeExecute(task)
			continue
		}
		select {
		case task := <-e.globalQueue:
			w.safeExecute(task)
		case <-e.wake:
		case <-w.stopCh:
			w.drain()
			return
		}
	}
}

// drain runs everything left in the local queue and the shared queue.
func (w *worker) drain() {
	for {
		if task, ok := w.localQueue.Dequeue(); ok {
			w.safeExecute(task)
			continue
		}
		select {
		case task := <-w.executor.globalQueue:
			w.safeExecute(task)
			continue
		default:
		}
		return
	}
}

func (w *worker) safeExecute(task TaskFunc) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[executor] %s worker %d: task panicked: %v", w.executor.name, w.id, r)
		}
	}()
	w.executor.executed.Add(1)
	task()
}
