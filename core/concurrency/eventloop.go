// File: core/concurrency/eventloop.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// EventLoop binds one reactor, one task queue and one delay monitor to a
// dedicated OS thread. Construction blocks until that thread has finished
// bootstrapping; afterwards any goroutine may submit tasks, while tasks,
// timers and I/O callbacks only ever run on the loop thread.

package concurrency

import (
	"errors"
	"fmt"
	"log"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/momentics/hioload-evloop/affinity"
	"github.com/momentics/hioload-evloop/api"
	"github.com/momentics/hioload-evloop/reactor"
)

// Config describes an event loop.
type Config struct {
	Name                 string
	ThreadType           ThreadType
	QueueCapacity        int
	EnablePriorityQueues bool
	// RequestsPerIteration is the drain limit per bucket, indexed by
	// api.Priority.
	RequestsPerIteration [api.NumPriorities]uint32

	// PinCPU pins the loop thread to CPU.
	PinCPU bool
	CPU    int

	DelayCheckInterval time.Duration
	ReactorFactory     reactor.Factory
	Clock              func() time.Time
}

// DefaultConfig returns a loop configuration with priority queues enabled.
func DefaultConfig(name string) Config {
	return Config{
		Name:                 name,
		ThreadType:           ThreadTypeWorker,
		QueueCapacity:        8192,
		EnablePriorityQueues: true,
		RequestsPerIteration: [api.NumPriorities]uint32{
			api.PriorityLow:  4,
			api.PriorityMid:  8,
			api.PriorityHigh: 16,
		},
		DelayCheckInterval: DefaultDelayCheckInterval,
	}
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = "evloop"
	}
	if c.ThreadType == "" {
		c.ThreadType = ThreadTypeUnknown
	}
	if c.DelayCheckInterval <= 0 {
		c.DelayCheckInterval = DefaultDelayCheckInterval
	}
	if c.ReactorFactory == nil {
		c.ReactorFactory = func() (reactor.Reactor, error) { return reactor.New() }
	}
	return c
}

// LoopStats is a point-in-time view of a loop for metrics and debugging.
type LoopStats struct {
	Name         string
	ID           string
	Type         ThreadType
	TID          int
	Capacity     int
	Pending      [api.NumPriorities]int
	Executed     uint64
	Rejected     uint64
	DelayMicros  uint64
	DelaySamples uint64
	Running      bool
}

// EventLoop is a single-threaded executor built around a reactor.
type EventLoop struct {
	cfg     Config
	id      string
	r       reactor.Reactor
	queue   *TaskQueue
	monitor *DelayMonitor
	timer   reactor.Timer // loop thread only

	tid     atomic.Int64
	refs    atomic.Int64
	started bool
	done    chan struct{}
	exitErr error

	closeOnce sync.Once
	closeErr  error

	schedMu sync.Mutex
	pending map[*scheduled]struct{}
}

var _ api.Scheduler = (*EventLoop)(nil)

// NewEventLoop spawns the loop thread and waits for it to bootstrap. On
// failure the thread is joined before the error is returned; the error
// carries api.ErrCodeResourceExhausted, api.ErrCodeConfiguration or
// api.ErrCodeInternal.
func NewEventLoop(cfg Config) (*EventLoop, error) {
	cfg = cfg.withDefaults()
	l := &EventLoop{
		cfg:     cfg,
		id:      uuid.NewString(),
		done:    make(chan struct{}),
		pending: make(map[*scheduled]struct{}),
		monitor: NewDelayMonitor(cfg.DelayCheckInterval, cfg.Clock),
	}
	initCh := make(chan error, 1)
	go l.threadMain(initCh)
	if err := <-initCh; err != nil {
		<-l.done
		log.Printf("[eventloop] %s: construction failed: %v", cfg.Name, err)
		return nil, err
	}
	l.started = true
	return l, nil
}

func (l *EventLoop) threadMain(initCh chan<- error) {
	// Never unlocked: the OS thread terminates together with this goroutine.
	runtime.LockOSThread()
	defer close(l.done)
	tid := registerThread(l.cfg.ThreadType, l.cfg.Name)
	l.tid.Store(int64(tid))
	if err := l.init(); err != nil {
		unregisterThread(tid)
		initCh <- err
		return
	}
	initCh <- nil
	l.run(tid)
}

// init creates the reactor and queue, then forces one non-blocking pass so
// the bootstrap task has run before the constructor returns.
func (l *EventLoop) init() error {
	if l.cfg.PinCPU {
		if err := affinity.SetAffinity(l.cfg.CPU); err != nil {
			log.Printf("[eventloop] %s: cpu pinning failed: %v", l.cfg.Name, err)
		}
	}

	r, err := l.cfg.ReactorFactory()
	if err != nil {
		return l.constructError("reactor creation failed", err)
	}
	q, err := NewTaskQueue(r, l.cfg.QueueCapacity, l.cfg.RequestsPerIteration, l.cfg.EnablePriorityQueues)
	if err != nil {
		r.Close()
		return l.constructError("task queue creation failed", err)
	}
	q.SetCloseEventLoopOnShutdown()
	l.r, l.queue = r, q

	bootstrapped := false
	err = q.addInternal(func() {
		setCurrent(l)
		l.timer = r.NewTimer(l.monitor.Tick)
		l.monitor.Start(l.timer)
		bootstrapped = true
	}, api.PriorityHigh)
	if err == nil {
		err = r.LoopOnce()
	}
	if err == nil && !bootstrapped {
		err = errors.New("bootstrap task did not run")
	}
	if err != nil {
		if bootstrapped {
			l.monitor.Release()
			clearCurrent(int(l.tid.Load()))
		}
		q.Close()
		r.Close()
		return l.constructError("bootstrap failed", err)
	}
	return nil
}

func (l *EventLoop) constructError(msg string, cause error) error {
	code := api.CodeOf(cause)
	switch code {
	case api.ErrCodeResourceExhausted, api.ErrCodeConfiguration:
	default:
		code = api.ErrCodeInternal
	}
	return api.NewError(code, "eventloop: "+msg).
		WithContext("loop", l.cfg.Name).
		Wrap(cause)
}

// run drives the reactor until the queue requests stop.
func (l *EventLoop) run(tid int) {
	log.Printf("[eventloop] %s (%s, id=%s) running on thread %d", l.cfg.Name, l.cfg.ThreadType, l.id, tid)
	if err := l.r.Loop(); err != nil {
		l.exitErr = err
		log.Printf("[eventloop] %s: reactor loop exited abnormally: %v", l.cfg.Name, err)
		l.queue.Shutdown()
	}
	l.failScheduled()
	l.monitor.Release()
	clearCurrent(tid)
	unregisterThread(tid)
	log.Printf("[eventloop] %s: thread %d exiting", l.cfg.Name, tid)
}

// Add submits fn at api.PriorityLow.
func (l *EventLoop) Add(fn func()) error {
	return l.queue.Add(fn)
}

// AddWithPriority submits fn into bucket p. With priority queues disabled
// every task goes to the top bucket. Never waits for fn to run.
func (l *EventLoop) AddWithPriority(fn func(), p api.Priority) error {
	return l.queue.AddWithPriority(fn, p)
}

// Shutdown stops accepting tasks; already accepted tasks still run, then
// the loop thread exits. It does not wait.
func (l *EventLoop) Shutdown() {
	l.queue.Shutdown()
}

// Close shuts the loop down, joins its thread and releases the reactor.
// Closing a loop that is still referenced, or from its own thread, is a
// programming error and panics.
func (l *EventLoop) Close() error {
	if n := l.refs.Load(); n != 0 {
		panic(fmt.Sprintf("eventloop: %q closed with %d outstanding references", l.cfg.Name, n))
	}
	if !l.started {
		return nil
	}
	if l.IsCurrent() {
		panic(fmt.Sprintf("eventloop: %q closed from its own thread", l.cfg.Name))
	}
	l.closeOnce.Do(func() {
		l.queue.Shutdown()
		<-l.done
		l.closeErr = errors.Join(l.queue.Close(), l.r.Close())
	})
	return l.closeErr
}

// Acquire records an external reference that must be released before Close.
func (l *EventLoop) Acquire() *EventLoop {
	l.refs.Add(1)
	return l
}

// Release drops a reference taken with Acquire.
func (l *EventLoop) Release() {
	if l.refs.Add(-1) < 0 {
		panic(fmt.Sprintf("eventloop: %q released more often than acquired", l.cfg.Name))
	}
}

// Done is closed when the loop thread has exited.
func (l *EventLoop) Done() <-chan struct{} { return l.done }

// Err returns the abnormal reactor exit error once Done is closed.
func (l *EventLoop) Err() error {
	select {
	case <-l.done:
		return l.exitErr
	default:
		return nil
	}
}

// IsCurrent reports whether the caller runs on this loop's thread.
func (l *EventLoop) IsCurrent() bool { return Current() == l }

// Reactor returns the loop's reactor for registering descriptors and timers.
// It panics off the loop thread.
func (l *EventLoop) Reactor() reactor.Reactor {
	if !l.IsCurrent() {
		panic(fmt.Sprintf("eventloop: reactor of %q accessed off its thread", l.cfg.Name))
	}
	return l.r
}

func (l *EventLoop) Name() string           { return l.cfg.Name }
func (l *EventLoop) ID() string             { return l.id }
func (l *EventLoop) ThreadType() ThreadType { return l.cfg.ThreadType }
func (l *EventLoop) TID() int               { return int(l.tid.Load()) }

// DelayMicros returns the accumulated scheduling delay. Safe from any
// goroutine.
func (l *EventLoop) DelayMicros() uint64 { return l.monitor.DelayMicros() }

// Stats returns a snapshot of queue and delay counters.
func (l *EventLoop) Stats() LoopStats {
	running := true
	select {
	case <-l.done:
		running = false
	default:
	}
	return LoopStats{
		Name:         l.cfg.Name,
		ID:           l.id,
		Type:         l.cfg.ThreadType,
		TID:          l.TID(),
		Capacity:     l.queue.Capacity(),
		Pending:      l.queue.LenByPriority(),
		Executed:     l.queue.Executed(),
		Rejected:     l.queue.Rejected(),
		DelayMicros:  l.monitor.DelayMicros(),
		DelaySamples: l.monitor.Samples(),
		Running:      running,
	}
}

// Now implements api.Scheduler.
func (l *EventLoop) Now() time.Time { return time.Now() }

// ErrScheduleCanceled is the Err of a canceled scheduled callback.
var ErrScheduleCanceled = errors.New("eventloop: scheduled callback canceled")

// Schedule runs fn on the loop thread after delay. The returned handle can
// cancel it until it fires. Callbacks still pending when the loop thread
// exits complete with ErrQueueShutdown and never run.
func (l *EventLoop) Schedule(delay time.Duration, fn func()) (api.Cancelable, error) {
	if fn == nil {
		return nil, api.NewError(api.ErrCodeInvalidArgument, "nil scheduled callback")
	}
	s := &scheduled{loop: l, done: make(chan struct{})}
	l.track(s)
	err := l.queue.addInternal(func() {
		if s.finished() {
			return
		}
		s.timer = l.r.NewTimer(func() {
			if s.complete(nil) {
				l.untrack(s)
				fn()
			}
		})
		s.timer.Arm(delay)
	}, api.PriorityHigh)
	if err != nil {
		l.untrack(s)
		s.complete(err)
		return nil, err
	}
	return s, nil
}

func (l *EventLoop) track(s *scheduled) {
	l.schedMu.Lock()
	l.pending[s] = struct{}{}
	l.schedMu.Unlock()
}

func (l *EventLoop) untrack(s *scheduled) {
	l.schedMu.Lock()
	delete(l.pending, s)
	l.schedMu.Unlock()
}

// failScheduled completes every callback that can no longer fire. The queue
// is shut down by now, so no new handle can be installed.
func (l *EventLoop) failScheduled() {
	l.schedMu.Lock()
	pending := l.pending
	l.pending = make(map[*scheduled]struct{})
	l.schedMu.Unlock()
	for s := range pending {
		s.complete(ErrQueueShutdown)
	}
}

type scheduled struct {
	loop  *EventLoop
	timer reactor.Timer // loop thread only

	mu   sync.Mutex
	done chan struct{}
	err  error
	fin  bool
}

func (s *scheduled) complete(err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fin {
		return false
	}
	s.fin = true
	s.err = err
	close(s.done)
	return true
}

func (s *scheduled) finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fin
}

func (s *scheduled) Cancel() error {
	if !s.complete(ErrScheduleCanceled) {
		return nil
	}
	s.loop.untrack(s)
	// best effort: a shut down loop no longer fires timers anyway
	_ = s.loop.queue.addInternal(func() {
		if s.timer != nil {
			s.timer.Cancel()
		}
	}, api.PriorityHigh)
	return nil
}

func (s *scheduled) Done() <-chan struct{} { return s.done }

func (s *scheduled) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Origin remembers the loop a request was issued from, so its completion
// can be delivered back onto that loop.
type Origin struct {
	loop *EventLoop
}

// CaptureOrigin records the calling thread's loop, if any.
func CaptureOrigin() Origin {
	return Origin{loop: Current()}
}

// Loop returns the captured loop, nil off a loop thread.
func (o Origin) Loop() *EventLoop { return o.loop }

// Run executes fn on the captured loop at PriorityMid, or inline when the
// origin was not a loop. It reports false if the loop refused fn, in which
// case fn never runs.
func (o Origin) Run(fn func()) bool {
	if o.loop == nil {
		fn()
		return true
	}
	if err := o.loop.AddWithPriority(fn, api.PriorityMid); err != nil {
		log.Printf("[eventloop] %s: completion dropped: %v", o.loop.Name(), err)
		return false
	}
	return true
}
