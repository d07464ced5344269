// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT

// Package fake provides deterministic test doubles for the reactor.
package fake

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/momentics/hioload-evloop/reactor"
)

// Reactor is an in-memory reactor. Signals are delivered by LoopOnce or
// Loop; timers only fire when a test calls Timer.Fire.
type Reactor struct {
	mu      sync.Mutex
	signals []*Signal
	timers  []*Timer
	fds     map[uintptr]reactor.FDCallback
	loopErr error

	wake     chan struct{}
	stopping atomic.Bool
	passes   atomic.Int64
	closed   atomic.Bool
}

var _ reactor.Reactor = (*Reactor)(nil)

// NewReactor returns an empty fake reactor.
func NewReactor() *Reactor {
	return &Reactor{
		fds:  make(map[uintptr]reactor.FDCallback),
		wake: make(chan struct{}, 1),
	}
}

// Factory returns a reactor.Factory handing out r.
func Factory(r *Reactor) reactor.Factory {
	return func() (reactor.Reactor, error) { return r, nil }
}

// FailingFactory returns a reactor.Factory that always fails with err.
func FailingFactory(err error) reactor.Factory {
	return func() (reactor.Reactor, error) { return nil, err }
}

func (r *Reactor) Register(fd uintptr, _ reactor.FDEventType, cb reactor.FDCallback) error {
	if r.closed.Load() {
		return reactor.ErrClosed
	}
	r.mu.Lock()
	r.fds[fd] = cb
	r.mu.Unlock()
	return nil
}

func (r *Reactor) Unregister(fd uintptr) error {
	r.mu.Lock()
	delete(r.fds, fd)
	r.mu.Unlock()
	return nil
}

// Trigger invokes the callback registered for fd.
func (r *Reactor) Trigger(fd uintptr, ev reactor.FDEventType) {
	r.mu.Lock()
	cb := r.fds[fd]
	r.mu.Unlock()
	if cb != nil {
		cb(fd, ev)
	}
}

func (r *Reactor) NewTimer(cb func()) reactor.Timer {
	t := &Timer{cb: cb}
	r.mu.Lock()
	r.timers = append(r.timers, t)
	r.mu.Unlock()
	return t
}

// Timers returns every timer created so far.
func (r *Reactor) Timers() []*Timer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Timer(nil), r.timers...)
}

func (r *Reactor) NewSignal(cb func()) (reactor.Signal, error) {
	if r.closed.Load() {
		return nil, reactor.ErrClosed
	}
	s := &Signal{r: r, cb: cb}
	r.mu.Lock()
	r.signals = append(r.signals, s)
	r.mu.Unlock()
	return s, nil
}

// FailLoop makes a running or future Loop return err.
func (r *Reactor) FailLoop(err error) {
	r.mu.Lock()
	r.loopErr = err
	r.mu.Unlock()
	r.poke()
}

func (r *Reactor) Loop() error {
	defer r.stopping.Store(false)
	for {
		r.mu.Lock()
		err := r.loopErr
		r.mu.Unlock()
		if err != nil {
			return err
		}
		if r.stopping.Load() {
			return nil
		}
		if err := r.LoopOnce(); err != nil {
			return err
		}
		if r.stopping.Load() {
			return nil
		}
		if !r.hasPending() {
			<-r.wake
		}
	}
}

// LoopOnce delivers every pending signal once.
func (r *Reactor) LoopOnce() error {
	if r.closed.Load() {
		return reactor.ErrClosed
	}
	r.passes.Add(1)
	r.mu.Lock()
	signals := append([]*Signal(nil), r.signals...)
	r.mu.Unlock()
	for _, s := range signals {
		if s.pending.Swap(false) && !s.closed.Load() {
			s.cb()
		}
	}
	return nil
}

func (r *Reactor) hasPending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.signals {
		if s.pending.Load() {
			return true
		}
	}
	return false
}

func (r *Reactor) poke() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Reactor) Stop() {
	r.stopping.Store(true)
	r.poke()
}

func (r *Reactor) Now() time.Time { return time.Now() }

func (r *Reactor) Close() error {
	r.closed.Store(true)
	return nil
}

// Closed reports whether Close was called.
func (r *Reactor) Closed() bool { return r.closed.Load() }

// Passes returns the number of LoopOnce passes, including those run by Loop.
func (r *Reactor) Passes() int64 { return r.passes.Load() }

// Signal is a fake wake source.
type Signal struct {
	r       *Reactor
	cb      func()
	pending atomic.Bool
	closed  atomic.Bool
	count   atomic.Int64
}

func (s *Signal) Notify() error {
	if s.closed.Load() {
		return reactor.ErrClosed
	}
	s.count.Add(1)
	s.pending.Store(true)
	s.r.poke()
	return nil
}

// Notifications returns how often Notify was called.
func (s *Signal) Notifications() int64 { return s.count.Load() }

func (s *Signal) Close() error {
	s.closed.Store(true)
	return nil
}

// Timer is a manually fired timer recording how it was armed.
type Timer struct {
	mu    sync.Mutex
	cb    func()
	armed bool
	last  time.Duration
	arms  int
}

func (t *Timer) Arm(d time.Duration) {
	t.mu.Lock()
	t.armed = true
	t.last = d
	t.arms++
	t.mu.Unlock()
}

func (t *Timer) Cancel() {
	t.mu.Lock()
	t.armed = false
	t.mu.Unlock()
}

func (t *Timer) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.armed
}

// LastDelay returns the delay of the most recent Arm.
func (t *Timer) LastDelay() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}

// Arms returns how many times the timer was armed.
func (t *Timer) Arms() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.arms
}

// Fire disarms the timer and runs its callback if it was armed.
func (t *Timer) Fire() bool {
	t.mu.Lock()
	armed := t.armed
	t.armed = false
	t.mu.Unlock()
	if armed {
		t.cb()
	}
	return armed
}
