// File: adapters/executor_adapter.go
// Package adapters provides glue between event loops and the api contracts.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// LoopExecutor implements api.Executor and api.Scheduler on top of a single
// event loop, so components written against the contracts can post work and
// timers onto a loop thread without depending on the concurrency package.

package adapters

import (
	"time"

	"github.com/momentics/hioload-evloop/api"
	"github.com/momentics/hioload-evloop/core/concurrency"
)

// LoopExecutor wraps an *concurrency.EventLoop. It holds a reference on the
// loop until Release, so the loop cannot be closed underneath it.
type LoopExecutor struct {
	loop *concurrency.EventLoop
}

var (
	_ api.Executor  = (*LoopExecutor)(nil)
	_ api.Scheduler = (*LoopExecutor)(nil)
)

// NewLoopExecutor acquires l.
func NewLoopExecutor(l *concurrency.EventLoop) *LoopExecutor {
	return &LoopExecutor{loop: l.Acquire()}
}

// CurrentExecutor returns an executor for the loop running on the calling
// thread, or nil off a loop thread. The result does not hold a reference.
func CurrentExecutor() api.Executor {
	l := concurrency.Current()
	if l == nil {
		return nil
	}
	return loopOnly{l}
}

// Submit posts task at the lowest priority.
func (le *LoopExecutor) Submit(task func()) error {
	return le.loop.Add(task)
}

// SubmitWithPriority posts task into bucket p.
func (le *LoopExecutor) SubmitWithPriority(task func(), p api.Priority) error {
	return le.loop.AddWithPriority(task, p)
}

// Schedule runs fn on the loop after delay.
func (le *LoopExecutor) Schedule(delay time.Duration, fn func()) (api.Cancelable, error) {
	return le.loop.Schedule(delay, fn)
}

// Now returns the loop's clock.
func (le *LoopExecutor) Now() time.Time {
	return le.loop.Now()
}

// Loop returns the wrapped loop.
func (le *LoopExecutor) Loop() *concurrency.EventLoop {
	return le.loop
}

// Release drops the reference taken by NewLoopExecutor.
func (le *LoopExecutor) Release() {
	le.loop.Release()
}

// loopOnly is a non-owning executor used for callbacks bound to the
// submitting loop.
type loopOnly struct{ l *concurrency.EventLoop }

func (o loopOnly) Submit(task func()) error { return o.l.Add(task) }

func (o loopOnly) SubmitWithPriority(task func(), p api.Priority) error {
	return o.l.AddWithPriority(task, p)
}
