// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral event reactor interface for I/O multiplexing, timers and
// cross-thread wake-ups.

package reactor

import (
	"errors"
	"time"
)

// ErrClosed is returned by operations on a closed reactor.
var ErrClosed = errors.New("reactor: closed")

// FDEventType is a bitmask of descriptor readiness conditions.
type FDEventType uint32

const (
	EventRead FDEventType = 1 << iota
	EventWrite
	EventError
)

// FDCallback is invoked on the reactor thread when fd becomes ready.
type FDCallback func(fd uintptr, events FDEventType)

// Reactor multiplexes descriptor events and timers onto the thread that runs
// Loop. Apart from Stop and Signal.Notify, methods must only be called from
// that thread.
type Reactor interface {
	// Register adds fd to the interest set.
	Register(fd uintptr, events FDEventType, cb FDCallback) error

	// Unregister removes fd from the interest set.
	Unregister(fd uintptr) error

	// NewTimer creates a disarmed one-shot timer running cb when it fires.
	NewTimer(cb func()) Timer

	// NewSignal creates a wake source whose Notify may be called from any
	// goroutine; cb runs on the reactor thread after one or more Notify calls.
	NewSignal(cb func()) (Signal, error)

	// Loop runs passes until Stop is requested or polling fails.
	Loop() error

	// LoopOnce runs exactly one pass without blocking.
	LoopOnce() error

	// Stop makes the running (or next) Loop return after its current pass.
	// Safe to call from any goroutine.
	Stop()

	// Now returns the time snapshot of the current pass.
	Now() time.Time

	// Close releases the poller and its descriptors.
	Close() error
}

// Timer is a one-shot, re-armable reactor timer.
type Timer interface {
	// Arm schedules the callback after d, replacing any pending schedule.
	Arm(d time.Duration)
	// Cancel disarms the timer.
	Cancel()
	// Pending reports whether the timer is armed.
	Pending() bool
}

// Signal is a coalescing cross-thread wake source bound to a reactor.
type Signal interface {
	// Notify wakes the reactor; safe from any goroutine.
	Notify() error
	// Close unregisters and releases the signal.
	Close() error
}

// Factory constructs a reactor; event loops accept one to allow fault
// injection.
type Factory func() (Reactor, error)

type options struct {
	maxEvents int
}

// Option customizes reactor construction.
type Option func(*options)

// WithMaxEvents bounds the number of readiness events handled per pass.
func WithMaxEvents(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxEvents = n
		}
	}
}

func defaultOptions() options {
	return options{maxEvents: 128}
}
