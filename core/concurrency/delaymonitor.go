// File: core/concurrency/delaymonitor.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// DelayMonitor measures how late the reactor services an immediate timer.
// It alternates between a resting long tick and a probing short tick; the
// lateness of every short tick is accumulated for observability.

package concurrency

import (
	"sync/atomic"
	"time"
)

// DelayState is the phase of a DelayMonitor.
type DelayState int32

const (
	// DelayIdle means no measurement is pending.
	DelayIdle DelayState = iota
	// DelayWaiting means a short tick was requested and not yet fired.
	DelayWaiting
)

func (s DelayState) String() string {
	if s == DelayWaiting {
		return "waiting"
	}
	return "idle"
}

const (
	// DefaultDelayCheckInterval is the resting period between probes.
	DefaultDelayCheckInterval = time.Second
)

// Armer schedules the monitor's next tick. reactor.Timer satisfies it.
type Armer interface {
	Arm(d time.Duration)
	Cancel()
}

// DelayMonitor is driven by a single timer whose callback is Tick. All
// methods except the readers run on the reactor thread.
type DelayMonitor struct {
	timer    Armer
	now      func() time.Time
	interval time.Duration
	short    time.Duration

	state   atomic.Int32
	start   time.Time
	delayUs atomic.Uint64
	samples atomic.Uint64
}

// NewDelayMonitor creates an idle monitor. interval <= 0 selects
// DefaultDelayCheckInterval; now may be nil for time.Now.
func NewDelayMonitor(interval time.Duration, now func() time.Time) *DelayMonitor {
	if interval <= 0 {
		interval = DefaultDelayCheckInterval
	}
	if now == nil {
		now = time.Now
	}
	return &DelayMonitor{now: now, interval: interval}
}

// Start binds the timer and arms the first resting tick.
func (m *DelayMonitor) Start(t Armer) {
	m.timer = t
	m.state.Store(int32(DelayIdle))
	t.Arm(m.interval)
}

// Tick is the timer callback.
func (m *DelayMonitor) Tick() {
	now := m.now()
	if DelayState(m.state.Load()) == DelayIdle {
		m.start = now
		m.state.Store(int32(DelayWaiting))
		m.timer.Arm(m.short)
		return
	}
	if elapsed := now.Sub(m.start); elapsed > m.short {
		m.delayUs.Add(uint64((elapsed - m.short) / time.Microsecond))
	}
	m.samples.Add(1)
	m.state.Store(int32(DelayIdle))
	m.timer.Arm(m.interval)
}

// Release cancels the outstanding timer.
func (m *DelayMonitor) Release() {
	if m.timer != nil {
		m.timer.Cancel()
		m.timer = nil
	}
}

// State returns the current phase.
func (m *DelayMonitor) State() DelayState { return DelayState(m.state.Load()) }

// DelayMicros returns the accumulated scheduling delay in microseconds.
// Safe from any goroutine.
func (m *DelayMonitor) DelayMicros() uint64 { return m.delayUs.Load() }

// Samples returns the number of completed measurements.
func (m *DelayMonitor) Samples() uint64 { return m.samples.Load() }
