// Package api
// Author: momentics
//
// Scheduler contract for timed job execution on an event loop.

package api

import "time"

// Scheduler abstracts timer scheduling for event loops.
type Scheduler interface {
	// Schedule runs fn once after delay on the scheduler's own thread.
	Schedule(delay time.Duration, fn func()) (Cancelable, error)

	// Now returns the scheduler's notion of the current time.
	Now() time.Time
}
