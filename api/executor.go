// Package api
// Author: momentics
//
// Executor contract for cross-thread task submission into event loops.

package api

// Priority selects the task queue bucket a submission lands in.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMid
	PriorityHigh
)

// NumPriorities is the number of task queue buckets.
const NumPriorities = 3

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "lo"
	case PriorityMid:
		return "mid"
	case PriorityHigh:
		return "hi"
	default:
		return "invalid"
	}
}

// Valid reports whether p names a bucket.
func (p Priority) Valid() bool {
	return p >= PriorityLow && p < NumPriorities
}

// Executor abstracts task submission onto a single owning thread.
type Executor interface {
	// Submit schedules task at the lowest priority.
	Submit(task func()) error

	// SubmitWithPriority schedules task into the given bucket.
	SubmitWithPriority(task func(), p Priority) error
}
