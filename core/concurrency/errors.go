// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Error definitions for concurrency module.

package concurrency

import "github.com/momentics/hioload-evloop/api"

var (
	// ErrQueueOverloaded is returned when a submission would exceed the
	// task queue capacity.
	ErrQueueOverloaded = api.NewError(api.ErrCodeOverloaded, "task queue is over capacity")

	// ErrQueueShutdown is returned for submissions after shutdown.
	ErrQueueShutdown = api.NewError(api.ErrCodeShutdown, "task queue is shut down")

	// ErrInvalidPriority is returned for priorities outside the bucket range.
	ErrInvalidPriority = api.NewError(api.ErrCodeInvalidArgument, "invalid task priority")

	// ErrExecutorClosed indicates the executor has been shut down
	ErrExecutorClosed = api.NewError(api.ErrCodeShutdown, "executor is closed")

	// ErrExecutorOverloaded is returned when every worker queue is full.
	ErrExecutorOverloaded = api.NewError(api.ErrCodeOverloaded, "executor queues are full")

	// ErrInvalidWorkerCount indicates invalid worker count configuration
	ErrInvalidWorkerCount = api.NewError(api.ErrCodeConfiguration, "invalid worker count")
)
