// File: core/concurrency/lock_free_queue.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Bounded MPMC queue backing the executor's per-worker local queues.

package concurrency

import "sync/atomic"

const cacheLinePad = 64

// LockFreeQueue is a bounded multi-producer multi-consumer ring of slots,
// each stamped with a turn counter. A producer may fill slot i only on the
// turn equal to its ticket; a consumer may drain it only one turn later.
type LockFreeQueue[T any] struct {
	enq   atomic.Uint64
	_     [cacheLinePad - 8]byte
	deq   atomic.Uint64
	_     [cacheLinePad - 8]byte
	mask  uint64
	slots []slot[T]
}

type slot[T any] struct {
	turn atomic.Uint64
	val  T
}

// NewLockFreeQueue creates a queue holding at least capacity items; the
// size is rounded up to a power of two.
func NewLockFreeQueue[T any](capacity int) *LockFreeQueue[T] {
	size := 2
	for size < capacity {
		size <<= 1
	}
	q := &LockFreeQueue[T]{
		mask:  uint64(size - 1),
		slots: make([]slot[T], size),
	}
	for i := range q.slots {
		q.slots[i].turn.Store(uint64(i))
	}
	return q
}

// Enqueue appends v. It reports false when the queue is full.
func (q *LockFreeQueue[T]) Enqueue(v T) bool {
	for {
		ticket := q.enq.Load()
		s := &q.slots[ticket&q.mask]
		switch turn := s.turn.Load(); {
		case turn == ticket:
			if q.enq.CompareAndSwap(ticket, ticket+1) {
				s.val = v
				s.turn.Store(ticket + 1)
				return true
			}
		case turn < ticket:
			return false
		}
	}
}

// Dequeue removes the oldest item. ok is false when the queue is empty.
func (q *LockFreeQueue[T]) Dequeue() (v T, ok bool) {
	for {
		ticket := q.deq.Load()
		s := &q.slots[ticket&q.mask]
		switch turn := s.turn.Load(); {
		case turn == ticket+1:
			if q.deq.CompareAndSwap(ticket, ticket+1) {
				v = s.val
				// clear for GC
				var zero T
				s.val = zero
				s.turn.Store(ticket + q.mask + 1)
				return v, true
			}
		case turn < ticket+1:
			return v, false
		}
	}
}

// Len returns an approximate item count; exact when no call is in flight.
func (q *LockFreeQueue[T]) Len() int {
	n := int64(q.enq.Load()) - int64(q.deq.Load())
	if n < 0 {
		return 0
	}
	return int(n)
}

// Cap returns the queue size.
func (q *LockFreeQueue[T]) Cap() int { return len(q.slots) }
