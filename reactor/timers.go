// File: reactor/timers.go
// Author: momentics <momentics@gmail.com>
//
// Min-heap of one-shot timers shared by reactor implementations.

package reactor

import (
	"container/heap"
	"log"
	"time"
)

type heapTimer struct {
	q     *timerQueue
	cb    func()
	when  time.Time
	index int // -1 while disarmed
}

func (t *heapTimer) Arm(d time.Duration) {
	if d < 0 {
		d = 0
	}
	if t.index >= 0 {
		heap.Remove(t.q, t.index)
	}
	t.when = time.Now().Add(d)
	heap.Push(t.q, t)
}

func (t *heapTimer) Cancel() {
	if t.index >= 0 {
		heap.Remove(t.q, t.index)
	}
}

func (t *heapTimer) Pending() bool { return t.index >= 0 }

// timerQueue implements heap.Interface ordered by deadline.
type timerQueue struct {
	items []*heapTimer
}

func (q *timerQueue) Len() int           { return len(q.items) }
func (q *timerQueue) Less(i, j int) bool { return q.items[i].when.Before(q.items[j].when) }
func (q *timerQueue) Swap(i, j int) {
	q.items[i], q.items[j] = q.items[j], q.items[i]
	q.items[i].index = i
	q.items[j].index = j
}

func (q *timerQueue) Push(x any) {
	t := x.(*heapTimer)
	t.index = len(q.items)
	q.items = append(q.items, t)
}

func (q *timerQueue) Pop() any {
	old := q.items
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	q.items = old[:n-1]
	t.index = -1
	return t
}

func (q *timerQueue) newTimer(cb func()) *heapTimer {
	return &heapTimer{q: q, cb: cb, index: -1}
}

// timeout returns the poll timeout in milliseconds until the earliest
// deadline, or -1 when no timer is armed.
func (q *timerQueue) timeout(now time.Time) int {
	if len(q.items) == 0 {
		return -1
	}
	d := q.items[0].when.Sub(now)
	if d <= 0 {
		return 0
	}
	// round up so a pass never wakes before the deadline
	return int((d + time.Millisecond - 1) / time.Millisecond)
}

// runExpired fires every timer due at or before now. A callback that re-arms
// a timer with a delay that still lands at or before now fires it in this
// same pass; later deadlines wait for the next one.
func (q *timerQueue) runExpired(now time.Time) int {
	fired := 0
	for len(q.items) > 0 && !q.items[0].when.After(now) {
		t := heap.Pop(q).(*heapTimer)
		fired++
		safeCall(t.cb)
	}
	return fired
}

// clear disarms every timer.
func (q *timerQueue) clear() {
	for _, t := range q.items {
		t.index = -1
	}
	q.items = nil
}

// safeCall keeps the reactor alive across callback panics.
func safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[reactor] callback panicked: %v", r)
		}
	}()
	fn()
}
