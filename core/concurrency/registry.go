// File: core/concurrency/registry.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Process-wide registry of loop threads and the per-thread "current loop"
// slot.

package concurrency

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// ThreadType classifies a thread for system-wide enumeration.
type ThreadType string

const (
	ThreadTypeUnknown    ThreadType = "unknown"
	ThreadTypeWorker     ThreadType = "worker"
	ThreadTypeBackground ThreadType = "background"
	ThreadTypeStorage    ThreadType = "storage"
	ThreadTypeUtility    ThreadType = "utility"
)

// ThreadInfo describes a registered thread.
type ThreadInfo struct {
	TID     int
	Type    ThreadType
	Name    string
	Started time.Time
}

var (
	threads   sync.Map // tid -> ThreadInfo
	loopSlots sync.Map // tid -> *EventLoop
)

// registerThread records the calling thread's identity.
func registerThread(t ThreadType, name string) int {
	tid := currentThreadID()
	threads.Store(tid, ThreadInfo{TID: tid, Type: t, Name: name, Started: time.Now()})
	return tid
}

func unregisterThread(tid int) {
	threads.Delete(tid)
}

// Threads returns a snapshot of registered threads ordered by name.
func Threads() []ThreadInfo {
	var out []ThreadInfo
	threads.Range(func(_, v any) bool {
		out = append(out, v.(ThreadInfo))
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name == out[j].Name {
			return out[i].TID < out[j].TID
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// ThreadsOfType returns registered threads of type t.
func ThreadsOfType(t ThreadType) []ThreadInfo {
	all := Threads()
	out := all[:0]
	for _, info := range all {
		if info.Type == t {
			out = append(out, info)
		}
	}
	return out
}

// setCurrent publishes l as the loop of the calling thread. A thread hosts
// at most one loop for its lifetime.
func setCurrent(l *EventLoop) int {
	tid := currentThreadID()
	if prev, loaded := loopSlots.LoadOrStore(tid, l); loaded {
		panic(fmt.Sprintf("eventloop: thread %d already runs loop %q", tid, prev.(*EventLoop).Name()))
	}
	return tid
}

func clearCurrent(tid int) {
	loopSlots.Delete(tid)
}

// Current returns the event loop running on the calling thread, or nil.
func Current() *EventLoop {
	v, ok := loopSlots.Load(currentThreadID())
	if !ok {
		return nil
	}
	return v.(*EventLoop)
}

// MustCurrent is Current that panics off a loop thread.
func MustCurrent() *EventLoop {
	l := Current()
	if l == nil {
		panic("eventloop: not called from an event loop thread")
	}
	return l
}
