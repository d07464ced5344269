// control/debug.go
// Author: momentics <momentics@gmail.com>
//
// Runtime debug probes for internal inspection of loops and threads.

package control

import (
	"fmt"
	"io"
	"log"
	"sort"
	"sync"

	"github.com/goccy/go-json"
	"github.com/momentics/hioload-evloop/api"
	"github.com/momentics/hioload-evloop/core/concurrency"
)

// DebugProbes holds registered probe functions.
type DebugProbes struct {
	mu     sync.RWMutex
	probes map[string]func() any
}

var _ api.Debug = (*DebugProbes)(nil)

// NewDebugProbes creates a probe registry with the thread registry probe.
func NewDebugProbes() *DebugProbes {
	dp := &DebugProbes{
		probes: make(map[string]func() any),
	}
	dp.RegisterProbe("threads", func() any { return concurrency.Threads() })
	return dp
}

// RegisterProbe inserts a named debug hook.
func (dp *DebugProbes) RegisterProbe(name string, fn func() any) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.probes[name] = fn
}

// UnregisterProbe removes a hook.
func (dp *DebugProbes) UnregisterProbe(name string) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	delete(dp.probes, name)
}

// RegisterLoop exposes l's statistics as "loop.<name>".
func (dp *DebugProbes) RegisterLoop(name string, l LoopSource) {
	dp.RegisterProbe("loop."+name, func() any { return l.Stats() })
}

// DumpState returns output of all probes. A panicking probe reports its
// panic instead of its value.
func (dp *DebugProbes) DumpState() map[string]any {
	dp.mu.RLock()
	names := make([]string, 0, len(dp.probes))
	for k := range dp.probes {
		names = append(names, k)
	}
	probes := make(map[string]func() any, len(dp.probes))
	for k, fn := range dp.probes {
		probes[k] = fn
	}
	dp.mu.RUnlock()

	sort.Strings(names)
	out := make(map[string]any, len(names))
	for _, k := range names {
		out[k] = runProbe(k, probes[k])
	}
	return out
}

func runProbe(name string, fn func() any) (v any) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[control] debug probe %s panicked: %v", name, r)
			v = fmt.Sprintf("probe panicked: %v", r)
		}
	}()
	return fn()
}

// WriteJSON writes DumpState as indented JSON.
func (dp *DebugProbes) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(dp.DumpState())
}
