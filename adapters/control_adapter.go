// Package adapters
// Author: momentics <momentics@gmail.com>
//
// Control adapter implementing api.Control with the control package
// primitives: runtime settings, loop metrics and debug probes.

package adapters

import (
	"github.com/momentics/hioload-evloop/api"
	"github.com/momentics/hioload-evloop/control"
	"github.com/prometheus/client_golang/prometheus"
)

// ControlAdapter bundles the settings store, the Prometheus collector and
// its registry, and the debug probes of one process.
type ControlAdapter struct {
	config    *control.ConfigStore
	collector *control.LoopCollector
	registry  *prometheus.Registry
	debug     *control.DebugProbes
}

var _ api.Control = (*ControlAdapter)(nil)

// NewControlAdapter creates the control plane with metrics under namespace.
func NewControlAdapter(namespace string) *ControlAdapter {
	adapter := &ControlAdapter{
		config:    control.NewConfigStore(),
		collector: control.NewLoopCollector(namespace),
		registry:  prometheus.NewRegistry(),
		debug:     control.NewDebugProbes(),
	}
	adapter.registry.MustRegister(adapter.collector)
	control.RegisterPlatformProbes(adapter.debug)
	return adapter
}

func (c *ControlAdapter) GetConfig() map[string]any {
	return c.config.GetSnapshot()
}

func (c *ControlAdapter) SetConfig(cfg map[string]any) error {
	c.config.SetConfig(cfg)
	return nil
}

// Stats merges the settings snapshot with the debug probe dump.
func (c *ControlAdapter) Stats() map[string]any {
	combined := c.config.GetSnapshot()
	for k, v := range c.debug.DumpState() {
		combined["debug."+k] = v
	}
	return combined
}

func (c *ControlAdapter) OnReload(fn func()) {
	c.config.OnReload(fn)
}

func (c *ControlAdapter) RegisterDebugProbe(name string, fn func() any) {
	c.debug.RegisterProbe(name, fn)
}

// TrackLoop exports l through metrics and debug probes under name.
func (c *ControlAdapter) TrackLoop(name string, l control.LoopSource) {
	c.collector.AddLoop(name, l)
	c.debug.RegisterLoop(name, l)
}

// UntrackLoop stops exporting name.
func (c *ControlAdapter) UntrackLoop(name string) {
	c.collector.RemoveLoop(name)
	c.debug.UnregisterProbe("loop." + name)
}

// TrackPool exports a worker pool.
func (c *ControlAdapter) TrackPool(name string, p control.PoolSource) {
	c.collector.AddPool(name, p)
}

func (c *ControlAdapter) Store() *control.ConfigStore       { return c.config }
func (c *ControlAdapter) Registry() *prometheus.Registry    { return c.registry }
func (c *ControlAdapter) Debug() *control.DebugProbes       { return c.debug }
func (c *ControlAdapter) Collector() *control.LoopCollector { return c.collector }
