// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Prometheus collector reading event loop and executor counters at scrape
// time. Loops are registered by name and sampled through Stats, so the
// collector never touches a loop thread.

package control

import (
	"sort"
	"sync"

	"github.com/momentics/hioload-evloop/api"
	"github.com/momentics/hioload-evloop/core/concurrency"
	"github.com/prometheus/client_golang/prometheus"
)

// LoopSource is anything exposing loop statistics.
type LoopSource interface {
	Stats() concurrency.LoopStats
}

// PoolSource is a worker pool exposing its size and throughput.
type PoolSource interface {
	NumWorkers() int
	Pending() int
	Executed() uint64
}

// LoopCollector implements prometheus.Collector.
type LoopCollector struct {
	mu    sync.RWMutex
	loops map[string]LoopSource
	pools map[string]PoolSource

	delay        *prometheus.Desc
	delaySamples *prometheus.Desc
	pending      *prometheus.Desc
	capacity     *prometheus.Desc
	executed     *prometheus.Desc
	rejected     *prometheus.Desc
	running      *prometheus.Desc
	poolWorkers  *prometheus.Desc
	poolExecuted *prometheus.Desc
	poolPending  *prometheus.Desc
}

var _ prometheus.Collector = (*LoopCollector)(nil)

// NewLoopCollector creates a collector with metric names under namespace.
func NewLoopCollector(namespace string) *LoopCollector {
	loopLabels := []string{"loop", "type"}
	return &LoopCollector{
		loops: make(map[string]LoopSource),
		pools: make(map[string]PoolSource),
		delay: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "loop", "delay_microseconds_total"),
			"Accumulated lateness of the loop's delay probe in microseconds",
			loopLabels, nil),
		delaySamples: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "loop", "delay_samples_total"),
			"Number of completed delay probes",
			loopLabels, nil),
		pending: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "loop", "pending_tasks"),
			"Tasks waiting in the loop's queue by priority",
			append(loopLabels, "priority"), nil),
		capacity: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "loop", "queue_capacity"),
			"Combined task queue capacity",
			loopLabels, nil),
		executed: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "loop", "tasks_executed_total"),
			"Tasks executed on the loop thread",
			loopLabels, nil),
		rejected: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "loop", "tasks_rejected_total"),
			"Submissions rejected for overload or shutdown",
			loopLabels, nil),
		running: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "loop", "running"),
			"1 while the loop thread is alive",
			loopLabels, nil),
		poolWorkers: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "executor", "workers"),
			"Active workers of a blocking work pool",
			[]string{"pool"}, nil),
		poolExecuted: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "executor", "tasks_executed_total"),
			"Tasks executed by a blocking work pool",
			[]string{"pool"}, nil),
		poolPending: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "executor", "pending_tasks"),
			"Tasks queued on a blocking work pool",
			[]string{"pool"}, nil),
	}
}

// AddLoop starts exporting l under name.
func (c *LoopCollector) AddLoop(name string, l LoopSource) {
	c.mu.Lock()
	c.loops[name] = l
	c.mu.Unlock()
}

// RemoveLoop stops exporting name.
func (c *LoopCollector) RemoveLoop(name string) {
	c.mu.Lock()
	delete(c.loops, name)
	c.mu.Unlock()
}

// AddPool starts exporting a worker pool.
func (c *LoopCollector) AddPool(name string, p PoolSource) {
	c.mu.Lock()
	c.pools[name] = p
	c.mu.Unlock()
}

// Describe implements prometheus.Collector.
func (c *LoopCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.delay
	ch <- c.delaySamples
	ch <- c.pending
	ch <- c.capacity
	ch <- c.executed
	ch <- c.rejected
	ch <- c.running
	ch <- c.poolWorkers
	ch <- c.poolExecuted
	ch <- c.poolPending
}

// Collect implements prometheus.Collector.
func (c *LoopCollector) Collect(ch chan<- prometheus.Metric) {
	for _, s := range c.loopStats() {
		labels := []string{s.Name, string(s.Type)}
		ch <- prometheus.MustNewConstMetric(c.delay, prometheus.CounterValue, float64(s.DelayMicros), labels...)
		ch <- prometheus.MustNewConstMetric(c.delaySamples, prometheus.CounterValue, float64(s.DelaySamples), labels...)
		for p := api.PriorityLow; p < api.NumPriorities; p++ {
			ch <- prometheus.MustNewConstMetric(c.pending, prometheus.GaugeValue, float64(s.Pending[p]), append(labels, p.String())...)
		}
		ch <- prometheus.MustNewConstMetric(c.capacity, prometheus.GaugeValue, float64(s.Capacity), labels...)
		ch <- prometheus.MustNewConstMetric(c.executed, prometheus.CounterValue, float64(s.Executed), labels...)
		ch <- prometheus.MustNewConstMetric(c.rejected, prometheus.CounterValue, float64(s.Rejected), labels...)
		running := 0.0
		if s.Running {
			running = 1
		}
		ch <- prometheus.MustNewConstMetric(c.running, prometheus.GaugeValue, running, labels...)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	for name, p := range c.pools {
		ch <- prometheus.MustNewConstMetric(c.poolWorkers, prometheus.GaugeValue, float64(p.NumWorkers()), name)
		ch <- prometheus.MustNewConstMetric(c.poolExecuted, prometheus.CounterValue, float64(p.Executed()), name)
		ch <- prometheus.MustNewConstMetric(c.poolPending, prometheus.GaugeValue, float64(p.Pending()), name)
	}
}

// loopStats samples every registered loop, ordered by name. The registered
// name wins over the loop's own name so templates stay distinguishable.
func (c *LoopCollector) loopStats() []concurrency.LoopStats {
	c.mu.RLock()
	out := make([]concurrency.LoopStats, 0, len(c.loops))
	for name, l := range c.loops {
		s := l.Stats()
		s.Name = name
		out = append(out, s)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
