package control_test

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/momentics/hioload-evloop/api"
	"github.com/momentics/hioload-evloop/control"
	"github.com/momentics/hioload-evloop/core/concurrency"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
loops:
  - name: storage
    type: storage
    count: 2
    queue_capacity: 1024
    requests_per_iteration: {hi: 32, mid: 16, lo: 8}
    delay_check_interval: 500ms
  - name: background
    type: background
    enable_priority_queues: false
    requests_per_iteration: {hi: 4, mid: 0, lo: 0}
metastore:
  driver: sqlite
  path: /tmp/meta.db
  workers: 8
metrics:
  enabled: true
  address: 127.0.0.1:0
`

func TestParseConfig(t *testing.T) {
	cfg, err := control.ParseConfig([]byte(sampleYAML))
	require.NoError(t, err)

	var loops []concurrency.Config
	for _, lc := range cfg.Loops {
		loops = append(loops, lc.EventLoopConfigs()...)
	}
	require.Len(t, loops, 3)
	assert.Equal(t, "storage-0", loops[0].Name)
	assert.Equal(t, "storage-1", loops[1].Name)
	assert.Equal(t, concurrency.ThreadTypeStorage, loops[0].ThreadType)
	assert.Equal(t, 1024, loops[0].QueueCapacity)
	assert.Equal(t, uint32(32), loops[0].RequestsPerIteration[api.PriorityHigh])
	assert.Equal(t, uint32(8), loops[0].RequestsPerIteration[api.PriorityLow])
	assert.Equal(t, 500*time.Millisecond, loops[0].DelayCheckInterval)
	assert.True(t, loops[0].EnablePriorityQueues)
	assert.False(t, loops[0].PinCPU)

	assert.Equal(t, "background", loops[2].Name)
	assert.False(t, loops[2].EnablePriorityQueues)
	assert.Equal(t, 8192, loops[2].QueueCapacity)

	assert.Equal(t, control.DriverSQLite, cfg.Metastore.Driver)
	assert.Equal(t, 8, cfg.Metastore.Workers)
	// untouched sections keep their defaults
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.Equal(t, "evloopd", cfg.Tracing.ServiceName)
}

func TestParseConfigRejects(t *testing.T) {
	cases := map[string]string{
		"unknown field":   "loopz: []",
		"no loops":        "loops: []",
		"duplicate names": "loops: [{name: a}, {name: a}]",
		"bad type":        "loops: [{name: a, type: gpu}]",
		"zero drain":      "loops: [{name: a, requests_per_iteration: {hi: 1, mid: 0, lo: 1}}]",
		"sqlite no path":  "metastore: {driver: sqlite, workers: 1}",
		"bad driver":      "metastore: {driver: etcd, workers: 1}",
		"no workers":      "metastore: {driver: memory, workers: 0}",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := control.ParseConfig([]byte(doc))
			require.Error(t, err)
			assert.Equal(t, api.ErrCodeConfiguration, api.CodeOf(err))
		})
	}
}

func TestCPUPinningPerLoop(t *testing.T) {
	cpu := 2
	lc := control.LoopConfig{Name: "pinned", Count: 3, CPU: &cpu}
	cfgs := lc.EventLoopConfigs()
	require.Len(t, cfgs, 3)
	for i, c := range cfgs {
		assert.True(t, c.PinCPU)
		assert.Equal(t, cpu+i, c.CPU)
	}
}

func TestConfigStoreNotifiesChangedKeys(t *testing.T) {
	cs := control.NewConfigStore()
	var calls []map[string]any
	cs.OnChange(func(changed map[string]any) { calls = append(calls, changed) })
	reloads := 0
	cs.OnReload(func() { reloads++ })

	cs.SetConfig(map[string]any{"a": 1, "b": "x"})
	cs.SetConfig(map[string]any{"a": 1})
	cs.SetConfig(map[string]any{"a": 2, "b": "x"})

	require.Len(t, calls, 2)
	assert.Equal(t, map[string]any{"a": 2}, calls[1])
	assert.Equal(t, 2, reloads)
	assert.Equal(t, 2, cs.Int("a", 0))
	assert.Equal(t, 7, cs.Int("missing", 7))
	assert.Equal(t, 7, cs.Int("b", 7))
	assert.Len(t, cs.GetSnapshot(), 2)
}

func TestReloaderAppliesValidFilesOnly(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "evloopd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("metastore: {driver: memory, workers: 2}\n"), 0o644))
	initial, err := control.LoadConfig(path)
	require.NoError(t, err)

	cs := control.NewConfigStore()
	r := control.NewReloader(path, cs, initial)
	assert.Equal(t, 2, cs.Int("metastore.workers", 0))

	var workers []int
	cs.OnChange(func(changed map[string]any) {
		if v, ok := changed["metastore.workers"]; ok {
			workers = append(workers, v.(int))
		}
	})

	require.NoError(t, os.WriteFile(path, []byte("metastore: {driver: memory, workers: 6}\n"), 0o644))
	_, err = r.Reload()
	require.NoError(t, err)
	assert.Equal(t, []int{6}, workers)

	require.NoError(t, os.WriteFile(path, []byte("metastore: {driver: memory, workers: -1}\n"), 0o644))
	_, err = r.Reload()
	require.Error(t, err)
	assert.Equal(t, 6, cs.Int("metastore.workers", 0))
	assert.Equal(t, 6, r.Current().Metastore.Workers)
}

type staticLoop struct{ stats concurrency.LoopStats }

func (s staticLoop) Stats() concurrency.LoopStats { return s.stats }

type staticPool struct{}

func (staticPool) NumWorkers() int  { return 3 }
func (staticPool) Pending() int     { return 5 }
func (staticPool) Executed() uint64 { return 42 }

func TestLoopCollector(t *testing.T) {
	c := control.NewLoopCollector("evloop")
	c.AddLoop("w0", staticLoop{concurrency.LoopStats{
		Name:        "ignored",
		Type:        concurrency.ThreadTypeWorker,
		Capacity:    16,
		Pending:     [api.NumPriorities]int{1, 2, 3},
		Executed:    10,
		Rejected:    4,
		DelayMicros: 250,
		Running:     true,
	}})
	c.AddPool("metastore", staticPool{})

	expected := `
# HELP evloop_loop_delay_microseconds_total Accumulated lateness of the loop's delay probe in microseconds
# TYPE evloop_loop_delay_microseconds_total counter
evloop_loop_delay_microseconds_total{loop="w0",type="worker"} 250
# HELP evloop_loop_pending_tasks Tasks waiting in the loop's queue by priority
# TYPE evloop_loop_pending_tasks gauge
evloop_loop_pending_tasks{loop="w0",priority="hi",type="worker"} 3
evloop_loop_pending_tasks{loop="w0",priority="lo",type="worker"} 1
evloop_loop_pending_tasks{loop="w0",priority="mid",type="worker"} 2
# HELP evloop_loop_tasks_rejected_total Submissions rejected for overload or shutdown
# TYPE evloop_loop_tasks_rejected_total counter
evloop_loop_tasks_rejected_total{loop="w0",type="worker"} 4
# HELP evloop_executor_workers Active workers of a blocking work pool
# TYPE evloop_executor_workers gauge
evloop_executor_workers{pool="metastore"} 3
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected),
		"evloop_loop_delay_microseconds_total",
		"evloop_loop_pending_tasks",
		"evloop_loop_tasks_rejected_total",
		"evloop_executor_workers",
	))

	c.RemoveLoop("w0")
	assert.Equal(t, 1, testutil.CollectAndCount(c, "evloop_executor_tasks_executed_total"))
	assert.Equal(t, 1, testutil.CollectAndCount(c, "evloop_executor_pending_tasks"))
	assert.Zero(t, testutil.CollectAndCount(c, "evloop_loop_running"))
}

func TestDebugProbes(t *testing.T) {
	dp := control.NewDebugProbes()
	control.RegisterPlatformProbes(dp)
	dp.RegisterLoop("w0", staticLoop{concurrency.LoopStats{Name: "w0", Executed: 5}})
	dp.RegisterProbe("broken", func() any { panic("nope") })

	state := dp.DumpState()
	assert.Contains(t, state, "threads")
	assert.Contains(t, state, "platform.cpus")
	assert.Equal(t, uint64(5), state["loop.w0"].(concurrency.LoopStats).Executed)
	assert.Contains(t, state["broken"], "probe panicked")

	dp.UnregisterProbe("broken")
	var buf bytes.Buffer
	require.NoError(t, dp.WriteJSON(&buf))
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Contains(t, decoded, "loop.w0")
	assert.NotContains(t, decoded, "broken")
}

func TestMetricsServer(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := control.NewLoopCollector("evloop")
	c.AddLoop("w0", staticLoop{concurrency.LoopStats{Type: concurrency.ThreadTypeWorker, Running: true}})
	reg.MustRegister(c)

	srv := control.NewMetricsServer(control.MetricsConfig{Enabled: true, Address: "127.0.0.1:0"}, reg, control.NewDebugProbes())
	require.NoError(t, srv.Start())
	defer srv.Stop(context.Background())

	get := func(path string) string {
		resp, err := http.Get("http://" + srv.Addr() + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return string(body)
	}
	assert.Contains(t, get("/metrics"), `evloop_loop_running{loop="w0",type="worker"} 1`)
	assert.Equal(t, "OK", get("/health"))
	assert.Contains(t, get("/debug/state"), `"threads"`)
}
