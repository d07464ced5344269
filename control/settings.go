// control/settings.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// File-backed daemon configuration: loop templates, metadata store, metrics
// endpoint and tracing. Decoded strictly from YAML on top of DefaultConfig.

package control

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/momentics/hioload-evloop/api"
	"github.com/momentics/hioload-evloop/core/concurrency"
	"gopkg.in/yaml.v3"
)

// Metadata store drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

// Config is the serialisable daemon configuration.
type Config struct {
	Loops     []LoopConfig    `yaml:"loops"`
	Metastore MetastoreConfig `yaml:"metastore"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

// LoopConfig describes one loop, or Count identical loops named
// "<name>-0" .. "<name>-N".
type LoopConfig struct {
	Name                 string        `yaml:"name"`
	Type                 string        `yaml:"type"`
	Count                int           `yaml:"count,omitempty"`
	QueueCapacity        int           `yaml:"queue_capacity,omitempty"`
	EnablePriorityQueues *bool         `yaml:"enable_priority_queues,omitempty"`
	RequestsPerIteration *DrainLimits  `yaml:"requests_per_iteration,omitempty"`
	CPU                  *int          `yaml:"cpu,omitempty"`
	DelayCheckInterval   time.Duration `yaml:"delay_check_interval,omitempty"`
}

// DrainLimits is the number of tasks drained per bucket and wake-up.
type DrainLimits struct {
	High uint32 `yaml:"hi"`
	Mid  uint32 `yaml:"mid"`
	Low  uint32 `yaml:"lo"`
}

// MetastoreConfig selects the versioned metadata store.
type MetastoreConfig struct {
	Driver  string `yaml:"driver"`
	Path    string `yaml:"path,omitempty"`
	Workers int    `yaml:"workers"`
}

// MetricsConfig controls the HTTP metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Path    string `yaml:"path"`
}

// TracingConfig enables span export to stdout.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}

// DefaultConfig returns a single worker loop, in-memory metadata store and
// metrics on :9464.
func DefaultConfig() *Config {
	return &Config{
		Loops: []LoopConfig{{Name: "worker", Type: string(concurrency.ThreadTypeWorker)}},
		Metastore: MetastoreConfig{
			Driver:  DriverMemory,
			Workers: 4,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Address: ":9464",
			Path:    "/metrics",
		},
		Tracing: TracingConfig{ServiceName: "evloopd"},
	}
}

// LoadConfig reads and validates a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML over DefaultConfig. Unknown fields are rejected.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, api.NewError(api.ErrCodeConfiguration, "failed to parse YAML").Wrap(err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var threadTypes = map[string]bool{
	string(concurrency.ThreadTypeUnknown):    true,
	string(concurrency.ThreadTypeWorker):     true,
	string(concurrency.ThreadTypeBackground): true,
	string(concurrency.ThreadTypeStorage):    true,
	string(concurrency.ThreadTypeUtility):    true,
}

// Validate returns the aggregated configuration errors or nil.
func (c *Config) Validate() error {
	if c == nil {
		return nil
	}
	var errs []error
	if len(c.Loops) == 0 {
		errs = append(errs, configError("at least one loop is required"))
	}
	seen := make(map[string]bool)
	for _, lc := range c.Loops {
		if lc.Name == "" {
			errs = append(errs, configError("loop name is required"))
			continue
		}
		if lc.Type != "" && !threadTypes[lc.Type] {
			errs = append(errs, configError("unknown loop type").WithContext("loop", lc.Name).WithContext("type", lc.Type))
		}
		if lc.Count < 0 {
			errs = append(errs, configError("loop count must not be negative").WithContext("loop", lc.Name))
		}
		for _, ec := range lc.EventLoopConfigs() {
			if seen[ec.Name] {
				errs = append(errs, configError("duplicate loop name").WithContext("loop", ec.Name))
			}
			seen[ec.Name] = true
			if err := concurrency.ValidateQueueConfig(ec.QueueCapacity, ec.RequestsPerIteration, ec.EnablePriorityQueues); err != nil {
				errs = append(errs, fmt.Errorf("loop %q: %w", ec.Name, err))
			}
		}
	}
	switch c.Metastore.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.Metastore.Path == "" {
			errs = append(errs, configError("metastore.path is required for the sqlite driver"))
		}
	default:
		errs = append(errs, configError("unknown metastore driver").WithContext("driver", c.Metastore.Driver))
	}
	if c.Metastore.Workers <= 0 {
		errs = append(errs, configError("metastore.workers must be > 0"))
	}
	if c.Metrics.Enabled && c.Metrics.Address == "" {
		errs = append(errs, configError("metrics.address is required when metrics are enabled"))
	}
	return errors.Join(errs...)
}

func configError(msg string) *api.Error {
	return api.NewError(api.ErrCodeConfiguration, msg)
}

// EventLoopConfigs expands the template into per-loop configurations,
// filling unset fields from concurrency.DefaultConfig.
func (lc LoopConfig) EventLoopConfigs() []concurrency.Config {
	base := concurrency.DefaultConfig(lc.Name)
	if lc.Type != "" {
		base.ThreadType = concurrency.ThreadType(lc.Type)
	}
	if lc.QueueCapacity != 0 {
		base.QueueCapacity = lc.QueueCapacity
	}
	if lc.EnablePriorityQueues != nil {
		base.EnablePriorityQueues = *lc.EnablePriorityQueues
	}
	if d := lc.RequestsPerIteration; d != nil {
		base.RequestsPerIteration[api.PriorityHigh] = d.High
		base.RequestsPerIteration[api.PriorityMid] = d.Mid
		base.RequestsPerIteration[api.PriorityLow] = d.Low
	}
	if lc.DelayCheckInterval > 0 {
		base.DelayCheckInterval = lc.DelayCheckInterval
	}
	if lc.CPU != nil && *lc.CPU >= 0 {
		base.PinCPU = true
		base.CPU = *lc.CPU
	}
	if lc.Count <= 1 {
		return []concurrency.Config{base}
	}
	out := make([]concurrency.Config, lc.Count)
	for i := range out {
		c := base
		c.Name = fmt.Sprintf("%s-%d", lc.Name, i)
		if c.PinCPU {
			c.CPU = base.CPU + i
		}
		out[i] = c
	}
	return out
}

// Settings flattens the configuration into ConfigStore keys.
func (c *Config) Settings() map[string]any {
	out := map[string]any{
		"metastore.driver":  c.Metastore.Driver,
		"metastore.path":    c.Metastore.Path,
		"metastore.workers": c.Metastore.Workers,
		"metrics.enabled":   c.Metrics.Enabled,
		"metrics.address":   c.Metrics.Address,
		"tracing.enabled":   c.Tracing.Enabled,
	}
	n := 0
	for _, lc := range c.Loops {
		n += len(lc.EventLoopConfigs())
	}
	out["loops.count"] = n
	return out
}
