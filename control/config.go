// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Thread-safe runtime settings store with change propagation to listeners.

package control

import (
	"reflect"
	"sync"
)

// ConfigStore is a dynamic key/value map with snapshot reads and listeners
// notified of the keys whose values changed.
type ConfigStore struct {
	mu        sync.RWMutex
	config    map[string]any
	listeners []func(changed map[string]any)
}

// NewConfigStore initializes a new config store with empty data.
func NewConfigStore() *ConfigStore {
	return &ConfigStore{
		config: make(map[string]any),
	}
}

// GetSnapshot returns a copy of all config values.
func (cs *ConfigStore) GetSnapshot() map[string]any {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	out := make(map[string]any, len(cs.config))
	for k, v := range cs.config {
		out[k] = v
	}
	return out
}

// Get returns a single value.
func (cs *ConfigStore) Get(key string) (any, bool) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	v, ok := cs.config[key]
	return v, ok
}

// Int returns key as an int, or def when absent or not an int.
func (cs *ConfigStore) Int(key string, def int) int {
	v, ok := cs.Get(key)
	if !ok {
		return def
	}
	if i, ok := v.(int); ok {
		return i
	}
	return def
}

// SetConfig merges new values. Listeners run synchronously on the caller's
// goroutine, outside the lock, and only when something changed.
func (cs *ConfigStore) SetConfig(newCfg map[string]any) {
	cs.mu.Lock()
	changed := make(map[string]any)
	for k, v := range newCfg {
		if old, ok := cs.config[k]; ok && reflect.DeepEqual(old, v) {
			continue
		}
		cs.config[k] = v
		changed[k] = v
	}
	listeners := append([]func(map[string]any){}, cs.listeners...)
	cs.mu.Unlock()

	if len(changed) == 0 {
		return
	}
	for _, fn := range listeners {
		fn(changed)
	}
}

// OnChange registers a listener called with the changed keys.
func (cs *ConfigStore) OnChange(fn func(changed map[string]any)) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.listeners = append(cs.listeners, fn)
}

// OnReload registers a listener that ignores which keys changed.
func (cs *ConfigStore) OnReload(fn func()) {
	cs.OnChange(func(map[string]any) { fn() })
}
