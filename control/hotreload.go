// control/hotreload.go
// Re-reads the daemon configuration file and pushes hot-reloadable settings
// into a ConfigStore. Loop layout changes need a restart and are only logged.

package control

import (
	"log"
	"sync"
)

// Reloader applies a configuration file to a ConfigStore.
type Reloader struct {
	path  string
	store *ConfigStore

	mu      sync.Mutex
	current *Config
}

// NewReloader binds path to store. The initial configuration is what the
// process started with.
func NewReloader(path string, store *ConfigStore, initial *Config) *Reloader {
	if initial != nil {
		store.SetConfig(initial.Settings())
	}
	return &Reloader{path: path, store: store, current: initial}
}

// Reload reads and validates the file. On error the store is untouched.
func (r *Reloader) Reload() (*Config, error) {
	cfg, err := LoadConfig(r.path)
	if err != nil {
		log.Printf("[control] reload of %s rejected: %v", r.path, err)
		return nil, err
	}
	r.mu.Lock()
	prev := r.current
	r.current = cfg
	r.mu.Unlock()

	if prev != nil && !sameLoops(prev, cfg) {
		log.Printf("[control] loop layout changed in %s; restart required to apply it", r.path)
	}
	r.store.SetConfig(cfg.Settings())
	log.Printf("[control] reloaded %s", r.path)
	return cfg, nil
}

// Current returns the last applied configuration.
func (r *Reloader) Current() *Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

func sameLoops(a, b *Config) bool {
	ea, eb := expand(a), expand(b)
	if len(ea) != len(eb) {
		return false
	}
	for i := range ea {
		if ea[i] != eb[i] {
			return false
		}
	}
	return true
}

func expand(c *Config) []string {
	var out []string
	for _, lc := range c.Loops {
		for _, ec := range lc.EventLoopConfigs() {
			out = append(out, ec.Name)
		}
	}
	return out
}
