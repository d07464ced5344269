// File: api/control.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// Control is the runtime control plane of a process: flat settings that can
// be hot-reloaded, merged statistics, and named debug probes.
type Control interface {
	// GetConfig returns a copy of the current settings.
	GetConfig() map[string]any
	// SetConfig merges settings; listeners run only for changed keys.
	SetConfig(settings map[string]any) error
	// Stats merges settings with every debug probe under "debug.<name>".
	Stats() map[string]any
	// OnReload registers fn to run after any effective SetConfig.
	OnReload(fn func())
	// RegisterDebugProbe adds or replaces a probe.
	RegisterDebugProbe(name string, probe func() any)
}
