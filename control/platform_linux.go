//go:build linux

// control/platform_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux-specific debug probes.

package control

import (
	"runtime"

	"github.com/momentics/hioload-evloop/affinity"
	"golang.org/x/sys/unix"
)

// RegisterPlatformProbes sets Linux-specific debug probes.
func RegisterPlatformProbes(dp *DebugProbes) {
	dp.RegisterProbe("platform.cpus", func() any {
		return runtime.NumCPU()
	})
	dp.RegisterProbe("platform.pid", func() any {
		return unix.Getpid()
	})
	dp.RegisterProbe("platform.affinity", func() any {
		cpus, err := affinity.Affinity()
		if err != nil {
			return err.Error()
		}
		return cpus
	})
}
