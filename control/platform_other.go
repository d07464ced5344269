//go:build !linux

// control/platform_other.go
// Author: momentics <momentics@gmail.com>
//
// Debug probes for platforms without epoll support.

package control

import (
	"runtime"
)

// RegisterPlatformProbes sets generic debug probes.
func RegisterPlatformProbes(dp *DebugProbes) {
	dp.RegisterProbe("platform.cpus", func() any {
		return runtime.NumCPU()
	})
	dp.RegisterProbe("platform.os", func() any {
		return runtime.GOOS
	})
}
