// File: affinity/affinity.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral API for CPU affinity. Platform-specific implementations are located
// in separate files guarded by build tags.

package affinity

import "fmt"

// SetAffinity pins the calling OS thread to a logical CPU. The caller must
// hold runtime.LockOSThread, otherwise the pin applies to whichever goroutine
// the thread runs next. On unsupported platforms returns an error.
func SetAffinity(cpuID int) error {
	if cpuID < 0 {
		return fmt.Errorf("affinity: invalid cpu %d", cpuID)
	}
	return setAffinityPlatform(cpuID)
}

// Affinity returns the CPUs the calling thread may run on.
func Affinity() ([]int, error) {
	return getAffinityPlatform()
}
