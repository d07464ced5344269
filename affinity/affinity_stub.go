//go:build !linux
// +build !linux

// File: affinity/affinity_stub.go
// Author: momentics <momentics@gmail.com>
//
// Stub implementation for unsupported platforms.
// Returns error to indicate unavailability.

package affinity

import "errors"

var errUnsupported = errors.New("affinity: not supported on this platform")

// setAffinityPlatform is a stub for platforms where CPU affinity is not supported.
func setAffinityPlatform(cpuID int) error {
	return errUnsupported
}

func getAffinityPlatform() ([]int, error) {
	return nil, errUnsupported
}
