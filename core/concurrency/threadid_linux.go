//go:build linux
// +build linux

// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

import "golang.org/x/sys/unix"

// currentThreadID returns the kernel id of the calling OS thread. It is only
// stable for goroutines locked with runtime.LockOSThread.
func currentThreadID() int {
	return unix.Gettid()
}
