//go:build !linux
// +build !linux

// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

import "runtime"

// currentThreadID falls back to the goroutine id where the kernel thread id
// is not available. Loop goroutines never migrate, so the mapping holds.
func currentThreadID() int {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	id := 0
	for i := len("goroutine "); i < n; i++ {
		if buf[i] < '0' || buf[i] > '9' {
			break
		}
		id = id*10 + int(buf[i]-'0')
	}
	return id
}
