//go:build !linux
// +build !linux

// File: reactor/reactor_stub.go
// Author: momentics <momentics@gmail.com>
//
// Stub implementation for unsupported platforms.

package reactor

import "github.com/momentics/hioload-evloop/api"

// New returns an error for unsupported platforms.
func New(opts ...Option) (Reactor, error) {
	return nil, api.NewError(api.ErrCodeNotSupported, "reactor: this platform is not supported")
}
