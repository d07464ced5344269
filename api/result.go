// Package api
// Author: momentics@gmail.com
//
// Handle for scheduled work.

package api

// Cancelable is a handle to a scheduled callback.
type Cancelable interface {
	// Cancel prevents the callback from running if it has not started.
	Cancel() error
	// Done is closed once the callback ran or was canceled.
	Done() <-chan struct{}
	// Err is nil after a normal run and non-nil after cancellation.
	Err() error
}
