// File: metastore/metastore.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package metastore implements api.VersionedConfigStore. Synchronous calls
// block the caller and must not be made from an event loop thread. The
// asynchronous UpdateConfig runs the blocking work on a worker pool and
// delivers the callback back onto the submitting event loop.

package metastore

import (
	"context"

	"github.com/momentics/hioload-evloop/api"
	"github.com/momentics/hioload-evloop/core/concurrency"
)

var (
	// ErrKeyNotFound is returned by GetConfigSync for absent keys.
	ErrKeyNotFound = api.NewError(api.ErrCodeNotFound, "metastore: key not found")

	// ErrVersionConflict is returned when a conditional update's base version
	// does not match the stored one.
	ErrVersionConflict = api.NewError(api.ErrCodeVersionMismatch, "metastore: version mismatch")

	// ErrStoreClosed is returned by every call after Close.
	ErrStoreClosed = api.NewError(api.ErrCodeShutdown, "metastore: store closed")
)

// DefaultWorkers is the size of the worker pool a store creates when none
// is supplied.
const DefaultWorkers = 4

// Option configures a store.
type Option func(*options)

type options struct {
	exec    api.Executor
	workers int
}

// WithExecutor runs asynchronous work on exec. The store does not close it.
func WithExecutor(exec api.Executor) Option {
	return func(o *options) { o.exec = exec }
}

// WithWorkers sets the size of the store's own worker pool.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// async dispatches blocking work and routes its completion.
type async struct {
	exec  api.Executor
	owned *concurrency.Executor
}

func newAsync(name string, opts []Option) *async {
	o := options{workers: DefaultWorkers}
	for _, opt := range opts {
		opt(&o)
	}
	a := &async{exec: o.exec}
	if a.exec == nil {
		a.owned = concurrency.NewExecutor(name, o.workers)
		a.exec = a.owned
	}
	return a
}

// update runs work on the pool. If the caller is an event loop, cb runs on
// that loop; otherwise it runs on the worker.
func (a *async) update(work func(ctx context.Context) (uint64, error), cb api.UpdateCallback) {
	origin := concurrency.CaptureOrigin()
	complete := func(version uint64, err error) {
		if cb != nil {
			origin.Run(func() { cb(version, err) })
		}
	}
	if err := a.exec.Submit(func() {
		complete(work(context.Background()))
	}); err != nil {
		complete(0, err)
	}
}

// close stops the owned pool after draining accepted work.
func (a *async) close() {
	if a.owned != nil {
		a.owned.Close()
	}
}

// pool returns the owned worker pool, nil when an executor was supplied.
func (a *async) pool() *concurrency.Executor {
	return a.owned
}

// checkBase applies the conditional-update rule: nil base is
// unconditional, 0 requires the key to be absent.
func checkBase(base *uint64, current uint64, exists bool) error {
	if base == nil {
		return nil
	}
	if !exists {
		current = 0
	}
	if *base != current {
		return api.NewError(api.ErrCodeVersionMismatch, "metastore: version mismatch").
			WithContext("base", *base).
			WithContext("current", current)
	}
	return nil
}

// ReadModifyWriteSync applies mutate to the current value of key and stores
// the result conditionally, retrying when another writer won the race.
// mutate receives nil and found=false for absent keys.
func ReadModifyWriteSync(ctx context.Context, s api.VersionedConfigStore, key string,
	mutate func(cur []byte, found bool) ([]byte, error)) (uint64, error) {
	for {
		cur, version, err := s.GetConfigSync(ctx, key)
		found := true
		switch {
		case err == nil:
		case api.CodeOf(err) == api.ErrCodeNotFound:
			found, version = false, 0
		default:
			return 0, err
		}
		next, err := mutate(cur, found)
		if err != nil {
			return 0, err
		}
		v, err := s.UpdateConfigSync(ctx, key, next, &version)
		if api.CodeOf(err) == api.ErrCodeVersionMismatch {
			if cerr := ctx.Err(); cerr != nil {
				return 0, cerr
			}
			continue
		}
		return v, err
	}
}
