// File: facade/engine.go
// Unified facade over the event loop runtime.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Engine aggregates the components a process needs behind one type: the
// configured event loops, the control plane (settings, metrics, debug
// probes), the versioned metadata store with its worker pool, the
// checkpoint store and optional tracing. Loops are created by Start and
// torn down by Stop; settings pushed into the control store after Start
// resize the metadata worker pool.

package facade

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/momentics/hioload-evloop/adapters"
	"github.com/momentics/hioload-evloop/api"
	"github.com/momentics/hioload-evloop/checkpoint"
	"github.com/momentics/hioload-evloop/control"
	"github.com/momentics/hioload-evloop/core/concurrency"
	"github.com/momentics/hioload-evloop/metastore"
	"github.com/momentics/hioload-evloop/reactor"
	"github.com/momentics/hioload-evloop/tracing"
)

// Version is reported in traces.
const Version = "0.3.0"

// MetricsNamespace prefixes every exported metric.
const MetricsNamespace = "evloop"

// Store is a metadata store that owns a resizable worker pool.
type Store interface {
	api.VersionedConfigStore
	Pool() *concurrency.Executor
}

// Option tunes an Engine beyond its Config.
type Option func(*Engine)

// WithReactorFactory overrides the reactor of every loop.
func WithReactorFactory(f reactor.Factory) Option {
	return func(e *Engine) { e.reactorFactory = f }
}

// WithTraceWriter sends exported spans to w instead of stdout.
func WithTraceWriter(w io.Writer) Option {
	return func(e *Engine) { e.traceWriter = w }
}

// Engine is the main facade type. It implements api.GracefulShutdown.
type Engine struct {
	cfg            *control.Config
	reactorFactory reactor.Factory
	traceWriter    io.Writer

	control     *adapters.ControlAdapter
	store       Store
	checkpoints *checkpoint.Store

	mu            sync.RWMutex
	started       bool
	stopped       bool
	loops         []*concurrency.EventLoop
	byName        map[string]*concurrency.EventLoop
	traceShutdown tracing.ShutdownFunc

	next atomic.Uint64
}

var (
	_ api.GracefulShutdown = (*Engine)(nil)
	_ api.Executor         = (*Engine)(nil)
)

// New validates cfg and opens the metadata store. A nil cfg means
// control.DefaultConfig.
func New(cfg *control.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = control.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:     cfg,
		control: adapters.NewControlAdapter(MetricsNamespace),
		byName:  make(map[string]*concurrency.EventLoop),
	}
	for _, opt := range opts {
		opt(e)
	}

	store, err := openStore(cfg.Metastore)
	if err != nil {
		return nil, err
	}
	e.store = store
	var copts []checkpoint.Option
	if pool := store.Pool(); pool != nil {
		copts = append(copts, checkpoint.WithExecutor(pool))
		e.control.TrackPool("metastore", pool)
	}
	e.checkpoints = checkpoint.New(store, copts...)

	e.control.SetConfig(cfg.Settings())
	e.control.Store().OnChange(e.applySettings)
	return e, nil
}

func openStore(cfg control.MetastoreConfig) (Store, error) {
	switch cfg.Driver {
	case control.DriverSQLite:
		s, err := metastore.OpenSQLite(cfg.Path, metastore.WithWorkers(cfg.Workers))
		if err != nil {
			return nil, fmt.Errorf("metastore init failure: %w", err)
		}
		return s, nil
	default:
		return metastore.NewMemoryStore(metastore.WithWorkers(cfg.Workers)), nil
	}
}

// applySettings reacts to hot-reloaded settings.
func (e *Engine) applySettings(changed map[string]any) {
	v, ok := changed["metastore.workers"]
	if !ok {
		return
	}
	n, ok := v.(int)
	if !ok || n <= 0 {
		log.Printf("[facade] ignoring metastore.workers=%v", v)
		return
	}
	pool := e.store.Pool()
	if pool == nil || pool.NumWorkers() == n {
		return
	}
	if err := pool.Resize(n); err != nil {
		log.Printf("[facade] metastore pool resize failed: %v", err)
	}
}

// Start creates and tracks every configured loop and installs tracing.
// If one loop fails to start, those already created are closed again.
// Subsequent calls have no effect.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return nil
	}
	if e.stopped {
		return api.NewError(api.ErrCodeShutdown, "facade: engine stopped")
	}
	if e.cfg.Tracing.Enabled {
		shutdown, err := tracing.Init(e.cfg.Tracing.ServiceName, Version, e.traceWriter)
		if err != nil {
			return fmt.Errorf("tracing init failure: %w", err)
		}
		e.traceShutdown = shutdown
	}
	for _, lc := range e.cfg.Loops {
		for _, lcfg := range lc.EventLoopConfigs() {
			if e.reactorFactory != nil {
				lcfg.ReactorFactory = e.reactorFactory
			}
			l, err := concurrency.NewEventLoop(lcfg)
			if err != nil {
				e.closeLoops(e.loops)
				e.loops = nil
				e.byName = make(map[string]*concurrency.EventLoop)
				stopTracing(e.traceShutdown)
				e.traceShutdown = nil
				return fmt.Errorf("loop %q: %w", lcfg.Name, err)
			}
			e.loops = append(e.loops, l)
			e.byName[lcfg.Name] = l
			e.control.TrackLoop(lcfg.Name, l)
		}
	}
	e.started = true
	log.Printf("[facade] started %d loops", len(e.loops))
	return nil
}

// Stop shuts every loop down and waits for it, then closes the checkpoint
// and metadata stores. A stopped engine cannot be started again. Tasks
// still running on a loop may keep calling Submit while Stop waits.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return nil
	}
	loops := e.loops
	traceShutdown := e.traceShutdown
	e.loops, e.traceShutdown = nil, nil
	e.byName = make(map[string]*concurrency.EventLoop)
	e.started, e.stopped = false, true
	e.mu.Unlock()

	for _, l := range loops {
		l.Shutdown()
	}
	err := e.closeLoops(loops)
	e.checkpoints.Close()
	if serr := e.store.Close(); serr != nil && err == nil {
		err = serr
	}
	stopTracing(traceShutdown)
	log.Printf("[facade] stopped")
	return err
}

func (e *Engine) closeLoops(loops []*concurrency.EventLoop) error {
	var first error
	for _, l := range loops {
		e.control.UntrackLoop(l.Name())
		if err := l.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func stopTracing(shutdown tracing.ShutdownFunc) {
	if shutdown == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		log.Printf("[facade] tracing shutdown: %v", err)
	}
}

// Shutdown implements api.GracefulShutdown by delegating to Stop.
func (e *Engine) Shutdown() error {
	return e.Stop()
}

// Loop returns the started loop called name.
func (e *Engine) Loop(name string) (*concurrency.EventLoop, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	l, ok := e.byName[name]
	return l, ok
}

// Loops returns the started loops in configuration order.
func (e *Engine) Loops() []*concurrency.EventLoop {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]*concurrency.EventLoop(nil), e.loops...)
}

// Submit dispatches fn to the loops round-robin at PriorityMid.
func (e *Engine) Submit(fn func()) error {
	return e.SubmitWithPriority(fn, api.PriorityMid)
}

// SubmitWithPriority dispatches fn to the loops round-robin.
func (e *Engine) SubmitWithPriority(fn func(), p api.Priority) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if len(e.loops) == 0 {
		return api.NewError(api.ErrCodeShutdown, "facade: engine not started")
	}
	l := e.loops[e.next.Add(1)%uint64(len(e.loops))]
	return l.AddWithPriority(fn, p)
}

// Config returns the configuration the engine was built from.
func (e *Engine) Config() *control.Config { return e.cfg }

// Control returns the control plane.
func (e *Engine) Control() *adapters.ControlAdapter { return e.control }

// Store returns the metadata store.
func (e *Engine) Store() Store { return e.store }

// Checkpoints returns the checkpoint store.
func (e *Engine) Checkpoints() *checkpoint.Store { return e.checkpoints }
