//go:build linux
// +build linux

// File: reactor/reactor_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux epoll(7)-based reactor implementation and factory. Cross-thread
// wake-ups use eventfd(2) descriptors registered like any other fd.

package reactor

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/momentics/hioload-evloop/api"
	"golang.org/x/sys/unix"
)

// epollReactor is an epoll-based event reactor.
type epollReactor struct {
	epfd      int
	wakeFd    int // eventfd used by Stop
	events    []unix.EpollEvent
	callbacks map[int32]FDCallback
	timers    timerQueue
	now       time.Time
	stopping  atomic.Bool
	closed    bool
}

// New constructs the Linux reactor. Creation failures caused by memory or
// descriptor limits are reported as api.ErrCodeResourceExhausted, anything
// else as api.ErrCodeInternal.
func New(opts ...Option) (Reactor, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, classify("epoll create", err)
	}
	wakeFd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, classify("eventfd", err)
	}
	r := &epollReactor{
		epfd:      epfd,
		wakeFd:    wakeFd,
		events:    make([]unix.EpollEvent, o.maxEvents),
		callbacks: make(map[int32]FDCallback),
		now:       time.Now(),
	}
	if err := r.Register(uintptr(wakeFd), EventRead, func(uintptr, FDEventType) {
		drainEventfd(wakeFd)
	}); err != nil {
		unix.Close(wakeFd)
		unix.Close(epfd)
		return nil, classify("register wake fd", err)
	}
	return r, nil
}

func classify(op string, err error) error {
	code := api.ErrCodeInternal
	if errors.Is(err, unix.ENOMEM) || errors.Is(err, unix.EMFILE) || errors.Is(err, unix.ENFILE) {
		code = api.ErrCodeResourceExhausted
	}
	return api.NewError(code, "reactor: "+op).Wrap(err)
}

// Register adds file descriptor to epoll.
func (r *epollReactor) Register(fd uintptr, events FDEventType, cb FDCallback) error {
	if r.closed {
		return ErrClosed
	}
	ev := unix.EpollEvent{Fd: int32(fd)}
	if events&EventRead != 0 {
		ev.Events |= unix.EPOLLIN
	}
	if events&EventWrite != 0 {
		ev.Events |= unix.EPOLLOUT
	}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, int(fd), &ev); err != nil {
		return fmt.Errorf("epoll ctl add: %w", err)
	}
	r.callbacks[int32(fd)] = cb
	return nil
}

// Unregister removes file descriptor from epoll.
func (r *epollReactor) Unregister(fd uintptr) error {
	if r.closed {
		return ErrClosed
	}
	delete(r.callbacks, int32(fd))
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, int(fd), nil); err != nil {
		return fmt.Errorf("epoll ctl del: %w", err)
	}
	return nil
}

func (r *epollReactor) NewTimer(cb func()) Timer {
	return r.timers.newTimer(cb)
}

func (r *epollReactor) NewSignal(cb func()) (Signal, error) {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, classify("eventfd", err)
	}
	s := &eventfdSignal{r: r, fd: fd}
	if err := r.Register(uintptr(fd), EventRead, func(uintptr, FDEventType) {
		drainEventfd(fd)
		cb()
	}); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return s, nil
}

// Loop runs passes until Stop is requested.
func (r *epollReactor) Loop() error {
	defer r.stopping.Store(false)
	for !r.stopping.Load() {
		if err := r.pass(true); err != nil {
			return err
		}
	}
	return nil
}

// LoopOnce runs one non-blocking pass.
func (r *epollReactor) LoopOnce() error {
	return r.pass(false)
}

func (r *epollReactor) Stop() {
	if r.stopping.CompareAndSwap(false, true) {
		notifyEventfd(r.wakeFd)
	}
}

func (r *epollReactor) Now() time.Time { return r.now }

func (r *epollReactor) pass(block bool) error {
	if r.closed {
		return ErrClosed
	}
	timeout := 0
	if block && !r.stopping.Load() {
		timeout = r.timers.timeout(time.Now())
	}
	n, err := unix.EpollWait(r.epfd, r.events, timeout)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			n = 0
		} else {
			return fmt.Errorf("epoll wait: %w", err)
		}
	}
	r.now = time.Now()
	for i := 0; i < n; i++ {
		ev := r.events[i]
		cb, ok := r.callbacks[ev.Fd]
		if !ok {
			continue
		}
		var kind FDEventType
		if ev.Events&unix.EPOLLIN != 0 {
			kind |= EventRead
		}
		if ev.Events&unix.EPOLLOUT != 0 {
			kind |= EventWrite
		}
		if ev.Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
			kind |= EventError
		}
		fd := uintptr(ev.Fd)
		safeCall(func() { cb(fd, kind) })
	}
	r.timers.runExpired(time.Now())
	return nil
}

// Close releases the epoll instance and the internal wake descriptor.
func (r *epollReactor) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.timers.clear()
	r.callbacks = nil
	werr := unix.Close(r.wakeFd)
	if err := unix.Close(r.epfd); err != nil {
		return err
	}
	return werr
}

type eventfdSignal struct {
	r      *epollReactor
	fd     int
	closed atomic.Bool
}

func (s *eventfdSignal) Notify() error {
	if s.closed.Load() {
		return ErrClosed
	}
	return notifyEventfd(s.fd)
}

func (s *eventfdSignal) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if !s.r.closed {
		_ = s.r.Unregister(uintptr(s.fd))
	}
	return unix.Close(s.fd)
}

func notifyEventfd(fd int) error {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	_, err := unix.Write(fd, buf[:])
	if errors.Is(err, unix.EAGAIN) {
		// counter saturated, a wake-up is already pending
		return nil
	}
	return err
}

func drainEventfd(fd int) {
	var buf [8]byte
	for {
		if _, err := unix.Read(fd, buf[:]); err != nil {
			return
		}
	}
}
