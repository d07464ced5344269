// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides the poll-mode event reactor that every event loop
// owns: descriptor readiness callbacks, one-shot re-armable timers and
// cross-thread wake signals, driven by Loop or a single non-blocking LoopOnce
// pass. The Linux implementation is built on epoll and eventfd.
package reactor
