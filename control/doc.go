// Package control
// Author: momentics <momentics@gmail.com>
//
// Configuration, hot-reload, metrics export and debug introspection for
// event loop deployments.
//
// Provides:
//   - YAML daemon configuration with strict decoding and validation
//   - A runtime settings store with change listeners for hot-reload
//   - A Prometheus collector sampling loop and worker pool counters
//   - Debug probes and an HTTP server exposing metrics and state
package control
