// control/server.go
// Author: momentics <momentics@gmail.com>
//
// HTTP endpoint exposing Prometheus metrics, a health check and the debug
// probe dump.

package control

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsServer serves /metrics (or the configured path), /health and
// /debug/state.
type MetricsServer struct {
	server *http.Server
	ln     net.Listener
}

// NewMetricsServer creates a server for reg and dp on cfg.Address.
func NewMetricsServer(cfg MetricsConfig, reg *prometheus.Registry, dp *DebugProbes) *MetricsServer {
	path := cfg.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	mux.HandleFunc("/debug/state", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := dp.WriteJSON(w); err != nil {
			log.Printf("[control] debug state: %v", err)
		}
	})
	return &MetricsServer{
		server: &http.Server{
			Addr:              cfg.Address,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start binds the listen address and serves in the background.
func (s *MetricsServer) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	s.ln = ln
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[control] metrics server: %v", err)
		}
	}()
	log.Printf("[control] metrics listening on %s", ln.Addr())
	return nil
}

// Addr returns the bound address once started.
func (s *MetricsServer) Addr() string {
	if s.ln == nil {
		return s.server.Addr
	}
	return s.ln.Addr().String()
}

// Stop gracefully stops the server.
func (s *MetricsServer) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
