// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package cli

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/momentics/hioload-evloop/control"
	"github.com/momentics/hioload-evloop/facade"
	"github.com/spf13/cobra"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	MetricsAddr string

	// OnStarted, if set, is called once the engine and metrics server are
	// up. Used by tests.
	OnStarted func(e *facade.Engine, metricsAddr string)
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}
	return newRunCommand(opts)
}

func newRunCommand(opts *RunOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the configured event loops",
		Long: `Start every configured event loop, serve Prometheus metrics and debug
state over HTTP, and run until SIGINT or SIGTERM. SIGHUP re-reads the
configuration file and applies hot-reloadable settings.

Example:
  evloopd run --config ./evloopd.yaml
  evloopd run --metrics-addr 127.0.0.1:9464`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "override metrics.address")
	return cmd
}

func runDaemon(cmd *cobra.Command, opts *RunOptions) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	if opts.MetricsAddr != "" {
		cfg.Metrics.Address = opts.MetricsAddr
	}

	runID := uuid.NewString()
	log.Printf("[evloopd] run %s starting", runID)

	eng, err := facade.New(cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "engine init failed", err)
	}
	if err := eng.Start(); err != nil {
		eng.Shutdown()
		return WrapExitError(ExitFailure, "engine start failed", err)
	}
	defer func() {
		if err := eng.Shutdown(); err != nil {
			log.Printf("[evloopd] shutdown: %v", err)
		}
		log.Printf("[evloopd] run %s stopped", runID)
	}()

	var metricsAddr string
	if cfg.Metrics.Enabled {
		srv := control.NewMetricsServer(cfg.Metrics, eng.Control().Registry(), eng.Control().Debug())
		if err := srv.Start(); err != nil {
			return WrapExitError(ExitFailure, "metrics server failed", err)
		}
		metricsAddr = srv.Addr()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Stop(ctx)
		}()
	}

	var reloader *control.Reloader
	if opts.Config != "" {
		reloader = control.NewReloader(opts.Config, eng.Control().Store(), cfg)
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	if opts.OnStarted != nil {
		opts.OnStarted(eng, metricsAddr)
	}
	log.Printf("[evloopd] run %s: %d loops up", runID, len(eng.Loops()))

	for {
		select {
		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				if reloader == nil {
					log.Printf("[evloopd] SIGHUP ignored: no configuration file")
					continue
				}
				reloader.Reload()
				continue
			}
			log.Printf("[evloopd] received %v, shutting down", sig)
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}
