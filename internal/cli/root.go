// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package cli implements the evloopd command tree.

package cli

import (
	"fmt"

	"github.com/momentics/hioload-evloop/control"
	"github.com/spf13/cobra"
)

// RootOptions holds global flags.
type RootOptions struct {
	Config string
	Format string
}

// ValidFormats lists the accepted --format values.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the evloopd root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "evloopd",
		Short: "evloopd - per-thread event loop runtime",
		Long: `evloopd runs a set of single-threaded event loops with prioritized
task queues and scheduling-delay monitoring, backed by a versioned
metadata store.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			for _, f := range ValidFormats {
				if f == opts.Format {
					return nil
				}
			}
			return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.Config, "config", "c", "", "path to the YAML configuration (defaults apply when empty)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewBenchCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	return cmd
}

// loadConfig reads opts.Config, or returns the defaults.
func loadConfig(opts *RootOptions) (*control.Config, error) {
	if opts.Config == "" {
		return control.DefaultConfig(), nil
	}
	cfg, err := control.LoadConfig(opts.Config)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	return cfg, nil
}

// NewValidateCommand checks a configuration file without starting loops.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "validate",
		Short:         "Validate the configuration file",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(rootOpts)
			if err != nil {
				return err
			}
			out := &Formatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			return out.Success("", cfg.Settings())
		},
	}
}
