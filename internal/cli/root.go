// Package cli wires configuration, sampling and presentation behind the
// sysmoni command.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/sysmoni/internal/config"
)

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "sysmoni",
		Short: "Live dashboard of local CPU, memory, disk, network, GPU and battery",
		Long: `sysmoni samples the local machine at a fixed interval and shows usage
percentages and throughput rates, colored green, yellow or red against
warning and critical thresholds.

Use --json for a single machine-readable sample or --json-stream to emit one
JSON document per interval until interrupted.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd.Flags(), configPath)
			if err != nil {
				return err
			}

			parent := cmd.Context()
			if parent == nil {
				parent = context.Background()
			}
			ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
			defer stop()

			return run(ctx, cfg, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	config.RegisterFlags(cmd.Flags())
	cmd.Flags().StringVar(&configPath, "config", "", "config file (default ~/.config/sysmoni/config.yaml)")
	cmd.AddCommand(newVersionCmd())
	return cmd
}

// Execute runs the root command. Errors are printed to stderr and exit 1.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, strings.TrimRight(err.Error(), "\n"))
		os.Exit(1)
	}
}
