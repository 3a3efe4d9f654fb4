// Command almexport exports all test cases of an ALM project to an xlsx
// workbook.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/Sternrassler/alm-export/pkg/logging"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

func newRootCmd() *cobra.Command {
	var logLevel string

	root := &cobra.Command{
		Use:           "almexport",
		Short:         "Export all test cases of an ALM project to an Excel workbook",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := logging.ParseLevel(logLevel)
			if err != nil {
				return err
			}
			cfg := logging.DefaultConfig()
			cfg.Level = level
			cfg.Pretty = true
			cfg.Output = cmd.ErrOrStderr()
			logging.Setup(cfg)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(newExportCmd())
	root.AddCommand(newInitCmd())
	root.AddCommand(newStatusCmd())
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("almexport failed")
		stop()
		os.Exit(1)
	}
}
