// cmd/time-producer/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/YaganovValera/time-producer/internal/app"
	"github.com/YaganovValera/time-producer/internal/config"
	"github.com/YaganovValera/time-producer/pkg/configloader"
	"github.com/YaganovValera/time-producer/pkg/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		cfgFile     string
		printConfig bool
	)

	root := &cobra.Command{
		Use:           "time-producer",
		Short:         "Publishes a timestamp event per tick to a message bus",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				fmt.Fprintln(os.Stderr, "config:", err)
				return err
			}
			if printConfig {
				return configloader.PrintConfig(cmd.OutOrStdout(), cfg)
			}

			log, err := logger.New(logger.Config{Level: cfg.Logging.Level, DevMode: cfg.Logging.DevMode})
			if err != nil {
				fmt.Fprintln(os.Stderr, "logger:", err)
				return err
			}
			defer log.Sync()
			log = log.Named(cfg.ServiceName)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			log.Info("starting",
				zap.String("version", cfg.ServiceVersion),
				zap.String("driver", cfg.Sink.Driver),
			)
			if err := app.Run(ctx, cfg, log); err != nil {
				log.Error("producer terminated", zap.Error(err))
				return err
			}
			log.Info("producer exited cleanly")
			return nil
		},
	}

	bindFlags(root.Flags(), &cfgFile, &printConfig)
	return root
}

func bindFlags(fs *pflag.FlagSet, cfgFile *string, printConfig *bool) {
	fs.StringVarP(cfgFile, "config", "c", "", "path to YAML config file (optional)")
	fs.BoolVar(printConfig, "print-config", false, "print resolved configuration and exit")
}
