package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"pointdist/internal/platform/config"
	"pointdist/internal/platform/logger"
)

const programName = "pointdist"

var globalFlags = struct {
	configFile string
	driver     string
	debug      bool
}{}

type configKey struct{}

func configFrom(ctx context.Context) (config.Config, error) {
	cfg, ok := ctx.Value(configKey{}).(config.Config)
	if !ok {
		return config.Config{}, errors.New("no config found in context")
	}
	return cfg, nil
}

func newLogger(cfg config.Config) *slog.Logger {
	if globalFlags.debug {
		cfg.Log.Level = "debug"
	}
	l := logger.New(cfg.Log)
	slog.SetDefault(l)
	return l
}

// main wires the CLI. Business logic lives in the internal service packages.
func main() {
	rootCmd := &cobra.Command{
		Use:          programName,
		Short:        "Weekly point distribution service",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&globalFlags.configFile, "config", "", "path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&globalFlags.driver, "driver", "", "database driver: memory, postgres, pgx or sqlite")
	rootCmd.PersistentFlags().BoolVarP(&globalFlags.debug, "debug", "D", false, "enable debug logging")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(globalFlags.configFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if globalFlags.driver != "" {
			cfg.Database.Driver = globalFlags.driver
			if err := cfg.Validate(); err != nil {
				return err
			}
		}
		cmd.SetContext(context.WithValue(cmd.Context(), configKey{}, cfg))
		return nil
	}

	rootCmd.AddCommand(serveCommand())
	rootCmd.AddCommand(finalizeCommand())
	rootCmd.AddCommand(migrateCommand())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		// cobra has already printed the error
		stop()
		os.Exit(1)
	}
}
