package main

import (
	"github.com/spf13/cobra"
)

// migrateCommand applies the schema of the configured backend and exits.
func migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema and event topic",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := configFrom(cmd.Context())
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			// opening the stores applies the schema
			a, err := buildApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			if a.producer != nil {
				if err := a.producer.EnsureTopic(cmd.Context(), 3, 1); err != nil {
					_ = a.Close()
					return err
				}
				logger.Info("event topic ready", "topic", cfg.Kafka.Topic)
			}
			logger.Info("schema up to date", "driver", cfg.Database.Driver)
			return a.Close()
		},
	}
}
