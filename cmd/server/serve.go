package main

import (
	"github.com/spf13/cobra"

	memberhandler "pointdist/internal/member/handler"
	"pointdist/internal/platform/httpserver"
	"pointdist/internal/platform/metrics"
	pointshandler "pointdist/internal/points/handler"
	httptransport "pointdist/internal/transport/http"
)

func serveCommand() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := configFrom(cmd.Context())
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			logger := newLogger(cfg)

			a, err := buildApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(); err != nil {
					logger.Error("failed to release resources", "error", err)
				}
			}()

			router := httptransport.NewRouter(httptransport.Options{
				Logger:   logger,
				Metrics:  metrics.New(a.registry),
				Gatherer: a.registry,
				Checks:   a.checks,
			},
				memberhandler.New(a.members, logger),
				pointshandler.New(a.points, logger),
			)

			logger.Info("starting "+programName,
				"addr", cfg.Server.Addr,
				"driver", cfg.Database.Driver,
				"directory", cfg.Directory.BaseURL != "",
			)
			return httpserver.Run(cmd.Context(), httpserver.New(cfg.Server, router), cfg.Server.ShutdownTimeout, logger)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides server.addr")
	return cmd
}
