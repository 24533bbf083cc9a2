package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ashureev/studymate/internal/app"
	"github.com/spf13/cobra"
)

func newServeCmd(c *cli) *cobra.Command {
	var port string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API (and gRPC health server when GRPC_PORT is set)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if port != "" {
				c.cfg.Port = port
			}
			logger := app.NewLogger(c.cfg.LogLevel, os.Stdout, true)
			slog.SetDefault(logger)

			a, err := app.New(c.cfg, logger, c.appOptions()...)
			if err != nil {
				return err
			}
			defer func() {
				if closeErr := a.Close(); closeErr != nil {
					slog.Error("Failed to close application", "error", closeErr)
				}
			}()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.Serve(ctx)
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "override PORT")
	return cmd
}
