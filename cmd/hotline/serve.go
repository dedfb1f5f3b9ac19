package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/creastat/hotline/config"
	"github.com/spf13/cobra"
)

func newServeCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the telephony webhooks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(config.Options{File: flags.configFile, DotEnv: flags.envFiles})
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger := newLogger(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			logger.Info("hotline listening", "addr", cfg.Server.Addr, "public_url", cfg.Server.PublicURL, "version", version)
			serveErr := a.server.Serve(ctx, cfg.Server.Addr)

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := a.close(shutdownCtx); err != nil {
				logger.Error("shutdown incomplete", "err", err)
			}
			return serveErr
		},
	}
}
