package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/dhcgn/mail-scrub/config"
	"github.com/dhcgn/mail-scrub/server"
)

func newServeCommand() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the extraction HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cmd, config.ModeServe)
			if err != nil {
				return err
			}

			logger, cleanup, err := setupLogger(cfg, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer func() {
				_ = cleanup()
			}()

			slog.SetDefault(logger)
			logger.Info("starting mail-scrub server", "listen", cfg.Listen, "workDir", cfg.WorkDir, "output", cfg.OutputPath, "mbox", cfg.MboxPath)

			dialer, err := newDialer(cfg, logger)
			if err != nil {
				return err
			}
			pipeline, err := newPipeline(cfg, dialer, nil, logger)
			if err != nil {
				return err
			}

			srv, err := server.New(server.Options{
				Addr:         cfg.Listen,
				CORSOrigin:   cfg.CORSOrigin,
				MaxBodyBytes: cfg.MaxBodyBytes,
				RateLimit:    cfg.RateLimit,
				RateWindow:   cfg.RateWindow,
				TrustProxy:   cfg.TrustProxy,
			}, pipeline, logger)
			if err != nil {
				return fmt.Errorf("server.New: %w", err)
			}

			return srv.Run(cmd.Context())
		},
	}

	config.RegisterServeFlags(serveCmd)
	return serveCmd
}
