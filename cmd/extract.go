package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/dhcgn/mail-scrub/config"
	"github.com/dhcgn/mail-scrub/extract"
	"github.com/dhcgn/mail-scrub/model"
	"github.com/dhcgn/mail-scrub/progress"
)

func newExtractCommand() *cobra.Command {
	extractCmd := &cobra.Command{
		Use:   "extract",
		Short: "Extract a window of messages from one label into the corpus file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cmd, config.ModeExtract)
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
			logger.Info("starting extraction", "label", cfg.Label, "start", cfg.Start, "count", cfg.Count, "output", cfg.OutputPath)

			dialer, err := newDialer(cfg, logger)
			if err != nil {
				return err
			}

			bar := progress.New(cfg.LogLevel, cmd.OutOrStdout())
			pipeline, err := newPipeline(cfg, dialer, bar, logger)
			if err != nil {
				return err
			}

			result, err := pipeline.Extract(cmd.Context(), extract.Request{
				Credentials: model.Credentials{Username: cfg.User, Password: cfg.Pass},
				Mailbox:     cfg.Label,
				Window:      model.Window{Start: cfg.Start, Count: cfg.Count},
			})
			bar.Stop(result.Summary)
			if err != nil {
				return err
			}

			if result.Content == "" {
				logger.Warn("no messages extracted", "label", result.Mailbox, "total", result.Total)
				return nil
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Extracted %d of %d messages from %s into %s\n",
				result.Extracted, result.Requested, result.Mailbox, result.OutputPath)
			return nil
		},
	}

	if err := config.RegisterExtractFlags(extractCmd); err != nil {
		panic(fmt.Sprintf("register extract flags: %v", err))
	}
	return extractCmd
}
