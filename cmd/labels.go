package cmd

import (
	"log/slog"
	"strconv"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/dhcgn/mail-scrub/config"
	"github.com/dhcgn/mail-scrub/model"
)

func newLabelsCommand() *cobra.Command {
	labelsCmd := &cobra.Command{
		Use:   "labels",
		Short: "List the labels of an account with their message counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cmd, config.ModeLabels)
			if err != nil {
				return err
			}

			logger, cleanup, err := setupLogger(cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() {
				_ = cleanup()
			}()
			slog.SetDefault(logger)

			dialer, err := newDialer(cfg, logger)
			if err != nil {
				return err
			}
			pipeline, err := newPipeline(cfg, dialer, nil, logger)
			if err != nil {
				return err
			}

			mailboxes, err := pipeline.Mailboxes(cmd.Context(), model.Credentials{Username: cfg.User, Password: cfg.Pass})
			if err != nil {
				return err
			}

			data := pterm.TableData{{"Label", "Messages"}}
			for _, mb := range mailboxes {
				data = append(data, []string{mb.Name, strconv.FormatUint(uint64(mb.Messages), 10)})
			}
			return renderTable(cmd.OutOrStdout(), data)
		},
	}

	config.RegisterAccountFlags(labelsCmd)
	return labelsCmd
}
