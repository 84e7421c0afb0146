package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dhcgn/mail-scrub/config"
)

// NewRootCommand assembles the CLI.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "mail-scrub",
		Short:         "Extract mail into a header-scrubbed text corpus",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	config.RegisterPersistentFlags(rootCmd)

	rootCmd.AddCommand(
		newServeCommand(),
		newExtractCommand(),
		newLabelsCommand(),
		newAuditCommand(),
	)
	return rootCmd
}

// Execute runs the CLI until it finishes or the process is interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return NewRootCommand().ExecuteContext(ctx)
}
