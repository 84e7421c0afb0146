package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strconv"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/dhcgn/mail-scrub/config"
	"github.com/dhcgn/mail-scrub/filter"
	"github.com/dhcgn/mail-scrub/model"
	"github.com/dhcgn/mail-scrub/sanitize"
	"github.com/dhcgn/mail-scrub/stats"
)

// auditReport describes the identifying metadata found in a mailbox and what
// scrubbing would change.
type auditReport struct {
	Mailbox    string
	Total      int
	Scanned    int
	Filtered   int
	Failed     int
	InjectedCc int
	Removed    map[string]int
	Headers    *stats.HeaderCounter
}

func newAuditCommand() *cobra.Command {
	auditCmd := &cobra.Command{
		Use:   "audit",
		Short: "Count identifying headers in a label without writing a corpus",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cmd, config.ModeAudit)
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
			f, err := newFilter(cfg)
			if err != nil {
				return err
			}

			report, err := runAudit(cmd.Context(), cfg, dialer, f, newSanitizer(cfg), logger)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if err := printAudit(out, report, cfg.Top); err != nil {
				return err
			}

			if cfg.ReportDir != "" {
				paths, err := report.Headers.WriteCSV(cfg.ReportDir, 1000)
				if err != nil {
					return fmt.Errorf("error saving CSV reports: %w", err)
				}
				fmt.Fprintf(out, "\nReports saved to directory: %s (%d files)\n", cfg.ReportDir, len(paths))
			}
			return nil
		},
	}

	if err := config.RegisterAuditFlags(auditCmd); err != nil {
		panic(fmt.Sprintf("register audit flags: %v", err))
	}
	return auditCmd
}

func runAudit(ctx context.Context, cfg config.Config, dialer model.Dialer, f *filter.Filter, sanitizer *sanitize.Sanitizer, logger *slog.Logger) (auditReport, error) {
	report := auditReport{
		Mailbox: cfg.Label,
		Removed: make(map[string]int),
		Headers: stats.NewHeaderCounter(),
	}

	sess, err := dialer.Dial(ctx, model.Credentials{Username: cfg.User, Password: cfg.Pass})
	if err != nil {
		return report, err
	}
	defer func() {
		if err := sess.Close(); err != nil {
			logger.Warn("closing mail session", "err", err)
		}
	}()

	if _, err := sess.Select(ctx, cfg.Label, true); err != nil {
		return report, err
	}
	ids, err := sess.Search(ctx)
	if err != nil {
		return report, err
	}
	slices.Reverse(ids)
	report.Total = len(ids)
	if cfg.Limit > 0 && len(ids) > cfg.Limit {
		ids = ids[:cfg.Limit]
	}

	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		raw, err := sess.FetchBody(ctx, id)
		if err != nil {
			report.Failed++
			logger.Warn("skipping message", "position", i+1, "err", err)
			continue
		}
		if !f.Allows(raw) {
			report.Filtered++
			continue
		}

		report.Scanned++
		if err := report.Headers.Add(raw); err != nil {
			logger.Debug("unparsable header section", "position", i+1, "err", err)
		}
		_, changes := sanitizer.Apply(string(raw))
		for _, name := range changes.Removed {
			report.Removed[name]++
		}
		if changes.InjectedCc {
			report.InjectedCc++
		}
	}

	logger.Info("audit finished", "label", report.Mailbox, "total", report.Total, "scanned", report.Scanned, "filtered", report.Filtered, "failed", report.Failed)
	return report, nil
}

func printAudit(out io.Writer, report auditReport, top int) error {
	fmt.Fprintf(out, "Audited %d of %d messages in %s (filtered %d, failed %d)\n\n",
		report.Scanned, report.Total, report.Mailbox, report.Filtered, report.Failed)

	removed := pterm.TableData{{"Removed header", "Blocks"}}
	for _, c := range stats.TopCounts(report.Removed, 0) {
		removed = append(removed, []string{c.Value, strconv.Itoa(c.Count)})
	}
	if err := renderTable(out, removed); err != nil {
		return err
	}
	fmt.Fprintf(out, "Cc injected into %d messages\n\n", report.InjectedCc)

	for _, header := range report.Headers.Headers() {
		data := pterm.TableData{{fmt.Sprintf("Top %d %s", top, header), "Count"}}
		for _, c := range report.Headers.Top(header, top) {
			data = append(data, []string{c.Value, strconv.Itoa(c.Count)})
		}
		if err := renderTable(out, data); err != nil {
			return err
		}
		fmt.Fprintln(out)
	}
	return nil
}

func renderTable(out io.Writer, data pterm.TableData) error {
	table, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, table)
	return err
}
