package cmd

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/dhcgn/mail-scrub/config"
	"github.com/dhcgn/mail-scrub/extract"
	"github.com/dhcgn/mail-scrub/filter"
	"github.com/dhcgn/mail-scrub/imap"
	"github.com/dhcgn/mail-scrub/mbox"
	"github.com/dhcgn/mail-scrub/merge"
	"github.com/dhcgn/mail-scrub/model"
	"github.com/dhcgn/mail-scrub/sanitize"
	"github.com/dhcgn/mail-scrub/stats"
)

// newDialer picks the mbox archive when one is configured and IMAP otherwise.
func newDialer(cfg config.Config, logger *slog.Logger) (model.Dialer, error) {
	if cfg.MboxPath != "" {
		d, err := mbox.NewDialer(mbox.Options{Path: cfg.MboxPath, Mailbox: cfg.Label}, logger)
		if err != nil {
			return nil, fmt.Errorf("mbox.NewDialer: %w", err)
		}
		return d, nil
	}

	d, err := imap.NewDialer(imap.Options{
		Host:               cfg.IMAPHost,
		Port:               cfg.IMAPPort,
		UseTLS:             cfg.UseTLS,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("imap.NewDialer: %w", err)
	}
	return d, nil
}

func newFilter(cfg config.Config) (*filter.Filter, error) {
	f, err := filter.New(filter.Rules{
		IncludeHeader: cfg.IncludeHeader,
		IncludeBody:   cfg.IncludeBody,
		ExcludeHeader: cfg.ExcludeHeader,
		ExcludeBody:   cfg.ExcludeBody,
	})
	if err != nil {
		return nil, fmt.Errorf("filter.New: %w", err)
	}
	return f, nil
}

// newSanitizer strips the default headers plus any configured extras.
func newSanitizer(cfg config.Config) *sanitize.Sanitizer {
	var remove []string
	if len(cfg.StripHeaders) > 0 {
		remove = append(slices.Clone(sanitize.DefaultRemoveHeaders), cfg.StripHeaders...)
	}
	return sanitize.New(sanitize.Options{RemoveHeaders: remove})
}

func newPipeline(cfg config.Config, dialer model.Dialer, recorder stats.Recorder, logger *slog.Logger) (*extract.Pipeline, error) {
	f, err := newFilter(cfg)
	if err != nil {
		return nil, err
	}

	p, err := extract.New(extract.Options{
		WorkDir:    cfg.WorkDir,
		OutputPath: cfg.OutputPath,
		Workers:    cfg.Workers,
		Filter:     f,
		Recorder:   recorder,
	}, dialer, newSanitizer(cfg), merge.New(merge.Options{Separator: cfg.Separator}), logger)
	if err != nil {
		return nil, fmt.Errorf("extract.New: %w", err)
	}
	return p, nil
}
