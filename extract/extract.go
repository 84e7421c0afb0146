// Package extract drives a single extraction request: it clears the working
// directory, opens a mail session, selects a window of the newest messages,
// sanitizes each one into its own file and merges the files into the corpus.
package extract

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dhcgn/mail-scrub/filter"
	"github.com/dhcgn/mail-scrub/merge"
	"github.com/dhcgn/mail-scrub/metrics"
	"github.com/dhcgn/mail-scrub/model"
	"github.com/dhcgn/mail-scrub/sanitize"
	"github.com/dhcgn/mail-scrub/stats"
)

var (
	ErrInvalidRequest = errors.New("invalid extraction request")
	ErrNoMailboxes    = errors.New("No accessible labels found") // returned to HTTP clients as is

	errFiltered = errors.New("message rejected by filter")
)

const (
	DefaultWorkDir    = "extracted_emails"
	DefaultOutputPath = "merged_emails.txt"
)

type State string

const (
	StateIdle            State = "idle"
	StateClearingOutput  State = "clearing_output"
	StateSessionOpening  State = "session_opening"
	StateWindowResolving State = "window_resolving"
	StateFetching        State = "fetching"
	StateMerging         State = "merging"
	StateDone            State = "done"
	StateFailed          State = "failed"
)

type Options struct {
	WorkDir    string
	OutputPath string
	// Workers bounds concurrent fetches within one request.
	Workers int
	// Filter is optional; nil accepts every message.
	Filter *filter.Filter
	// Recorder receives per-message events in addition to the request's own
	// collector.
	Recorder stats.Recorder
}

type Request struct {
	Credentials model.Credentials
	Mailbox     string
	Window      model.Window
}

func (r Request) Validate() error {
	if strings.TrimSpace(r.Mailbox) == "" {
		return fmt.Errorf("%w: label is required", ErrInvalidRequest)
	}
	return nil
}

type Result struct {
	Mailbox string
	// Total is the number of messages in the mailbox.
	Total      int
	Requested  int
	Extracted  int
	Skipped    int
	Content    string
	OutputPath string
	Summary    stats.Summary
	Duration   time.Duration
}

// Pipeline runs extraction requests. It assumes callers serialize Extract
// calls that share a working directory.
type Pipeline struct {
	opts      Options
	dialer    model.Dialer
	sanitizer *sanitize.Sanitizer
	merger    *merge.Merger
	logger    *slog.Logger
}

func New(opts Options, dialer model.Dialer, sanitizer *sanitize.Sanitizer, merger *merge.Merger, logger *slog.Logger) (*Pipeline, error) {
	if dialer == nil {
		return nil, fmt.Errorf("dialer must not be nil")
	}
	if sanitizer == nil {
		sanitizer = sanitize.New(sanitize.Options{})
	}
	if merger == nil {
		merger = merge.New(merge.Options{})
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	opts.WorkDir = filepath.Clean(cmp.Or(opts.WorkDir, DefaultWorkDir))
	opts.OutputPath = filepath.Clean(cmp.Or(opts.OutputPath, DefaultOutputPath))
	opts.Workers = max(opts.Workers, 1)

	return &Pipeline{
		opts:      opts,
		dialer:    dialer,
		sanitizer: sanitizer,
		merger:    merger,
		logger:    logger,
	}, nil
}

// OutputPath is where merged corpora are written.
func (p *Pipeline) OutputPath() string {
	return p.opts.OutputPath
}

// Mailboxes lists the mailboxes of the account with their message counts.
func (p *Pipeline) Mailboxes(ctx context.Context, creds model.Credentials) ([]model.Mailbox, error) {
	sess, err := p.dialer.Dial(ctx, creds)
	if err != nil {
		metrics.SessionsTotal.WithLabelValues(metrics.ResultFailure).Inc()
		return nil, err
	}
	metrics.SessionsTotal.WithLabelValues(metrics.ResultSuccess).Inc()
	defer p.closeSession(sess)

	mailboxes, err := sess.ListMailboxes(ctx)
	if err != nil {
		return nil, err
	}
	if len(mailboxes) == 0 {
		return nil, ErrNoMailboxes
	}

	slices.SortFunc(mailboxes, func(a, b model.Mailbox) int {
		return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
	})
	return mailboxes, nil
}

// Extract runs one request to completion. Failures of single messages are
// logged and counted as skipped; everything else ends the request with an
// error.
func (p *Pipeline) Extract(ctx context.Context, req Request) (Result, error) {
	started := time.Now()
	metrics.ExtractionsInFlight.Inc()
	defer metrics.ExtractionsInFlight.Dec()

	req.Mailbox = strings.TrimSpace(req.Mailbox)
	window := req.Window.Normalize()
	logger := p.logger.With("mailbox", req.Mailbox)

	result, err := p.extract(ctx, req, window, logger)
	result.Duration = time.Since(started)
	metrics.ExtractionDuration.Observe(result.Duration.Seconds())

	if err != nil {
		metrics.ExtractionsTotal.WithLabelValues(metrics.ResultFailure).Inc()
		logger.Error("extraction failed", "duration", result.Duration, "err", err)
		p.transition(logger, StateFailed)
		return result, err
	}

	metrics.ExtractionsTotal.WithLabelValues(metrics.ResultSuccess).Inc()
	p.transition(logger, StateDone)
	logger.Info("extraction completed", append(result.Summary.LogAttrs(), "duration", result.Duration)...)
	return result, nil
}

func (p *Pipeline) extract(ctx context.Context, req Request, window model.Window, logger *slog.Logger) (Result, error) {
	result := Result{Mailbox: req.Mailbox, OutputPath: p.opts.OutputPath}
	p.transition(logger, StateIdle)
	if err := req.Validate(); err != nil {
		return result, err
	}

	p.transition(logger, StateClearingOutput)
	if err := p.clearOutput(logger); err != nil {
		return result, err
	}

	p.transition(logger, StateSessionOpening)
	sess, err := p.dialer.Dial(ctx, req.Credentials)
	if err != nil {
		metrics.SessionsTotal.WithLabelValues(metrics.ResultFailure).Inc()
		return result, err
	}
	metrics.SessionsTotal.WithLabelValues(metrics.ResultSuccess).Inc()
	defer p.closeSession(sess)

	if _, err := sess.Select(ctx, req.Mailbox, true); err != nil {
		return result, err
	}

	p.transition(logger, StateWindowResolving)
	ids, err := sess.Search(ctx)
	if err != nil {
		return result, err
	}
	slices.Reverse(ids)

	total := len(ids)
	startIdx, endIdx := window.Bounds(total)
	selected := ids[startIdx:endIdx]
	result.Total = total
	result.Requested = len(selected)
	logger.Debug("window resolved", "total", total, "start", window.Start, "count", window.Count, "selected", len(selected))

	collector := stats.NewCollector()
	recorder := stats.Multi(collector, p.opts.Recorder)

	p.transition(logger, StateFetching)
	extracted, err := p.fetchAll(ctx, sess, req.Mailbox, selected, startIdx, total, recorder, logger)
	result.Extracted = extracted
	result.Skipped = result.Requested - extracted
	if err != nil {
		result.Summary = collector.Snapshot()
		return result, err
	}

	p.transition(logger, StateMerging)
	merged, err := p.merger.Merge(p.opts.WorkDir, p.opts.OutputPath)
	if err != nil {
		recorder.Record(stats.Event{Stage: stats.StageMerge, Type: stats.EventTypeError, Mailbox: req.Mailbox, Err: err})
		result.Summary = collector.Snapshot()
		return result, fmt.Errorf("merge: %w", err)
	}
	if merged {
		data, err := os.ReadFile(p.opts.OutputPath)
		if err != nil {
			result.Summary = collector.Snapshot()
			return result, fmt.Errorf("read merged output: %w", err)
		}
		result.Content = string(data)
		recorder.Record(stats.Event{Stage: stats.StageMerge, Type: stats.EventTypeMerged, Mailbox: req.Mailbox})
	} else {
		logger.Info("nothing to merge", "selected", len(selected))
	}

	result.Summary = collector.Snapshot()
	return result, nil
}

func (p *Pipeline) fetchAll(ctx context.Context, sess model.Session, mailbox string, ids []model.MessageID, startIdx, total int, recorder stats.Recorder, logger *slog.Logger) (int, error) {
	var extracted atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Workers)

	for i, id := range ids {
		if gctx.Err() != nil {
			break
		}
		position := startIdx + i + 1
		recorder.Record(stats.Event{Stage: stats.StageFetch, Type: stats.EventTypeSelected, Mailbox: mailbox, Position: position})

		g.Go(func() error {
			err := p.extractOne(gctx, sess, id, position, total, logger)
			switch {
			case err == nil:
				extracted.Add(1)
				metrics.MessagesTotal.WithLabelValues(metrics.ResultSuccess).Inc()
				recorder.Record(stats.Event{Stage: stats.StageWrite, Type: stats.EventTypeExtracted, Mailbox: mailbox, Position: position})
			case errors.Is(err, errFiltered):
				metrics.MessagesTotal.WithLabelValues(metrics.ResultFiltered).Inc()
				recorder.Record(stats.Event{Stage: stats.StageFilter, Type: stats.EventTypeFiltered, Mailbox: mailbox, Position: position})
				logger.Debug("message filtered", "position", position)
			case gctx.Err() != nil:
				return gctx.Err()
			default:
				stage := stats.StageFetch
				var se *stageError
				if errors.As(err, &se) {
					stage = se.stage
				}
				metrics.MessagesTotal.WithLabelValues(metrics.ResultFailure).Inc()
				recorder.Record(stats.Event{Stage: stage, Type: stats.EventTypeError, Mailbox: mailbox, Position: position, Err: err})
				logger.Warn("skipping message", "position", position, "id", id, "stage", stage, "err", err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return int(extracted.Load()), err
	}
	if err := ctx.Err(); err != nil {
		return int(extracted.Load()), err
	}
	return int(extracted.Load()), nil
}

func (p *Pipeline) extractOne(ctx context.Context, sess model.Session, id model.MessageID, position, total int, logger *slog.Logger) error {
	raw, err := sess.FetchBody(ctx, id)
	if err != nil {
		return &stageError{stage: stats.StageFetch, err: fmt.Errorf("fetch message %d: %w", id, err)}
	}
	metrics.MessageBytes.Observe(float64(len(raw)))

	if !p.opts.Filter.Allows(raw) {
		return errFiltered
	}

	clean, report := p.sanitizer.Apply(string(raw))
	for _, name := range report.Removed {
		metrics.HeadersRemovedTotal.WithLabelValues(name).Inc()
	}

	name := p.merger.FileName(position, total)
	if err := os.WriteFile(filepath.Join(p.opts.WorkDir, name), []byte(clean), 0o644); err != nil {
		return &stageError{stage: stats.StageWrite, err: fmt.Errorf("write %s: %w", name, err)}
	}

	logger.Debug("message extracted", "position", position, "file", name, "removedHeaders", len(report.Removed), "injectedCc", report.InjectedCc)
	return nil
}

func (p *Pipeline) closeSession(sess model.Session) {
	if err := sess.Close(); err != nil {
		p.logger.Warn("closing mail session", "err", err)
	}
}

func (p *Pipeline) transition(logger *slog.Logger, state State) {
	logger.Debug("extraction state", "state", state)
}

type stageError struct {
	stage stats.Stage
	err   error
}

func (e *stageError) Error() string { return e.err.Error() }

func (e *stageError) Unwrap() error { return e.err }
