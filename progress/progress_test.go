package progress

import (
	"bytes"
	"errors"
	"testing"

	"github.com/dhcgn/mail-scrub/stats"
)

func TestBar_CountsWhenDisabled(t *testing.T) {
	var out bytes.Buffer
	b := New("debug", &out)

	b.Record(stats.Event{Type: stats.EventTypeSelected, Position: 1})
	b.Record(stats.Event{Type: stats.EventTypeSelected, Position: 2})
	b.Record(stats.Event{Type: stats.EventTypeExtracted, Position: 1})
	b.Record(stats.Event{Type: stats.EventTypeError, Position: 2, Err: errors.New("boom")})
	b.Stop(stats.Summary{Selected: 2, Extracted: 1, Errors: 1})

	if got := b.Done(); got != 2 {
		t.Errorf("Done() = %d, want 2", got)
	}
	if out.Len() != 0 {
		t.Errorf("disabled bar wrote output: %q", out.String())
	}
}

func TestBar_MergeErrorDoesNotAdvance(t *testing.T) {
	b := New("warn", nil)
	b.Record(stats.Event{Stage: stats.StageMerge, Type: stats.EventTypeError, Err: errors.New("disk full")})

	if got := b.Done(); got != 0 {
		t.Errorf("Done() = %d, want 0", got)
	}
}
