package stats

import (
	"sync"
)

type Stage string

const (
	StageFetch    Stage = "fetch"
	StageFilter   Stage = "filter"
	StageSanitize Stage = "sanitize"
	StageWrite    Stage = "write"
	StageMerge    Stage = "merge"
)

type EventType string

const (
	EventTypeSelected  EventType = "selected"
	EventTypeExtracted EventType = "extracted"
	EventTypeFiltered  EventType = "filtered"
	EventTypeMerged    EventType = "merged"
	EventTypeError     EventType = "error"
)

// Event reports progress on a single message of an extraction. Position is
// the 1-based absolute position of the message in the mailbox listing.
type Event struct {
	Stage    Stage
	Type     EventType
	Mailbox  string
	Position int
	Err      error
	Detail   string
}

type Summary struct {
	Selected  int
	Extracted int
	Filtered  int
	Errors    int
	Merged    bool
	LastError error
}

// Skipped counts selected messages that did not make it into the corpus.
func (s Summary) Skipped() int {
	return s.Filtered + s.Errors
}

func (s Summary) LogAttrs() []any {
	attrs := []any{
		"selected", s.Selected,
		"extracted", s.Extracted,
		"filtered", s.Filtered,
		"errors", s.Errors,
		"merged", s.Merged,
	}
	if s.LastError != nil {
		attrs = append(attrs, "lastError", s.LastError.Error())
	}
	return attrs
}

// Recorder consumes extraction events. Implementations must be safe for
// concurrent use.
type Recorder interface {
	Record(evt Event)
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(Event)

func (f RecorderFunc) Record(evt Event) { f(evt) }

type multi []Recorder

func (m multi) Record(evt Event) {
	for _, r := range m {
		r.Record(evt)
	}
}

// Multi fans every event out to all non-nil recorders.
func Multi(recorders ...Recorder) Recorder {
	out := make(multi, 0, len(recorders))
	for _, r := range recorders {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

// Collector aggregates events into a Summary.
type Collector struct {
	mu      sync.Mutex
	summary Summary
}

func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) Snapshot() Summary {
	c.mu.Lock()
	summary := c.summary
	c.mu.Unlock()
	return summary
}

func (c *Collector) Record(evt Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch evt.Type {
	case EventTypeSelected:
		c.summary.Selected++
	case EventTypeExtracted:
		c.summary.Extracted++
	case EventTypeFiltered:
		c.summary.Filtered++
	case EventTypeMerged:
		c.summary.Merged = true
	case EventTypeError:
		c.summary.Errors++
		if evt.Err != nil {
			c.summary.LastError = evt.Err
		}
	}
}
