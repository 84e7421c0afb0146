package progress

import (
	"fmt"
	"io"
	"sync"

	"github.com/pterm/pterm"

	"github.com/dhcgn/mail-scrub/stats"
)

// Bar renders extraction progress on the terminal. It only draws when the
// log level is "info"; otherwise it silently records counts.
type Bar struct {
	mu       sync.Mutex
	pb       *pterm.ProgressbarPrinter
	writer   io.Writer
	enabled  bool
	started  bool
	done     int
	selected int
}

// New creates a progress bar. Passing a nil writer draws to the default
// pterm output.
func New(logLevel string, writer io.Writer) *Bar {
	return &Bar{
		enabled: logLevel == "info",
		writer:  writer,
	}
}

// Record implements stats.Recorder.
func (b *Bar) Record(evt stats.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch evt.Type {
	case stats.EventTypeSelected:
		b.selected++
		if b.pb != nil {
			b.pb.Total = b.selected
		}
	case stats.EventTypeExtracted, stats.EventTypeFiltered:
		b.advance(fmt.Sprintf("Message %d", evt.Position))
	case stats.EventTypeError:
		if evt.Position > 0 {
			b.advance(fmt.Sprintf("Message %d failed", evt.Position))
		}
		if b.enabled && evt.Err != nil {
			b.printer(pterm.Error).Printf("Error: %v\n", evt.Err)
		}
	}
}

func (b *Bar) advance(title string) {
	b.done++
	if !b.enabled {
		return
	}
	if !b.started {
		b.started = true
		pb := pterm.DefaultProgressbar.WithTotal(max(b.selected, 1)).WithTitle("Extracting messages")
		if b.writer != nil {
			pb = pb.WithWriter(b.writer)
		}
		started, err := pb.Start()
		if err != nil {
			b.enabled = false
			return
		}
		b.pb = started
	}
	b.pb.UpdateTitle(title)
	b.pb.Increment()
}

// Done returns the number of messages that finished, successfully or not.
func (b *Bar) Done() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.done
}

// Stop finalizes the bar and prints the summary.
func (b *Bar) Stop(summary stats.Summary) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.enabled {
		return
	}
	if b.pb != nil {
		_, _ = b.pb.Stop()
	}

	b.printer(pterm.Info).Printf("Selected: %d\n", summary.Selected)
	b.printer(pterm.Info).Printf("Extracted: %d\n", summary.Extracted)
	b.printer(pterm.Info).Printf("Filtered: %d\n", summary.Filtered)
	b.printer(pterm.Info).Printf("Errors: %d\n", summary.Errors)
	if summary.LastError != nil {
		b.printer(pterm.Error).Printf("Last error: %v\n", summary.LastError)
	}
}

func (b *Bar) printer(p pterm.PrefixPrinter) *pterm.PrefixPrinter {
	if b.writer != nil {
		return p.WithWriter(b.writer)
	}
	return &p
}
