package stats

import (
	"bufio"
	"bytes"
	"cmp"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/emersion/go-message/textproto"
)

// DefaultTrackedHeaders are the identifying headers an audit counts values of.
var DefaultTrackedHeaders = []string{"Delivered-To", "From", "To", "Subject"}

// Count is one distinct value and how often it was seen.
type Count struct {
	Value string
	Count int
}

// TopCounts returns the n most frequent entries of counts, most frequent
// first and ties ordered by value. n <= 0 returns all entries.
func TopCounts(counts map[string]int, n int) []Count {
	out := make([]Count, 0, len(counts))
	for v, c := range counts {
		out = append(out, Count{Value: v, Count: c})
	}
	slices.SortFunc(out, func(a, b Count) int {
		if a.Count != b.Count {
			return cmp.Compare(b.Count, a.Count)
		}
		return strings.Compare(a.Value, b.Value)
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// HeaderCounter tallies the values of a fixed set of headers across raw
// messages. It is safe for concurrent use.
type HeaderCounter struct {
	mu         sync.Mutex
	headers    []string
	counts     map[string]map[string]int
	messages   int
	unparsable int
}

// NewHeaderCounter tracks headers, or DefaultTrackedHeaders when none are given.
func NewHeaderCounter(headers ...string) *HeaderCounter {
	if len(headers) == 0 {
		headers = DefaultTrackedHeaders
	}
	c := &HeaderCounter{
		headers: slices.Clone(headers),
		counts:  make(map[string]map[string]int, len(headers)),
	}
	for _, h := range c.headers {
		c.counts[h] = make(map[string]int)
	}
	return c
}

// Add parses the header section of raw and counts the tracked values.
func (c *HeaderCounter) Add(raw []byte) error {
	header, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(raw)))

	c.mu.Lock()
	defer c.mu.Unlock()

	c.messages++
	if err != nil {
		c.unparsable++
		return fmt.Errorf("read header: %w", err)
	}
	for _, name := range c.headers {
		if value := strings.TrimSpace(header.Get(name)); value != "" {
			c.counts[name][value]++
		}
	}
	return nil
}

func (c *HeaderCounter) Headers() []string {
	return slices.Clone(c.headers)
}

// Messages returns how many messages were added and how many of them had an
// unreadable header section.
func (c *HeaderCounter) Messages() (total, unparsable int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.messages, c.unparsable
}

func (c *HeaderCounter) Top(header string, n int) []Count {
	c.mu.Lock()
	defer c.mu.Unlock()
	return TopCounts(c.counts[header], n)
}

// WriteCSV writes one report_<header>.csv per tracked header into dir with
// at most limit rows each, and returns the written paths.
func (c *HeaderCounter) WriteCSV(dir string, limit int) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	paths := make([]string, 0, len(c.headers))
	for _, header := range c.headers {
		path := filepath.Join(dir, fmt.Sprintf("report_%s.csv", reportName(header)))
		if err := writeCountsCSV(path, c.Top(header, limit)); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func writeCountsCSV(path string, rows []Count) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"Value", "Count"}); err != nil {
		file.Close()
		return err
	}
	for _, row := range rows {
		if err := writer.Write([]string{row.Value, strconv.Itoa(row.Count)}); err != nil {
			file.Close()
			return err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

func reportName(header string) string {
	name := strings.ToLower(header)
	name = strings.ReplaceAll(name, "-", "_")
	return strings.ReplaceAll(name, " ", "_")
}
