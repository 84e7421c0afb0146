// Package merge concatenates per-message files into a single corpus file.
package merge

import (
	"bytes"
	"cmp"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
)

const (
	DefaultSeparator = "__SEP__"
	DefaultPrefix    = "email_"
	DefaultSuffix    = ".txt"
)

// Options configures a Merger. Zero values select the defaults.
type Options struct {
	Separator string
	Prefix    string
	Suffix    string
}

// Merger joins message files in position order.
type Merger struct {
	separator string
	prefix    string
	suffix    string
}

// New creates a Merger from opts.
func New(opts Options) *Merger {
	m := &Merger{
		separator: cmp.Or(opts.Separator, DefaultSeparator),
		prefix:    cmp.Or(opts.Prefix, DefaultPrefix),
		suffix:    cmp.Or(opts.Suffix, DefaultSuffix),
	}
	return m
}

// FileName returns the name of the message file at 1-based position within a
// list of total messages. The position is zero padded to the width of total
// so that lexicographic and numeric order agree.
func (m *Merger) FileName(position, total int) string {
	width := len(strconv.Itoa(max(total, position)))
	return fmt.Sprintf("%s%0*d%s", m.prefix, width, position, m.suffix)
}

// Position parses the position out of a message file name.
func (m *Merger) Position(name string) (int, bool) {
	if !strings.HasPrefix(name, m.prefix) || !strings.HasSuffix(name, m.suffix) {
		return 0, false
	}
	digits := strings.TrimSuffix(strings.TrimPrefix(name, m.prefix), m.suffix)
	if digits == "" || strings.IndexFunc(digits, func(r rune) bool { return r < '0' || r > '9' }) >= 0 {
		return 0, false
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Files lists the message files in dir in merge order.
func (m *Merger) Files(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", dir, err)
	}

	type file struct {
		name     string
		position int
	}
	var files []file
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		pos, ok := m.Position(entry.Name())
		if !ok {
			continue
		}
		files = append(files, file{name: entry.Name(), position: pos})
	}

	slices.SortFunc(files, func(a, b file) int {
		return cmp.Or(cmp.Compare(a.position, b.position), strings.Compare(a.name, b.name))
	})

	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.name
	}
	return names, nil
}

// Merge concatenates the message files in dir into outputPath, separated by
// a blank line, the separator and another blank line. It returns false
// without writing anything when dir holds no message files.
func (m *Merger) Merge(dir, outputPath string) (bool, error) {
	names, err := m.Files(dir)
	if err != nil {
		return false, err
	}
	if len(names) == 0 {
		return false, nil
	}

	joiner := []byte("\n" + m.separator + "\n\n")
	var buf bytes.Buffer
	for i, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return false, fmt.Errorf("read %s: %w", name, err)
		}
		if i > 0 {
			buf.Write(joiner)
		}
		buf.Write(data)
	}

	if err := writeAtomic(outputPath, buf.Bytes()); err != nil {
		return false, err
	}
	return true, nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if tmpName != "" {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename output: %w", err)
	}
	tmpName = ""
	return nil
}
