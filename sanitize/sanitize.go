// Package sanitize rewrites raw message text so that it no longer carries
// addressing, routing or signature metadata.
//
// The transform is line oriented. Header blocks named in the removal set are
// dropped together with their folded continuation lines, Date, Message-ID,
// From and To are rewritten into redacted forms, a Cc header is injected when
// the message has none, and every other line is passed through untouched.
// Line terminators are normalized to LF.
package sanitize

import "strings"

// Redaction markers substituted for sensitive values.
const (
	MarkerDate = "[DATE]"
	MarkerEID  = "[EID]"
	MarkerRDNS = "[RDNS]"
	MarkerTo   = "[*to]"
)

// DefaultRemoveHeaders lists the headers dropped when Options.RemoveHeaders
// is nil.
var DefaultRemoveHeaders = []string{
	"Delivered-To",
	"ARC-Seal",
	"ARC-Message-Signature",
	"ARC-Authentication-Results",
	"Return-Path",
	"Received-SPF",
	"Authentication-Results",
	"DKIM-Signature",
	"X-Received",
	"X-Google-Smtp-Source",
}

// Options configures a Sanitizer.
type Options struct {
	// RemoveHeaders are matched case-insensitively. Nil selects
	// DefaultRemoveHeaders; an empty non-nil slice removes nothing.
	RemoveHeaders []string
}

// Sanitizer holds the immutable removal set. It is safe for concurrent use.
type Sanitizer struct {
	remove []removal
}

type removal struct {
	prefix string // lower-cased "name:"
	name   string
}

// Report describes what a single Apply call changed.
type Report struct {
	// Removed holds one entry per dropped header block start, in input order.
	Removed    []string
	InjectedCc bool
}

// New builds a Sanitizer from opts.
func New(opts Options) *Sanitizer {
	names := opts.RemoveHeaders
	if names == nil {
		names = DefaultRemoveHeaders
	}

	seen := make(map[string]struct{}, len(names))
	remove := make([]removal, 0, len(names))
	for _, name := range names {
		name = strings.TrimSuffix(strings.TrimSpace(name), ":")
		if name == "" {
			continue
		}
		prefix := strings.ToLower(name) + ":"
		if _, ok := seen[prefix]; ok {
			continue
		}
		seen[prefix] = struct{}{}
		remove = append(remove, removal{prefix: prefix, name: name})
	}

	return &Sanitizer{remove: remove}
}

// RemoveHeaders returns the configured removal set.
func (s *Sanitizer) RemoveHeaders() []string {
	names := make([]string, len(s.remove))
	for i, r := range s.remove {
		names[i] = r.name
	}
	return names
}

// Sanitize returns the sanitized form of raw.
func (s *Sanitizer) Sanitize(raw string) string {
	out, _ := s.Apply(raw)
	return out
}

// SanitizeBytes is Sanitize for byte slices.
func (s *Sanitizer) SanitizeBytes(raw []byte) []byte {
	out, _ := s.Apply(string(raw))
	return []byte(out)
}

type blockKind int

const (
	outside blockKind = iota
	// inRemoval drops lines until a blank line or a header outside the
	// removal set.
	inRemoval
	// inReplaced drops the continuation lines of a header section field
	// that was replaced as a whole.
	inReplaced
)

type blockState struct {
	kind blockKind
	name string
}

type line struct {
	text string
	eol  string
}

const eol = "\n"

// Apply sanitizes raw and reports the changes it made.
func (s *Sanitizer) Apply(raw string) (string, Report) {
	var report Report
	lines := splitLines(raw)
	ccPresent := hasHeader(lines, "cc:")

	var b strings.Builder
	b.Grow(len(raw) + 32)

	var state blockState
	inHeader := true
	for _, ln := range lines {
		lower := strings.ToLower(ln.text)
		name, removable := s.match(lower)

		switch state.kind {
		case inRemoval:
			if removable || !endsRemovalBlock(ln.text) {
				if removable {
					state.name = name
					report.Removed = append(report.Removed, name)
				}
				continue
			}
			state = blockState{}
		case inReplaced:
			if isContinuation(ln.text) {
				continue
			}
			state = blockState{}
		}
		if isBlank(ln.text) {
			inHeader = false
		}

		if removable {
			state = blockState{kind: inRemoval, name: name}
			report.Removed = append(report.Removed, name)
			continue
		}

		switch {
		case strings.HasPrefix(lower, "date:"):
			b.WriteString("Date: " + MarkerDate + ln.eol)
			if inHeader {
				state = blockState{kind: inReplaced, name: "Date"}
			}
		case strings.HasPrefix(lower, "message-id:"):
			b.WriteString(formatHeader("Message-ID", rewriteMessageID(headerValue(ln.text))) + ln.eol)
		case strings.HasPrefix(lower, "from:"):
			b.WriteString(formatHeader("From", rewriteFrom(headerValue(ln.text))) + ln.eol)
		case strings.HasPrefix(lower, "to:"):
			to := MarkerTo
			if strings.Contains(ln.text, "<") && strings.Contains(ln.text, ">") {
				to = "<" + MarkerTo + ">"
			}
			b.WriteString("To: " + to)
			if !ccPresent {
				b.WriteString(eol + "Cc: " + MarkerTo)
				ccPresent = true
				report.InjectedCc = true
			}
			b.WriteString(ln.eol)
			if inHeader {
				state = blockState{kind: inReplaced, name: "To"}
			}
		default:
			b.WriteString(ln.text + ln.eol)
		}
	}

	return b.String(), report
}

func (s *Sanitizer) match(lower string) (string, bool) {
	for _, r := range s.remove {
		if strings.HasPrefix(lower, r.prefix) {
			return r.name, true
		}
	}
	return "", false
}

// splitLines splits on LF or CRLF. Every line but the last gets an LF
// terminator; the last has none.
func splitLines(s string) []line {
	lines := make([]line, 0, strings.Count(s, "\n")+1)
	for {
		i := strings.IndexByte(s, '\n')
		if i < 0 {
			return append(lines, line{text: s})
		}
		text := strings.TrimSuffix(s[:i], "\r")
		lines = append(lines, line{text: text, eol: eol})
		s = s[i+1:]
	}
}

func hasHeader(lines []line, prefix string) bool {
	for _, ln := range lines {
		if len(ln.text) >= len(prefix) && strings.EqualFold(ln.text[:len(prefix)], prefix) {
			return true
		}
	}
	return false
}

func isBlank(text string) bool {
	return strings.TrimSpace(text) == ""
}

func isContinuation(text string) bool {
	return !isBlank(text) && (text[0] == ' ' || text[0] == '\t')
}

// endsRemovalBlock reports whether text terminates a removal block: a blank
// line, or a line that starts a header field.
func endsRemovalBlock(text string) bool {
	return isBlank(text) || isHeaderStart(text)
}

// isHeaderStart reports whether text begins with a field name made of
// printable US-ASCII characters other than colon, followed by a colon.
func isHeaderStart(text string) bool {
	i := strings.IndexByte(text, ':')
	if i <= 0 {
		return false
	}
	for j := 0; j < i; j++ {
		if c := text[j]; c < '!' || c > '~' {
			return false
		}
	}
	return true
}

func headerValue(text string) string {
	_, value, _ := strings.Cut(text, ":")
	return strings.TrimSpace(value)
}

func formatHeader(name, value string) string {
	if value == "" {
		return name + ":"
	}
	return name + ": " + value
}

func rewriteMessageID(value string) string {
	if !strings.Contains(value, "@") || strings.Contains(value, MarkerEID+"@") {
		return value
	}
	return strings.Replace(value, "@", MarkerEID+"@", 1)
}

func rewriteFrom(value string) string {
	if !strings.Contains(value, "@") {
		return value
	}

	start := strings.IndexByte(value, '<')
	end := strings.LastIndexByte(value, '>')
	if start >= 0 && end >= 0 {
		if start < end {
			if local, _, ok := strings.Cut(value[start+1:end], "@"); ok {
				return value[:start+1] + local + "@" + MarkerRDNS + value[end:]
			}
		}
		return value
	}

	local, _, _ := strings.Cut(value, "@")
	return local + "@" + MarkerRDNS
}
