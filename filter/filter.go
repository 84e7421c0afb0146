// Package filter decides which fetched messages enter the corpus, based on
// regular expressions matched against the raw header and body text.
package filter

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var ErrModeConflict = errors.New("include and exclude filters are mutually exclusive")

// Rules captures the raw filter patterns.
type Rules struct {
	IncludeHeader []string
	IncludeBody   []string
	ExcludeHeader []string
	ExcludeBody   []string
}

// Empty reports whether no pattern is configured.
func (r Rules) Empty() bool {
	return len(r.IncludeHeader) == 0 && len(r.IncludeBody) == 0 &&
		len(r.ExcludeHeader) == 0 && len(r.ExcludeBody) == 0
}

// Filter holds compiled patterns. A nil *Filter allows everything.
type Filter struct {
	include bool
	header  []*regexp.Regexp
	body    []*regexp.Regexp
}

// New compiles rules. Include and exclude patterns cannot be mixed.
func New(rules Rules) (*Filter, error) {
	includeHeader, err := compilePatterns(rules.IncludeHeader)
	if err != nil {
		return nil, fmt.Errorf("compile include-header pattern: %w", err)
	}
	includeBody, err := compilePatterns(rules.IncludeBody)
	if err != nil {
		return nil, fmt.Errorf("compile include-body pattern: %w", err)
	}
	excludeHeader, err := compilePatterns(rules.ExcludeHeader)
	if err != nil {
		return nil, fmt.Errorf("compile exclude-header pattern: %w", err)
	}
	excludeBody, err := compilePatterns(rules.ExcludeBody)
	if err != nil {
		return nil, fmt.Errorf("compile exclude-body pattern: %w", err)
	}

	includeActive := len(includeHeader) > 0 || len(includeBody) > 0
	excludeActive := len(excludeHeader) > 0 || len(excludeBody) > 0
	switch {
	case includeActive && excludeActive:
		return nil, ErrModeConflict
	case includeActive:
		return &Filter{include: true, header: includeHeader, body: includeBody}, nil
	case excludeActive:
		return &Filter{header: excludeHeader, body: excludeBody}, nil
	}
	return nil, nil
}

// Allows reports whether the raw message passes the filter.
func (f *Filter) Allows(raw []byte) bool {
	if f == nil {
		return true
	}

	header, body := SplitRawMessage(raw)
	matched := matchAny(f.header, header) || matchAny(f.body, body)
	if f.include {
		return matched
	}
	return !matched
}

// SplitRawMessage splits a raw email message at the first blank line.
func SplitRawMessage(raw []byte) (header, body []byte) {
	if len(raw) == 0 {
		return nil, nil
	}

	if idx := bytes.Index(raw, []byte("\r\n\r\n")); idx >= 0 {
		return raw[:idx], raw[idx+4:]
	}
	if idx := bytes.Index(raw, []byte("\n\n")); idx >= 0 {
		return raw[:idx], raw[idx+2:]
	}

	return raw, nil
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", pattern, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

func matchAny(patterns []*regexp.Regexp, text []byte) bool {
	for _, re := range patterns {
		if re.Match(text) {
			return true
		}
	}
	return false
}
