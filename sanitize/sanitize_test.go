package sanitize

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitize_Rewrites(t *testing.T) {
	s := New(Options{})

	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "date",
			in:   "Date: Mon, 1 Jan 2024 00:00:00",
			want: "Date: [DATE]",
		},
		{
			name: "message id",
			in:   "Message-ID: <abc123@mail.example.com>",
			want: "Message-ID: <abc123[EID]@mail.example.com>",
		},
		{
			name: "message id without at",
			in:   "Message-Id: local-only",
			want: "Message-ID: local-only",
		},
		{
			name: "message id keeps colons in value",
			in:   "Message-ID: <a:b@host>",
			want: "Message-ID: <a:b[EID]@host>",
		},
		{
			name: "from with display name",
			in:   "From: Alice <alice@example.com>",
			want: "From: Alice <alice@[RDNS]>",
		},
		{
			name: "from bare address",
			in:   "From: alice@example.com",
			want: "From: alice@[RDNS]",
		},
		{
			name: "from without address",
			in:   "from: Mailer Daemon",
			want: "From: Mailer Daemon",
		},
		{
			name: "from with reversed brackets is untouched",
			in:   "From: >alice@example.com<",
			want: "From: >alice@example.com<",
		},
		{
			name: "to with brackets keeps them",
			in:   "Cc: someone\nTo: Bob <bob@example.com>",
			want: "Cc: someone\nTo: <[*to]>",
		},
		{
			name: "empty input",
			in:   "",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.Sanitize(tt.in))
		})
	}
}

func TestSanitize_InjectsCc(t *testing.T) {
	s := New(Options{})

	out, report := s.Apply("To: bob@example.com\nSubject: hi\n\nbody")
	assert.Equal(t, "To: [*to]\nCc: [*to]\nSubject: hi\n\nbody", out)
	assert.True(t, report.InjectedCc)

	out, report = s.Apply("To: bob@example.com\nCC: carol@example.com\n\nbody")
	assert.Equal(t, "To: [*to]\nCC: carol@example.com\n\nbody", out)
	assert.False(t, report.InjectedCc)
	assert.Equal(t, 1, strings.Count(strings.ToLower(out), "cc:"))
}

func TestSanitize_InjectsCcOnce(t *testing.T) {
	s := New(Options{})

	out := s.Sanitize("To: a@example.com\nTo: b@example.com")
	assert.Equal(t, "To: [*to]\nCc: [*to]\nTo: [*to]", out)
}

func TestSanitize_ToOnLastLine(t *testing.T) {
	s := New(Options{})

	assert.Equal(t, "Subject: x\nTo: [*to]\nCc: [*to]", s.Sanitize("Subject: x\nTo: bob@example.com"))
}

func TestSanitize_RemovesBlocks(t *testing.T) {
	s := New(Options{})

	in := strings.Join([]string{
		"Delivered-To: me@example.com",
		"Received: by 10.0.0.1",
		"ARC-Seal: i=1; a=rsa-sha256; t=1700000000;",
		"        b=AAAA",
		"\tBBBB",
		"arc-message-signature: i=1;",
		"  d=google.com",
		"DKIM-Signature: v=1;",
		" bh=xyz",
		"Subject: Hello",
		"Return-Path: <bounce@example.com>",
		"",
		"Body line",
	}, "\n")

	want := strings.Join([]string{
		"Received: by 10.0.0.1",
		"Subject: Hello",
		"",
		"Body line",
	}, "\n")

	out, report := s.Apply(in)
	assert.Equal(t, want, out)
	assert.Equal(t, []string{"Delivered-To", "ARC-Seal", "ARC-Message-Signature", "DKIM-Signature", "Return-Path"}, report.Removed)
}

func TestSanitize_BlankLineEndsRemovalBlock(t *testing.T) {
	s := New(Options{})

	in := "X-Received: by host\n continued\n\n indented body line"
	assert.Equal(t, "\n indented body line", s.Sanitize(in))
}

func TestSanitize_ColonInsideRemovedBlockDoesNotEndIt(t *testing.T) {
	s := New(Options{})

	in := "Authentication-Results: mx.google.com;\nspf=pass (google.com: domain of x)\nSubject: kept"
	assert.Equal(t, "Subject: kept", s.Sanitize(in))
}

func TestSanitize_FoldedReplacedHeaders(t *testing.T) {
	s := New(Options{})

	in := "To: a@example.com,\n b@example.com,\n\tc@example.com\nDate: Mon,\n 1 Jan 2024\nSubject: s"
	assert.Equal(t, "To: [*to]\nCc: [*to]\nDate: [DATE]\nSubject: s", s.Sanitize(in))
}

func TestSanitize_NormalizesLineTerminators(t *testing.T) {
	s := New(Options{})

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"crlf", "Subject: x\r\nX-A: y\r\n\r\nbody", "Subject: x\nX-A: y\n\nbody"},
		{"mixed", "Date: x\r\nSubject: crlf\r\nX-Other: lf\nReturn-Path: <a@b>\r\n\r\nbody\r\n", "Date: [DATE]\nSubject: crlf\nX-Other: lf\n\nbody\n"},
		{"injected cc", "To: a@example.com\r\nSubject: s\r\n", "To: [*to]\nCc: [*to]\nSubject: s\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.Sanitize(tt.in))
		})
	}
}

func TestSanitize_KeepsIndentedBodyLinesAfterReplacedHeaders(t *testing.T) {
	s := New(Options{})

	in := "Cc: a\n\nTo: whom it may concern\n    indented paragraph\nDate: later\n\tquoted\nend"
	want := "Cc: a\n\nTo: [*to]\n    indented paragraph\nDate: [DATE]\n\tquoted\nend"
	assert.Equal(t, want, s.Sanitize(in))
}

func TestSanitize_PassesThroughOtherLines(t *testing.T) {
	s := New(Options{})

	in := "Subject: Über café\nContent-Type: text/plain; charset=utf-8\nCc: x\n\nLine one\n  indented\nLast"
	assert.Equal(t, in, s.Sanitize(in))
}

func TestSanitize_Idempotent(t *testing.T) {
	s := New(Options{})

	raw := strings.Join([]string{
		"Delivered-To: me@example.com",
		"Date: Tue, 2 Jan 2024 10:00:00 +0000",
		"Message-ID: <abc@mail.example.com>",
		"From: Alice <alice@example.com>",
		"To: <bob@example.com>",
		"Subject: test",
		"",
		"hello",
	}, "\r\n")

	once := s.Sanitize(raw)
	twice := s.Sanitize(once)
	assert.Equal(t, once, twice)
	assert.Equal(t, 1, strings.Count(once, "Cc: "))
	assert.NotContains(t, once, "\r")
}

func TestNew_CustomRemovalSet(t *testing.T) {
	s := New(Options{RemoveHeaders: []string{" X-Secret: ", "x-secret", ""}})
	assert.Equal(t, []string{"X-Secret"}, s.RemoveHeaders())

	assert.Equal(t, "Delivered-To: kept\n", s.Sanitize("Delivered-To: kept\nX-SECRET: gone\n"))

	none := New(Options{RemoveHeaders: []string{}})
	assert.Empty(t, none.RemoveHeaders())
	assert.Equal(t, "Return-Path: <a@b>", none.Sanitize("Return-Path: <a@b>"))
}

func TestSanitize_PrefixRequiresColon(t *testing.T) {
	s := New(Options{})

	in := "Return-Path-Extra: keep\nDated: keep\nTopic: keep"
	assert.Equal(t, in, s.Sanitize(in))
}

func TestSanitize_Concurrent(t *testing.T) {
	s := New(Options{})
	in := "Return-Path: <x@y>\nFrom: a@b.c\nTo: d@e.f\n\nbody"
	want := s.Sanitize(in)

	var wg sync.WaitGroup
	results := make([]string, 32)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = s.Sanitize(in)
		}()
	}
	wg.Wait()

	for _, got := range results {
		require.Equal(t, want, got)
	}
}

func TestIsHeaderStart(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"Subject: x", true},
		{"X-Custom-1:", true},
		{": no name", false},
		{" Subject: indented", false},
		{"two words: x", false},
		{"no colon", false},
	}

	for _, tt := range tests {
		if got := isHeaderStart(tt.text); got != tt.want {
			t.Errorf("isHeaderStart(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}
