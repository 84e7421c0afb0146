package cmd

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	mboxlib "github.com/emersion/go-mbox"
	"github.com/pterm/pterm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhcgn/mail-scrub/config"
	"github.com/dhcgn/mail-scrub/imap"
	"github.com/dhcgn/mail-scrub/mbox"
)

var archiveMessages = []string{
	"Delivered-To: me@example.com\nReturn-Path: <bounce@example.com>\nFrom: Alice <alice@example.com>\nTo: me@example.com\nSubject: oldest\n\nfirst\n",
	"Delivered-To: me@example.com\nFrom: bob@example.com\nTo: me@example.com\nCc: carol@example.com\nSubject: middle\n\nsecond\n",
	"Delivered-To: me@example.com\nFrom: Alice <alice@example.com>\nTo: me@example.com\nSubject: newest\n\nthird\n",
}

func writeArchive(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "archive.mbox")
	file, err := os.Create(path)
	require.NoError(t, err)
	defer file.Close()

	w := mboxlib.NewWriter(file)
	for _, msg := range archiveMessages {
		mw, err := w.CreateMessage("sender@example.com", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
		require.NoError(t, err)
		_, err = mw.Write([]byte(msg))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	pterm.DisableStyling()
	t.Cleanup(pterm.EnableStyling)

	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestExtractCommand_FromMbox(t *testing.T) {
	archive := writeArchive(t)
	dir := t.TempDir()
	output := filepath.Join(dir, "corpus.txt")

	out, err := run(t, "extract",
		"--mbox", archive,
		"--label", "INBOX",
		"--start", "1",
		"--count", "2",
		"--work-dir", filepath.Join(dir, "work"),
		"--output", output,
		"--log-level", "error",
	)
	require.NoError(t, err, out)
	assert.Contains(t, out, "Extracted 2 of 2 messages from INBOX")

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	content := string(data)

	assert.Less(t, strings.Index(content, "Subject: newest"), strings.Index(content, "Subject: middle"))
	assert.NotContains(t, content, "Subject: oldest")
	assert.NotContains(t, content, "Delivered-To")
	assert.NotContains(t, content, "me@example.com")
	assert.Contains(t, content, "From: Alice <alice@[RDNS]>")
	assert.Contains(t, content, "\n__SEP__\n\n")
}

func TestExtractCommand_RequiresLabel(t *testing.T) {
	_, err := run(t, "extract", "--mbox", writeArchive(t))
	assert.ErrorContains(t, err, "label")
}

func TestLabelsCommand_FromMbox(t *testing.T) {
	out, err := run(t, "labels", "--mbox", writeArchive(t), "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, "Label")
	assert.Contains(t, out, "INBOX")
	assert.Contains(t, out, "3")
}

func TestAuditCommand_FromMbox(t *testing.T) {
	reports := filepath.Join(t.TempDir(), "reports")

	out, err := run(t, "audit", "--mbox", writeArchive(t), "--label", "INBOX", "--log-level", "error", "-r", reports)
	require.NoError(t, err)
	assert.Contains(t, out, "Audited 3 of 3 messages in INBOX")
	assert.Contains(t, out, "Delivered-To")
	assert.Contains(t, out, "Cc injected into 2 messages")
	assert.FileExists(t, filepath.Join(reports, "report_from.csv"))
	assert.FileExists(t, filepath.Join(reports, "report_delivered_to.csv"))
}

func TestRunAudit_CountsRemovedHeaders(t *testing.T) {
	cfg := config.Config{MboxPath: writeArchive(t), Label: "INBOX", Limit: 2, Top: 5}
	dialer, err := newDialer(cfg, nil)
	require.NoError(t, err)

	report, err := runAudit(context.Background(), cfg, dialer, nil, newSanitizer(cfg), discardLogger())
	require.NoError(t, err)

	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 2, report.Scanned)
	assert.Equal(t, map[string]int{"Delivered-To": 2}, report.Removed)
	assert.Equal(t, 1, report.InjectedCc)
	assert.Equal(t, "Alice <alice@example.com>", report.Headers.Top("From", 1)[0].Value)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestNewDialer(t *testing.T) {
	d, err := newDialer(config.Config{MboxPath: "archive.mbox"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &mbox.Dialer{}, d)

	d, err = newDialer(config.Config{IMAPHost: "imap.example.com", IMAPPort: 993, UseTLS: true}, nil)
	require.NoError(t, err)
	assert.IsType(t, &imap.Dialer{}, d)
}

func TestNewSanitizer_StripHeaders(t *testing.T) {
	s := newSanitizer(config.Config{StripHeaders: []string{"X-Mailer"}})
	out := s.Sanitize("X-Mailer: Thunderbird\nReturn-Path: <a@example.com>\nSubject: hi\n\nbody")
	assert.Equal(t, "Subject: hi\n\nbody", out)

	defaults := newSanitizer(config.Config{})
	assert.Contains(t, defaults.Sanitize("X-Mailer: Thunderbird\n\nbody"), "X-Mailer")
}

func TestSetupLogger_LogDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	var out bytes.Buffer

	logger, cleanup, err := setupLogger(config.Config{LogLevel: "warn", LogDir: dir}, &out)
	require.NoError(t, err)
	logger.Info("hidden")
	logger.Warn("visible", "mailbox", "INBOX")
	require.NoError(t, cleanup())

	assert.NotContains(t, out.String(), "hidden")
	assert.Contains(t, out.String(), "visible")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasPrefix(entries[0].Name(), "mail-scrub-"))

	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	assert.Contains(t, string(data), "mailbox=INBOX")
}
