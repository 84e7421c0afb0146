package mbox

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	mboxlib "github.com/emersion/go-mbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhcgn/mail-scrub/model"
)

func writeArchive(t *testing.T, messages ...string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "archive.mbox")
	file, err := os.Create(path)
	require.NoError(t, err)
	defer file.Close()

	w := mboxlib.NewWriter(file)
	for _, msg := range messages {
		mw, err := w.CreateMessage("sender@example.com", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
		require.NoError(t, err)
		_, err = mw.Write([]byte(msg))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return path
}

func TestNewDialer_EmptyPath(t *testing.T) {
	_, err := NewDialer(Options{Path: "  "}, nil)
	assert.Error(t, err)
}

func TestDial_MissingFile(t *testing.T) {
	d, err := NewDialer(Options{Path: filepath.Join(t.TempDir(), "missing.mbox")}, nil)
	require.NoError(t, err)

	_, err = d.Dial(context.Background(), model.Credentials{})
	assert.Error(t, err)
}

func TestSession(t *testing.T) {
	path := writeArchive(t,
		"Subject: one\n\nfirst body\n",
		"Subject: two\n\nsecond body\n",
	)

	d, err := NewDialer(Options{Path: path}, nil)
	require.NoError(t, err)

	ctx := context.Background()
	sess, err := d.Dial(ctx, model.Credentials{})
	require.NoError(t, err)
	defer sess.Close()

	mailboxes, err := sess.ListMailboxes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []model.Mailbox{{Name: DefaultMailbox, Messages: 2}}, mailboxes)

	_, err = sess.Search(ctx)
	assert.ErrorIs(t, err, ErrNoSelectedMailbox)

	_, err = sess.Select(ctx, "Archive", true)
	assert.ErrorIs(t, err, model.ErrMailboxNotFound)

	count, err := sess.Select(ctx, "inbox", true)
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)

	ids, err := sess.Search(ctx)
	require.NoError(t, err)
	assert.Equal(t, []model.MessageID{1, 2}, ids)

	body, err := sess.FetchBody(ctx, 2)
	require.NoError(t, err)
	assert.Contains(t, string(body), "Subject: two")
	assert.Contains(t, string(body), "second body")

	_, err = sess.FetchBody(ctx, 3)
	assert.Error(t, err)
}

func TestDial_CancelledContext(t *testing.T) {
	path := writeArchive(t, "Subject: one\n\nbody\n")
	d, err := NewDialer(Options{Path: path, Mailbox: "Export"}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = d.Dial(ctx, model.Credentials{})
	assert.ErrorIs(t, err, context.Canceled)
}
