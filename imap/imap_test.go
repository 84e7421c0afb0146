package imap

import (
	"bytes"
	"context"
	"errors"
	"net"
	"testing"

	imapv2 "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapserver"
	"github.com/emersion/go-imap/v2/imapserver/imapmemserver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhcgn/mail-scrub/model"
)

var testMessages = []string{
	"From: alice@example.com\r\nSubject: first\r\n\r\nhello one\r\n",
	"From: bob@example.com\r\nSubject: second\r\n\r\nhello two\r\n",
	"From: carol@example.com\r\nSubject: third\r\n\r\nhello three\r\n",
}

func startServer(t *testing.T) Options {
	t.Helper()

	memServer := imapmemserver.New()
	user := imapmemserver.NewUser("alice", "secret")
	require.NoError(t, user.Create("INBOX", nil))
	require.NoError(t, user.Create("Archive", nil))
	for _, msg := range testMessages {
		_, err := user.Append("INBOX", bytes.NewReader([]byte(msg)), &imapv2.AppendOptions{})
		require.NoError(t, err)
	}
	memServer.AddUser(user)

	server := imapserver.New(&imapserver.Options{
		NewSession: func(*imapserver.Conn) (imapserver.Session, *imapserver.GreetingData, error) {
			return memServer.NewSession(), nil, nil
		},
		Caps: imapv2.CapSet{
			imapv2.CapIMAP4rev1: {},
			imapv2.CapIMAP4rev2: {},
		},
		InsecureAuth: true,
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		_ = server.Serve(ln)
	}()
	t.Cleanup(func() {
		_ = server.Close()
	})

	addr := ln.Addr().(*net.TCPAddr)
	return Options{Host: "127.0.0.1", Port: addr.Port}
}

func TestNewDialer_Validation(t *testing.T) {
	_, err := NewDialer(Options{Port: 993}, nil)
	assert.Error(t, err)

	_, err = NewDialer(Options{Host: "imap.example.com"}, nil)
	assert.Error(t, err)
}

func TestDial_RejectsEmptyCredentials(t *testing.T) {
	d, err := NewDialer(Options{Host: "127.0.0.1", Port: 1}, nil)
	require.NoError(t, err)

	_, err = d.Dial(context.Background(), model.Credentials{Username: "alice"})
	assert.ErrorIs(t, err, model.ErrCredentials)
}

func TestDial_AuthFailure(t *testing.T) {
	d, err := NewDialer(startServer(t), nil)
	require.NoError(t, err)

	_, err = d.Dial(context.Background(), model.Credentials{Username: "alice", Password: "wrong"})
	assert.ErrorIs(t, err, model.ErrAuth)
}

func TestSession_ListSearchFetch(t *testing.T) {
	d, err := NewDialer(startServer(t), nil)
	require.NoError(t, err)

	ctx := context.Background()
	sess, err := d.Dial(ctx, model.Credentials{Username: "alice", Password: "secret"})
	require.NoError(t, err)
	defer sess.Close()

	mailboxes, err := sess.ListMailboxes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []model.Mailbox{{Name: "Archive", Messages: 0}, {Name: "INBOX", Messages: 3}}, mailboxes)

	_, err = sess.Search(ctx)
	assert.True(t, errors.Is(err, ErrNoSelectedMailbox))

	count, err := sess.Select(ctx, "INBOX", true)
	require.NoError(t, err)
	assert.EqualValues(t, 3, count)

	ids, err := sess.Search(ctx)
	require.NoError(t, err)
	require.Len(t, ids, 3)
	assert.Less(t, ids[0], ids[1])
	assert.Less(t, ids[1], ids[2])

	for i, id := range ids {
		body, err := sess.FetchBody(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, testMessages[i], string(body))
	}

	_, err = sess.FetchBody(ctx, ids[2]+100)
	assert.Error(t, err)

	assert.NoError(t, sess.Close())
	assert.NoError(t, sess.Close())
}

func TestSession_SelectMissingMailbox(t *testing.T) {
	d, err := NewDialer(startServer(t), nil)
	require.NoError(t, err)

	ctx := context.Background()
	sess, err := d.Dial(ctx, model.Credentials{Username: "alice", Password: "secret"})
	require.NoError(t, err)
	defer sess.Close()

	_, err = sess.Select(ctx, "Nope", true)
	assert.Error(t, err)
}
