// Package mbox serves a local mbox archive as a read-only mail session, so
// that exported archives can be scrubbed without a live IMAP account.
package mbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	mboxlib "github.com/emersion/go-mbox"

	"github.com/dhcgn/mail-scrub/model"
)

const DefaultMailbox = "INBOX"

var ErrNoSelectedMailbox = errors.New("no mailbox selected")

type Options struct {
	Path string
	// Mailbox is the name the archive is exposed under.
	Mailbox string
}

// Dialer opens sessions over one mbox file. Credentials are ignored.
type Dialer struct {
	path    string
	mailbox string
	logger  *slog.Logger
}

func NewDialer(opts Options, logger *slog.Logger) (*Dialer, error) {
	path := strings.TrimSpace(opts.Path)
	if path == "" {
		return nil, fmt.Errorf("mbox path is empty")
	}
	mailbox := strings.TrimSpace(opts.Mailbox)
	if mailbox == "" {
		mailbox = DefaultMailbox
	}
	return &Dialer{path: path, mailbox: mailbox, logger: logger}, nil
}

// Dial reads the whole archive into memory.
func (d *Dialer) Dial(ctx context.Context, _ model.Credentials) (model.Session, error) {
	file, err := os.Open(d.path)
	if err != nil {
		return nil, fmt.Errorf("open mbox: %w", err)
	}
	defer file.Close()

	messages, err := readAll(ctx, file)
	if err != nil {
		return nil, err
	}

	if d.logger != nil {
		d.logger.Debug("mbox archive loaded", "path", d.path, "messages", len(messages))
	}
	return &Session{mailbox: d.mailbox, messages: messages}, nil
}

func readAll(ctx context.Context, r io.Reader) ([][]byte, error) {
	reader := mboxlib.NewReader(r)

	var messages [][]byte
	for idx := 0; ; idx++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return messages, nil
			}
			return nil, fmt.Errorf("message %d: %w", idx, err)
		}

		raw, err := io.ReadAll(msgReader)
		if err != nil {
			return nil, fmt.Errorf("message %d read: %w", idx, err)
		}
		messages = append(messages, raw)
	}
}

// Session exposes the archive as a single mailbox. Message identifiers are
// 1-based positions in the file, oldest first.
type Session struct {
	mailbox  string
	messages [][]byte
	selected bool
}

func (s *Session) ListMailboxes(ctx context.Context) ([]model.Mailbox, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return []model.Mailbox{{Name: s.mailbox, Messages: uint32(len(s.messages))}}, nil
}

func (s *Session) Select(ctx context.Context, mailbox string, _ bool) (uint32, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if !strings.EqualFold(mailbox, s.mailbox) {
		return 0, fmt.Errorf("%w: %s", model.ErrMailboxNotFound, mailbox)
	}
	s.selected = true
	return uint32(len(s.messages)), nil
}

func (s *Session) Search(ctx context.Context) ([]model.MessageID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !s.selected {
		return nil, ErrNoSelectedMailbox
	}
	ids := make([]model.MessageID, len(s.messages))
	for i := range s.messages {
		ids[i] = model.MessageID(i + 1)
	}
	return ids, nil
}

func (s *Session) FetchBody(ctx context.Context, id model.MessageID) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !s.selected {
		return nil, ErrNoSelectedMailbox
	}
	if id < 1 || int(id) > len(s.messages) {
		return nil, fmt.Errorf("message %d not found", id)
	}
	return s.messages[id-1], nil
}

func (s *Session) Close() error {
	s.messages = nil
	s.selected = false
	return nil
}
