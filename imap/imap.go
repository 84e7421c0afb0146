package imap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"strconv"
	"strings"
	"sync"

	imapv2 "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/dhcgn/mail-scrub/model"
)

var ErrNoSelectedMailbox = errors.New("no mailbox selected")

type Options struct {
	Host               string
	Port               int
	UseTLS             bool
	InsecureSkipVerify bool
}

// Dialer opens IMAP sessions against a single server.
type Dialer struct {
	opts   Options
	logger *slog.Logger
}

func NewDialer(opts Options, logger *slog.Logger) (*Dialer, error) {
	if opts.Host == "" {
		return nil, fmt.Errorf("imap host is empty")
	}
	if opts.Port <= 0 {
		return nil, fmt.Errorf("imap port must be positive")
	}
	return &Dialer{opts: opts, logger: logger}, nil
}

// Dial connects and logs in. The connection is torn down when ctx is
// cancelled, so ctx must live as long as the session is used.
func (d *Dialer) Dial(ctx context.Context, creds model.Credentials) (model.Session, error) {
	if creds.Username == "" || creds.Password == "" {
		return nil, model.ErrCredentials
	}

	address := net.JoinHostPort(d.opts.Host, strconv.Itoa(d.opts.Port))
	options := &imapclient.Options{}

	if d.opts.UseTLS {
		options.TLSConfig = &tls.Config{
			ServerName:         d.opts.Host,
			InsecureSkipVerify: d.opts.InsecureSkipVerify,
		}
	}

	var (
		client *imapclient.Client
		err    error
	)

	if d.opts.UseTLS {
		client, err = imapclient.DialTLS(address, options)
	} else {
		client, err = imapclient.DialInsecure(address, options)
	}
	if err != nil {
		return nil, fmt.Errorf("dial imap %s: %w", address, err)
	}

	stopClose := context.AfterFunc(ctx, func() {
		_ = client.Close()
	})

	if err := client.Login(creds.Username, creds.Password).Wait(); err != nil {
		stopClose()
		_ = client.Close()
		return nil, fmt.Errorf("%w for %s: %v", model.ErrAuth, creds.Username, err)
	}

	if d.logger != nil {
		d.logger.Debug("imap connection established", "address", address, "user", creds.Username, "tls", d.opts.UseTLS)
	}

	return &Session{client: client, stopClose: stopClose, logger: d.logger}, nil
}

// Session is an authenticated IMAP connection.
type Session struct {
	client    *imapclient.Client
	stopClose func() bool
	logger    *slog.Logger

	mu       sync.Mutex
	selected string
	closed   bool
}

// ListMailboxes returns every selectable mailbox with its message count,
// sorted case-insensitively by name. Mailboxes whose STATUS fails are left out.
func (s *Session) ListMailboxes(ctx context.Context) ([]model.Mailbox, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	list, err := s.client.List("", "*", nil).Collect()
	if err != nil {
		return nil, fmt.Errorf("list mailboxes: %w", err)
	}

	mailboxes := make([]model.Mailbox, 0, len(list))
	for _, data := range list {
		if slices.Contains(data.Attrs, imapv2.MailboxAttrNoSelect) || slices.Contains(data.Attrs, imapv2.MailboxAttrNonExistent) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		status, err := s.client.Status(data.Mailbox, &imapv2.StatusOptions{NumMessages: true}).Wait()
		if err != nil {
			if s.logger != nil {
				s.logger.Debug("imap status failed", "mailbox", data.Mailbox, "err", err)
			}
			continue
		}

		mailbox := model.Mailbox{Name: data.Mailbox}
		if status.NumMessages != nil {
			mailbox.Messages = *status.NumMessages
		}
		mailboxes = append(mailboxes, mailbox)
	}

	slices.SortFunc(mailboxes, func(a, b model.Mailbox) int {
		return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
	})
	return mailboxes, nil
}

// Select opens mailbox; readOnly maps to EXAMINE.
func (s *Session) Select(ctx context.Context, mailbox string, readOnly bool) (uint32, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	data, err := s.client.Select(mailbox, &imapv2.SelectOptions{ReadOnly: readOnly}).Wait()
	if err != nil {
		var respErr *imapv2.Error
		if errors.As(err, &respErr) && respErr.Code == imapv2.ResponseCodeNonExistent {
			return 0, fmt.Errorf("%w: %s", model.ErrMailboxNotFound, mailbox)
		}
		return 0, fmt.Errorf("select mailbox %s: %w", mailbox, err)
	}

	s.mu.Lock()
	s.selected = mailbox
	s.mu.Unlock()

	if s.logger != nil {
		s.logger.Debug("imap mailbox selected", "mailbox", mailbox, "messages", data.NumMessages, "readOnly", readOnly)
	}
	return data.NumMessages, nil
}

// Search returns the UIDs of all messages in the selected mailbox in
// ascending order.
func (s *Session) Search(ctx context.Context) ([]model.MessageID, error) {
	if err := s.requireSelected(ctx); err != nil {
		return nil, err
	}

	data, err := s.client.UIDSearch(&imapv2.SearchCriteria{}, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}

	uids := data.AllUIDs()
	ids := make([]model.MessageID, len(uids))
	for i, uid := range uids {
		ids[i] = model.MessageID(uid)
	}
	slices.Sort(ids)
	return ids, nil
}

// FetchBody returns the full raw message without setting \Seen.
func (s *Session) FetchBody(ctx context.Context, id model.MessageID) ([]byte, error) {
	if err := s.requireSelected(ctx); err != nil {
		return nil, err
	}

	section := &imapv2.FetchItemBodySection{Peek: true}
	fetchOpts := &imapv2.FetchOptions{
		UID:         true,
		BodySection: []*imapv2.FetchItemBodySection{section},
	}

	cmd := s.client.Fetch(imapv2.UIDSetNum(imapv2.UID(id)), fetchOpts)
	defer cmd.Close()

	msg := cmd.Next()
	if msg == nil {
		if err := cmd.Close(); err != nil {
			return nil, fmt.Errorf("fetch message %d: %w", id, err)
		}
		return nil, fmt.Errorf("message UID %d not found", id)
	}

	buf, err := msg.Collect()
	if err != nil {
		return nil, fmt.Errorf("collect message %d: %w", id, err)
	}

	body := buf.FindBodySection(section)
	if body == nil {
		return nil, fmt.Errorf("message UID %d returned no body", id)
	}

	if err := cmd.Close(); err != nil {
		return nil, fmt.Errorf("fetch message %d: %w", id, err)
	}
	return body, nil
}

// Close logs out and closes the connection. Calling it more than once is
// harmless.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.stopClose()
	if err := s.client.Logout().Wait(); err != nil {
		if s.logger != nil {
			s.logger.Warn("imap logout failed", "err", err)
		}
	}
	if err := s.client.Close(); err != nil {
		if s.logger != nil {
			s.logger.Debug("imap connection closed", "err", err)
		}
	}
	return nil
}

func (s *Session) requireSelected(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	selected := s.selected
	s.mu.Unlock()
	if selected == "" {
		return ErrNoSelectedMailbox
	}
	return nil
}
