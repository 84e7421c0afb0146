package model

import "context"

// MessageID identifies a message inside the selected mailbox. For IMAP it is
// the UID, for mbox archives the 1-based position in the file.
type MessageID uint32

// Mailbox is a named message collection together with its message count.
type Mailbox struct {
	Name     string
	Messages uint32
}

// Credentials authenticate a mail session.
type Credentials struct {
	Username string
	Password string
}

// Session is an open connection to one mail account. A session is owned by a
// single extraction request and must not be shared.
type Session interface {
	ListMailboxes(ctx context.Context) ([]Mailbox, error)
	// Select opens the named mailbox and returns its message count.
	Select(ctx context.Context, mailbox string, readOnly bool) (uint32, error)
	// Search returns all message identifiers of the selected mailbox, oldest first.
	Search(ctx context.Context) ([]MessageID, error)
	FetchBody(ctx context.Context, id MessageID) ([]byte, error)
	Close() error
}

// Dialer opens authenticated sessions.
type Dialer interface {
	Dial(ctx context.Context, creds Credentials) (Session, error)
}
