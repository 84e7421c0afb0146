package model

import "errors"

var (
	ErrCredentials     = errors.New("email and password are required")
	ErrAuth            = errors.New("authentication failed")
	ErrMailboxNotFound = errors.New("mailbox not found")
)
