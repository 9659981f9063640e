// Package mail holds the outbound email contract and its transports.
package mail

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrFailedToSend   = errors.New("mail: failed to send email")
	ErrInvalidMessage = errors.New("mail: invalid message")
)

// Sender delivers a single email.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Message is a transactional email with plain text and HTML bodies.
type Message struct {
	To      string
	Subject string
	Text    string
	HTML    string
	Tag     string
}

// Validate checks the fields every transport needs.
func (m Message) Validate() error {
	if strings.TrimSpace(m.To) == "" {
		return errors.Join(ErrInvalidMessage, errors.New("recipient is required"))
	}
	if strings.TrimSpace(m.Subject) == "" {
		return errors.Join(ErrInvalidMessage, errors.New("subject is required"))
	}
	if m.Text == "" && m.HTML == "" {
		return errors.Join(ErrInvalidMessage, errors.New("body is required"))
	}
	return nil
}
