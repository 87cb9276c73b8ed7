package notify

import (
	"context"
	"errors"
)

// ErrNoRecipients is returned when an email has an empty To list.
var ErrNoRecipients = errors.New("notify: email has no recipients")

// Email is a rendered HTML message ready for a Mailer.
type Email struct {
	From     string   `json:"from"`
	FromName string   `json:"fromName"`
	To       []string `json:"to"`
	Subject  string   `json:"subject"`
	HTMLBody string   `json:"htmlBody"`
}

// Mailer delivers a single email.
type Mailer interface {
	Send(ctx context.Context, email Email) error
}
