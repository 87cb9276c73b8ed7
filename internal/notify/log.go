package notify

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"
)

// LogMailer writes emails to the log instead of sending them.
type LogMailer struct {
	logger *logrus.Logger
}

func NewLogMailer(logger *logrus.Logger) *LogMailer {
	if logger == nil {
		logger = logrus.New()
	}
	return &LogMailer{logger: logger}
}

func (m *LogMailer) Send(_ context.Context, email Email) error {
	if len(email.To) == 0 {
		return ErrNoRecipients
	}
	m.logger.WithFields(logrus.Fields{
		"from":    email.From,
		"to":      strings.Join(email.To, ","),
		"subject": email.Subject,
	}).Info("email sent")
	m.logger.Debug(email.HTMLBody)
	return nil
}

var _ Mailer = (*LogMailer)(nil)
