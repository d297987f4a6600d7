// Package emailer abstracts outbound account emails (signup verification
// and password-reset tokens) behind a small interface so the server can run
// without an SMTP relay.
package emailer

import (
	"context"

	"github.com/waqasbhatti/authnzerver/internal/logging"
)

// Message is one outbound email.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Sender delivers account emails. Implementations must be safe for
// concurrent use.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// LogSender writes emails to the structured log instead of delivering them.
// It is the default when no relay is configured, and what tests use to
// observe the token flows.
type LogSender struct {
	logger logging.Logger
}

// NewLogSender builds a LogSender over the given logger.
func NewLogSender(logger logging.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (l *LogSender) Send(ctx context.Context, msg Message) error {
	l.logger.Info(ctx, "outbound email (no relay configured)",
		"to", msg.To, "subject", msg.Subject, "body", msg.Body)
	return nil
}
