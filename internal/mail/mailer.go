// Package mail delivers transactional mail through a durable outbox. Sends
// are at-least-once: the database commit that produced the message never
// rolls back because delivery failed, and undelivered rows are retried by the
// background dispatcher.
package mail

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/cadencehq/cadence/internal/obs"
)

// Message is a single outbound mail.
type Message struct {
	ID        string
	To        string
	Subject   string
	Body      string
	Kind      string
	CreatedAt time.Time
	Attempts  int
}

// Sender delivers a single message. Implementations must be safe for
// concurrent use.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// LogSender writes messages to the structured log. Used in development and
// tests.
type LogSender struct{}

func (LogSender) Send(_ context.Context, msg Message) error {
	obs.Info("mail.sent", map[string]any{
		"to":      msg.To,
		"kind":    msg.Kind,
		"subject": msg.Subject,
	})
	return nil
}

// SMTPSender delivers through a plain SMTP relay.
type SMTPSender struct {
	Addr     string
	Username string
	Password string
	From     string
}

func (s SMTPSender) Send(_ context.Context, msg Message) error {
	host := s.Addr
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	var auth smtp.Auth
	if s.Username != "" {
		auth = smtp.PlainAuth("", s.Username, s.Password, host)
	}
	body := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n",
		s.From, msg.To, msg.Subject, msg.Body)
	if err := smtp.SendMail(s.Addr, auth, s.From, []string{msg.To}, []byte(body)); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}
