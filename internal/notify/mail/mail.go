// Package mail delivers complaint letters over SMTP.
package mail

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	gomail "github.com/wneessen/go-mail"

	"github.com/linnemanlabs/grievance/internal/notify"
	"github.com/linnemanlabs/grievance/internal/triage"
)

// Outcome is reported after both messages are handed to the SMTP server.
const Outcome = "Complaint sent successfully!"

// Sender hands messages to an SMTP server. *gomail.Client satisfies it.
type Sender interface {
	DialAndSendWithContext(ctx context.Context, msgs ...*gomail.Msg) error
}

// Config holds SMTP connection settings.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

// NewClient builds a go-mail client from cfg. Authentication is only
// enabled when a username is set.
func NewClient(cfg Config) (*gomail.Client, error) {
	opts := []gomail.Option{
		gomail.WithPort(cfg.Port),
		gomail.WithTLSPolicy(gomail.TLSOpportunistic),
	}
	if cfg.Timeout > 0 {
		opts = append(opts, gomail.WithTimeout(cfg.Timeout))
	}
	if cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(cfg.Username),
			gomail.WithPassword(cfg.Password),
		)
	}
	c, err := gomail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("smtp client: %w", err)
	}
	return c, nil
}

// Notifier sends the department letter and the submitter confirmation.
type Notifier struct {
	sender Sender
	from   string
}

// New returns a Notifier that sends from the given address.
func New(sender Sender, from string) *Notifier {
	return &Notifier{sender: sender, from: from}
}

// Notify implements triage.Notifier. Rendering and address failures will
// not change on retry and come back as *backoff.PermanentError.
func (n *Notifier) Notify(ctx context.Context, note *triage.Notification) (string, error) {
	letter, err := notify.DepartmentLetter(note)
	if err != nil {
		return "", backoff.Permanent(err)
	}
	confirmation, err := notify.Confirmation(note)
	if err != nil {
		return "", backoff.Permanent(err)
	}

	toDept, err := n.message(note.Recipient.Email, note.Submitter.Email, letter)
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("department letter: %w", err))
	}
	toSubmitter, err := n.message(note.Submitter.Email, "", confirmation)
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("confirmation: %w", err))
	}

	if err := n.sender.DialAndSendWithContext(ctx, toDept, toSubmitter); err != nil {
		return "", fmt.Errorf("smtp send: %w", err)
	}
	return Outcome, nil
}

func (n *Notifier) message(to, replyTo string, m notify.Message) (*gomail.Msg, error) {
	msg := gomail.NewMsg()
	if err := msg.From(n.from); err != nil {
		return nil, fmt.Errorf("from %q: %w", n.from, err)
	}
	if err := msg.To(to); err != nil {
		return nil, fmt.Errorf("to %q: %w", to, err)
	}
	if replyTo != "" {
		if err := msg.ReplyTo(replyTo); err != nil {
			return nil, fmt.Errorf("reply-to %q: %w", replyTo, err)
		}
	}
	msg.Subject(m.Subject)
	msg.SetBodyString(gomail.TypeTextPlain, m.Body)
	return msg, nil
}
