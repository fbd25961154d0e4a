// Package notify renders complaint notifications and fans them out to
// delivery channels (mail, Slack). Channels implement triage.Notifier.
package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/linnemanlabs/grievance/internal/complaint"
	"github.com/linnemanlabs/grievance/internal/triage"
)

// Message is a rendered subject and plain-text body.
type Message struct {
	Subject string
	Body    string
}

var (
	departmentSubject = template.Must(template.New("dept-subject").Parse(
		`Complaint Regarding {{.Category}} issue at {{.Location}} — Submitted by {{.Submitter.Name}}`))

	departmentBody = template.Must(template.New("dept-body").Parse(`Respected Sir/Madam,

A complaint has been registered and routed to the {{.Recipient.Department}}.

Complaint ID: {{.ComplaintID}}
Urgency:      {{.Urgency}}
Submitted:    {{.CreatedAt.Format "2006-01-02 15:04 MST"}}

Submitter Name:  {{.Submitter.Name}}
Submitter Email: {{.Submitter.Email}}
Location:        {{.Location}}
Subject:         {{.Category}} issue

Description:
{{.Description}}

Kindly take the necessary action at the earliest.

Regards,
Grievance Redressal Cell
`))

	confirmationBody = template.Must(template.New("confirmation").Parse(`Dear {{.Submitter.Name}},

Your complaint has been registered successfully and forwarded to the {{.Recipient.Department}}.

Complaint ID: {{.ComplaintID}}
Category:     {{.Category}}
Urgency:      {{.Urgency}}
Location:     {{.Location}}

Description:
{{.Description}}

You will be contacted by the department if further details are needed.

Regards,
Grievance Redressal Cell
`))
)

// ConfirmationSubject is the subject of the submitter's confirmation.
const ConfirmationSubject = "Your Complaint Has Been Registered Successfully"

// DepartmentLetter renders the formal letter sent to the routed department.
func DepartmentLetter(n *triage.Notification) (Message, error) {
	subject, err := render(departmentSubject, n)
	if err != nil {
		return Message{}, err
	}
	body, err := render(departmentBody, n)
	if err != nil {
		return Message{}, err
	}
	return Message{Subject: strings.Join(strings.Fields(subject), " "), Body: body}, nil
}

// Confirmation renders the acknowledgement sent to the submitter.
func Confirmation(n *triage.Notification) (Message, error) {
	body, err := render(confirmationBody, n)
	if err != nil {
		return Message{}, err
	}
	return Message{Subject: ConfirmationSubject, Body: body}, nil
}

func render(t *template.Template, n *triage.Notification) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, n); err != nil {
		return "", fmt.Errorf("render %s: %w", t.Name(), err)
	}
	return buf.String(), nil
}

// Channel is one named delivery path.
type Channel struct {
	Name     string
	Notifier triage.Notifier
}

// Fanout delivers a notification over every channel in order. Delivery
// fails if any channel fails; the outcome lists what each channel reported.
type Fanout struct {
	channels []Channel
}

// NewFanout returns a Fanout over the given channels, skipping any with a
// nil Notifier.
func NewFanout(channels ...Channel) *Fanout {
	f := &Fanout{}
	for _, c := range channels {
		if c.Notifier != nil {
			f.channels = append(f.channels, c)
		}
	}
	return f
}

// Len reports how many channels are configured.
func (f *Fanout) Len() int { return len(f.channels) }

// Notify implements triage.Notifier. Channels that report an empty outcome
// had nothing to do for this recipient and are left out of the summary.
func (f *Fanout) Notify(ctx context.Context, n *triage.Notification) (string, error) {
	return f.Deliver(ctx, n, map[string]string{})
}

// Deliver is Notify for retried jobs. Channels already present in delivered
// are skipped and their recorded outcome reused; every channel that succeeds
// now is added to delivered under its name. The error is a
// *backoff.PermanentError only when every failing channel failed permanently.
func (f *Fanout) Deliver(ctx context.Context, n *triage.Notification, delivered map[string]string) (string, error) {
	if len(f.channels) == 0 {
		return triage.OutcomeDisabled, nil
	}
	if delivered == nil {
		delivered = map[string]string{}
	}

	var (
		outcomes  []string
		failed    []Channel
		errs      []error
		permanent = true
	)
	for _, c := range f.channels {
		outcome, done := delivered[c.Name]
		if !done {
			var err error
			outcome, err = c.Notifier.Notify(ctx, n)
			if err != nil {
				var perm *backoff.PermanentError
				if !errors.As(err, &perm) {
					permanent = false
				}
				failed = append(failed, c)
				errs = append(errs, err)
				continue
			}
			delivered[c.Name] = outcome
		}
		if outcome != "" {
			outcomes = append(outcomes, outcome)
		}
	}
	if len(errs) > 0 {
		for i, err := range errs {
			// a retryable sibling keeps the whole delivery retryable
			var perm *backoff.PermanentError
			if !permanent && errors.As(err, &perm) {
				err = perm.Err
			}
			errs[i] = fmt.Errorf("%s: %w", failed[i].Name, err)
		}
		err := fmt.Errorf("%w: %w", complaint.ErrNotification, errors.Join(errs...))
		if permanent {
			return "", backoff.Permanent(err)
		}
		return "", err
	}
	if len(outcomes) == 0 {
		return triage.OutcomeDisabled, nil
	}
	return strings.Join(outcomes, "; "), nil
}

// Timeout bounds every delivery made through the wrapped notifier.
type Timeout struct {
	next    triage.Notifier
	timeout time.Duration
}

// WithTimeout wraps next so each Notify call is cancelled after d.
func WithTimeout(next triage.Notifier, d time.Duration) *Timeout {
	return &Timeout{next: next, timeout: d}
}

// Notify implements triage.Notifier.
func (t *Timeout) Notify(ctx context.Context, n *triage.Notification) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.Notify(ctx, n)
}
