// Package slack alerts departments about new complaints via Slack
// incoming webhooks.
package slack

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/slack-go/slack"

	"github.com/linnemanlabs/grievance/internal/complaint"
	"github.com/linnemanlabs/grievance/internal/triage"
)

const (
	maxDescriptionLen = 2000
	httpTimeout       = 10 * time.Second
)

// Outcome is reported when the alert was accepted by Slack.
const Outcome = "slack alert posted"

// Notifier posts complaint alerts to Slack. A recipient's own webhook wins
// over the default.
type Notifier struct {
	defaultURL string
	client     *http.Client
}

// New creates a Slack notifier. defaultURL may be empty, in which case only
// recipients with their own webhook are alerted.
func New(defaultURL string) *Notifier {
	return &Notifier{
		defaultURL: defaultURL,
		client:     &http.Client{Timeout: httpTimeout},
	}
}

// Notify implements triage.Notifier. With no webhook for the recipient it
// does nothing and returns an empty outcome.
func (n *Notifier) Notify(ctx context.Context, note *triage.Notification) (string, error) {
	url := note.Recipient.SlackWebhookURL
	if url == "" {
		url = n.defaultURL
	}
	if url == "" {
		return "", nil
	}

	if err := slack.PostWebhookCustomHTTPContext(ctx, url, n.client, buildMessage(note)); err != nil {
		return "", fmt.Errorf("slack: post webhook: %w", err)
	}
	return Outcome, nil
}

func buildMessage(note *triage.Notification) *slack.WebhookMessage {
	header := fmt.Sprintf("%s New complaint for %s", urgencyEmoji(note.Urgency), note.Recipient.Department)

	fields := []*slack.TextBlockObject{
		mrkdwn(fmt.Sprintf("*Category:* %s", note.Category)),
		mrkdwn(fmt.Sprintf("*Urgency:* %s", note.Urgency)),
		mrkdwn(fmt.Sprintf("*Location:* %s", note.Location)),
		mrkdwn(fmt.Sprintf("*Submitted by:* %s <%s>", note.Submitter.Name, note.Submitter.Email)),
	}

	return &slack.WebhookMessage{
		Text: header,
		Blocks: &slack.Blocks{BlockSet: []slack.Block{
			slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType, header, true, false)),
			slack.NewSectionBlock(nil, fields, nil),
			slack.NewDividerBlock(),
			slack.NewSectionBlock(mrkdwn(fmt.Sprintf("*Description*\n\n%s", truncate(note.Description, maxDescriptionLen))), nil, nil),
			slack.NewContextBlock("", mrkdwn(fmt.Sprintf("grievance • complaint %s • %s",
				note.ComplaintID, note.CreatedAt.UTC().Format("2006-01-02 15:04 UTC")))),
		}},
	}
}

func mrkdwn(s string) *slack.TextBlockObject {
	return slack.NewTextBlockObject(slack.MarkdownType, s, false, false)
}

func urgencyEmoji(u complaint.Urgency) string {
	switch u {
	case complaint.UrgencyHigh:
		return "\U0001f534" // red circle
	case complaint.UrgencyMedium:
		return "\U0001f7e1" // yellow circle
	default:
		return "\U0001f7e2" // green circle
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
