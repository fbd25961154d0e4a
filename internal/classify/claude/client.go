// Package claude classifies complaints zero-shot through the Anthropic
// Messages API. It is an alternative to the lexicon model for deployments
// that prefer an LLM over a trained artifact.
package claude

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/linnemanlabs/grievance/internal/complaint"
)

const responseTokens = 256

// Client scores complaint text with a Claude model.
type Client struct {
	sdk   anthropic.Client
	model string
	ready bool
}

// New creates a client. Extra request options (base URL, retries) are passed
// through to the SDK.
func New(apiKey, model string, opts ...option.RequestOption) *Client {
	all := append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &Client{
		sdk:   anthropic.NewClient(all...),
		model: model,
		ready: apiKey != "" && model != "",
	}
}

// Version names the backing model.
func (c *Client) Version() string {
	if c == nil {
		return ""
	}
	return "claude:" + c.model
}

// Classify asks the model for a score per department and normalizes the reply
// into a distribution. Transport failures surface as ErrModelUnavailable.
func (c *Client) Classify(ctx context.Context, text string) (complaint.Distribution, error) {
	if c == nil || !c.ready {
		return complaint.Distribution{}, complaint.ErrModelUnavailable
	}
	if strings.TrimSpace(text) == "" {
		return complaint.Distribution{}, fmt.Errorf("%w: empty description", complaint.ErrValidation)
	}

	msg, err := c.sdk.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(c.model),
		MaxTokens:   responseTokens,
		Temperature: anthropic.Float(0),
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt()},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(text)),
		},
	})
	if err != nil {
		return complaint.Distribution{}, fmt.Errorf("%w: claude: %w", complaint.ErrModelUnavailable, err)
	}

	var reply strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			reply.WriteString(block.Text)
		}
	}
	return parseScores(reply.String())
}

func systemPrompt() string {
	var b strings.Builder
	b.WriteString("You route municipal complaints to departments. ")
	b.WriteString("Reply with a single JSON object and nothing else. ")
	b.WriteString("Its keys are exactly these department names and its values are probabilities that sum to 1:\n")
	for _, c := range complaint.Categories() {
		b.WriteString("- ")
		b.WriteString(c.String())
		b.WriteString("\n")
	}
	return b.String()
}

// parseScores extracts the first JSON object in reply. Missing departments
// score zero; unknown keys are ignored.
func parseScores(reply string) (complaint.Distribution, error) {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end <= start {
		return complaint.Distribution{}, errors.New("claude: reply contains no JSON object")
	}

	var raw map[string]float64
	if err := json.Unmarshal([]byte(reply[start:end+1]), &raw); err != nil {
		return complaint.Distribution{}, fmt.Errorf("claude: decode scores: %w", err)
	}

	var d complaint.Distribution
	for key, v := range raw {
		if c, ok := matchLabel(key); ok {
			d[c] += v
		}
	}
	out, ok := d.Normalize()
	if !ok {
		return complaint.Distribution{}, errors.New("claude: reply scored every department zero")
	}
	return out, nil
}

// matchLabel accepts the full label or its short form, case-insensitively.
func matchLabel(key string) (complaint.Category, bool) {
	k := strings.ToLower(strings.TrimSpace(key))
	for _, c := range complaint.Categories() {
		label := strings.ToLower(c.String())
		if k == label || k == strings.TrimSuffix(label, " department") {
			return c, true
		}
	}
	return 0, false
}
