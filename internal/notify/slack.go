package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Compile-time interface guard.
var _ Notifier = (*SlackNotifier)(nil)

// slackPayload is the incoming-webhook body with one colored attachment.
type slackPayload struct {
	Attachments []slackAttachment `json:"attachments"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Title  string       `json:"title"`
	Text   string       `json:"text"`
	Fields []slackField `json:"fields,omitempty"`
	Ts     int64        `json:"ts"`
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// SlackNotifier delivers notifications to a Slack incoming webhook.
type SlackNotifier struct {
	client *http.Client
	cfg    SlackConfig
}

// NewSlackNotifier creates a Slack webhook notifier.
func NewSlackNotifier(cfg SlackConfig) *SlackNotifier {
	return &SlackNotifier{
		client: &http.Client{Timeout: 10 * time.Second},
		cfg:    cfg,
	}
}

// Send posts the message as a colored attachment.
func (s *SlackNotifier) Send(ctx context.Context, msg Message) error {
	color := "#36a64f" // green
	switch msg.Kind {
	case KindDown:
		color = "#d00000"
	case KindEscalation:
		color = "#e85d04"
	}

	att := slackAttachment{
		Color: color,
		Title: msg.Subject,
		Text:  msg.Body,
		Ts:    time.Now().Unix(),
	}
	if msg.MonitorName != "" {
		att.Fields = []slackField{
			{Title: "Monitor", Value: msg.MonitorName, Short: true},
			{Title: "Target", Value: msg.Target, Short: true},
		}
	}

	body, err := json.Marshal(slackPayload{Attachments: []slackAttachment{att}})
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("slack POST: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body) //nolint:errcheck // drain body for connection reuse

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("slack POST: status %d", resp.StatusCode)
	}
	return nil
}

// Type returns the notifier type identifier.
func (s *SlackNotifier) Type() string {
	return TypeSlack
}
