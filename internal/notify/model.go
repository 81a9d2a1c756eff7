package notify

import (
	"encoding/json"
	"fmt"
	"time"
)

// Channel types.
const (
	TypeEmail    = "email"
	TypeTelegram = "telegram"
	TypeSlack    = "slack"
)

// Notification kinds written to the delivery log.
const (
	KindDown       = "down"
	KindUp         = "up"
	KindEscalation = "escalation"
	KindTest       = "test"
)

// Channel is a configured notification destination. Config holds the
// type-specific settings as JSON.
type Channel struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	Config    string    `json:"config"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
}

// EmailConfig configures SMTP delivery.
type EmailConfig struct {
	Host     string   `json:"host"`
	Port     int      `json:"port"`
	Username string   `json:"username,omitempty"`
	Password string   `json:"password,omitempty"`
	From     string   `json:"from"`
	To       []string `json:"to"`
	StartTLS bool     `json:"start_tls"`
}

// TelegramConfig configures Telegram bot delivery.
type TelegramConfig struct {
	BotToken string `json:"bot_token"`
	ChatID   string `json:"chat_id"`
}

// SlackConfig configures Slack incoming-webhook delivery.
type SlackConfig struct {
	WebhookURL string `json:"webhook_url"`
}

// ParseConfig decodes the channel's JSON config into dst.
func (c *Channel) ParseConfig(dst any) error {
	if err := json.Unmarshal([]byte(c.Config), dst); err != nil {
		return fmt.Errorf("parse %s channel config: %w", c.Type, err)
	}
	return nil
}

// Binding links a monitor to a channel with per-pair delivery rules.
type Binding struct {
	MonitorID    int64  `json:"monitor_id"`
	ChannelID    string `json:"channel_id"`
	NotifyOnDown bool   `json:"notify_on_down"`
	NotifyOnUp   bool   `json:"notify_on_up"`

	// EscalateAfterMinutes triggers one extra notification when the
	// incident is still open after this many minutes. Zero disables it.
	EscalateAfterMinutes int `json:"escalate_after_minutes,omitempty"`
}

// LogEntry records one delivery attempt, successful or not.
type LogEntry struct {
	ID         int64     `json:"id"`
	IncidentID string    `json:"incident_id,omitempty"`
	ChannelID  string    `json:"channel_id"`
	MonitorID  int64     `json:"monitor_id"`
	Kind       string    `json:"kind"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	SentAt     time.Time `json:"sent_at"`
}
