package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/uptimo/uptimo/internal/incident"
	"github.com/uptimo/uptimo/internal/monitor"
)

// Message is a rendered notification ready for delivery.
type Message struct {
	Kind        string
	MonitorName string
	MonitorType string
	Target      string
	Subject     string
	Body        string
	StartedAt   time.Time
	Duration    time.Duration
}

// Notifier delivers messages to one channel type.
type Notifier interface {
	// Send delivers the message. Implementations must respect ctx.
	Send(ctx context.Context, msg Message) error

	// Type returns the channel type identifier.
	Type() string
}

// buildNotifier constructs the notifier for a channel from its JSON config.
func buildNotifier(c *Channel) (Notifier, error) {
	switch c.Type {
	case TypeEmail:
		var cfg EmailConfig
		if err := c.ParseConfig(&cfg); err != nil {
			return nil, err
		}
		return NewEmailNotifier(cfg)
	case TypeTelegram:
		var cfg TelegramConfig
		if err := c.ParseConfig(&cfg); err != nil {
			return nil, err
		}
		return NewTelegramNotifier(cfg), nil
	case TypeSlack:
		var cfg SlackConfig
		if err := c.ParseConfig(&cfg); err != nil {
			return nil, err
		}
		return NewSlackNotifier(cfg), nil
	default:
		return nil, fmt.Errorf("unknown channel type %q", c.Type)
	}
}

// renderMessage builds the notification text for an incident transition.
func renderMessage(kind string, m *monitor.Monitor, in *incident.Incident) Message {
	msg := Message{
		Kind:        kind,
		MonitorName: m.Name,
		MonitorType: string(m.Type),
		Target:      m.Target,
	}
	if in != nil {
		msg.StartedAt = in.StartedAt
		msg.Duration = in.Duration()
	}

	switch kind {
	case KindDown:
		msg.Subject = fmt.Sprintf("DOWN: %s", m.Name)
		msg.Body = fmt.Sprintf("%s (%s %s) is down.", m.Name, m.Type, m.Target)
		if in != nil && in.Description != "" {
			msg.Body += "\nReason: " + in.Description
		}
	case KindUp:
		msg.Subject = fmt.Sprintf("RESOLVED: %s", m.Name)
		msg.Body = fmt.Sprintf("%s (%s %s) is back up after %s.",
			m.Name, m.Type, m.Target, msg.Duration.Round(time.Second))
	case KindEscalation:
		msg.Subject = fmt.Sprintf("STILL DOWN: %s", m.Name)
		msg.Body = fmt.Sprintf("%s (%s %s) has been down for %s with no recovery.",
			m.Name, m.Type, m.Target, msg.Duration.Round(time.Second))
	case KindTest:
		msg.Subject = "Test notification"
		msg.Body = "This is a test notification. Channel delivery is working."
	}
	return msg
}
