package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"time"
)

// Compile-time interface guard.
var _ Notifier = (*TelegramNotifier)(nil)

// telegramAPIBase is overridable in tests.
var telegramAPIBase = "https://api.telegram.org"

// TelegramNotifier delivers notifications through the Telegram bot API.
type TelegramNotifier struct {
	client *http.Client
	cfg    TelegramConfig
}

// NewTelegramNotifier creates a Telegram bot notifier.
func NewTelegramNotifier(cfg TelegramConfig) *TelegramNotifier {
	return &TelegramNotifier{
		client: &http.Client{Timeout: 10 * time.Second},
		cfg:    cfg,
	}
}

// Send posts the message via the bot's sendMessage method using HTML
// formatting.
func (t *TelegramNotifier) Send(ctx context.Context, msg Message) error {
	text := fmt.Sprintf("<b>%s</b>\n%s", html.EscapeString(msg.Subject), html.EscapeString(msg.Body))

	payload, err := json.Marshal(map[string]string{
		"chat_id":    t.cfg.ChatID,
		"text":       text,
		"parse_mode": "HTML",
	})
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", telegramAPIBase, t.cfg.BotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram sendMessage: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("telegram sendMessage: status %d: %s", resp.StatusCode, string(body))
	}
	io.Copy(io.Discard, resp.Body) //nolint:errcheck // drain body for connection reuse
	return nil
}

// Type returns the notifier type identifier.
func (t *TelegramNotifier) Type() string {
	return TypeTelegram
}
