package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultTelegramAPI is the Bot API root.
const DefaultTelegramAPI = "https://api.telegram.org"

// TelegramSender posts HTML-formatted messages through the Telegram Bot API.
type TelegramSender struct {
	apiURL string
	token  string
	chatID string
	client *http.Client
}

// NewTelegramSender creates a sender for the bot token and chat. apiURL may
// be empty for the public API.
func NewTelegramSender(apiURL, token, chatID string) *TelegramSender {
	if apiURL == "" {
		apiURL = DefaultTelegramAPI
	}
	return &TelegramSender{
		apiURL: strings.TrimRight(apiURL, "/"),
		token:  token,
		chatID: chatID,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func renderTelegram(msg Message) string {
	var b strings.Builder
	icon := "📉"
	if msg.Positive {
		icon = "📈"
	}
	fmt.Fprintf(&b, "%s <b>%s</b>\n\n", icon, html.EscapeString(msg.Title))
	for _, f := range msg.Fields {
		v := html.EscapeString(f.Value)
		if f.Code {
			v = "<code>" + v + "</code>"
		}
		fmt.Fprintf(&b, "<b>%s:</b> %s\n", html.EscapeString(f.Label), v)
	}
	if msg.Footer != "" {
		fmt.Fprintf(&b, "\n<i>%s</i>", html.EscapeString(msg.Footer))
	}
	return b.String()
}

// Send calls sendMessage.
func (t *TelegramSender) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(map[string]any{
		"chat_id":                  t.chatID,
		"text":                     renderTelegram(msg),
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	})
	if err != nil {
		return fmt.Errorf("telegram: marshal payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		// The URL embeds the bot token; keep it out of logs.
		return errors.New("telegram: send request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("telegram: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// Name returns the sender identifier.
func (t *TelegramSender) Name() string { return "telegram" }
