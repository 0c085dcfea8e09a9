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

const (
	discordGreen = 0x2ecc71
	discordRed   = 0xe74c3c
)

// DiscordSender posts messages as webhook embeds.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSender creates a DiscordSender for the webhook URL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordEmbed struct {
	Title  string         `json:"title"`
	Color  int            `json:"color"`
	Fields []discordField `json:"fields"`
	Footer *struct {
		Text string `json:"text"`
	} `json:"footer,omitempty"`
}

func renderDiscord(msg Message) discordEmbed {
	e := discordEmbed{Title: msg.Title, Color: discordRed}
	if msg.Positive {
		e.Color = discordGreen
	}
	for _, f := range msg.Fields {
		v := f.Value
		if f.Code {
			v = "`" + v + "`"
		}
		e.Fields = append(e.Fields, discordField{Name: f.Label, Value: v, Inline: !f.Code})
	}
	if msg.Footer != "" {
		e.Footer = &struct {
			Text string `json:"text"`
		}{Text: msg.Footer}
	}
	return e
}

// Send posts the embed. Discord answers 204 on success.
func (d *DiscordSender) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(map[string]any{"embeds": []discordEmbed{renderDiscord(msg)}})
	if err != nil {
		return fmt.Errorf("discord: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("discord: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("discord: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("discord: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// Name returns the sender identifier.
func (d *DiscordSender) Name() string { return "discord" }
