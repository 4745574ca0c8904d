package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

const (
	colorCode   = 0xE67E22
	colorStatus = 0x3498DB
)

// Discord posts messages to a webhook as embeds.
type Discord struct {
	WebhookURL string
	hc         *http.Client
}

func NewDiscord(webhookURL string) *Discord {
	return &Discord{WebhookURL: webhookURL, hc: httpClient()}
}

type discordEmbed struct {
	Title       string              `json:"title"`
	Description string              `json:"description,omitempty"`
	Color       int                 `json:"color"`
	Fields      []discordEmbedField `json:"fields,omitempty"`
}

type discordEmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

func (d *Discord) Send(ctx context.Context, msg Message) error {
	embed := discordEmbed{
		Title:       msg.Subject,
		Description: msg.Body,
		Color:       colorStatus,
	}
	if msg.Code != "" {
		embed.Color = colorCode
		embed.Fields = append(embed.Fields, discordEmbedField{
			Name:  "Code",
			Value: fmt.Sprintf("`%s`", msg.Code),
		})
	}

	payload, err := json.Marshal(map[string]any{"embeds": []discordEmbed{embed}})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := d.hc.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode >= 400 {
		return fmt.Errorf("discord webhook: status %d", res.StatusCode)
	}
	return nil
}
