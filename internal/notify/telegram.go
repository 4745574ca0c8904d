package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// Telegram sends messages through the Bot API to a fixed chat.
type Telegram struct {
	BotToken string
	ChatID   string
	hc       *http.Client
}

func NewTelegram(botToken, chatID string) *Telegram {
	return &Telegram{BotToken: botToken, ChatID: chatID, hc: httpClient()}
}

func (t *Telegram) Send(ctx context.Context, msg Message) error {
	text := fmt.Sprintf("*%s*\n\n%s", msg.Subject, msg.Body)
	if msg.Code != "" {
		text += fmt.Sprintf("\n\nCode: `%s`", msg.Code)
	}

	payload, err := json.Marshal(map[string]string{
		"chat_id":    t.ChatID,
		"text":       text,
		"parse_mode": "Markdown",
	})
	if err != nil {
		return err
	}

	endpoint := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.BotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := t.hc.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode >= 400 {
		return fmt.Errorf("telegram sendMessage: status %d", res.StatusCode)
	}
	return nil
}
