package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

const resendEndpoint = "https://api.resend.com/emails"

// Email sends through the Resend HTTP API. The message Address overrides the
// default recipient when present.
type Email struct {
	APIKey    string
	From      string
	DefaultTo string
	endpoint  string
	hc        *http.Client
}

func NewEmail(apiKey, from, defaultTo string) *Email {
	return &Email{
		APIKey:    apiKey,
		From:      from,
		DefaultTo: defaultTo,
		endpoint:  resendEndpoint,
		hc:        httpClient(),
	}
}

func (e *Email) Send(ctx context.Context, msg Message) error {
	to := msg.Address
	if to == "" {
		to = e.DefaultTo
	}
	if to == "" {
		return errors.New("email: no recipient")
	}

	body := msg.Body
	if msg.Code != "" {
		body += fmt.Sprintf("\n\nCode: %s", msg.Code)
	}
	payload, err := json.Marshal(map[string]any{
		"from":    e.From,
		"to":      []string{to},
		"subject": msg.Subject,
		"text":    body,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.APIKey)

	res, err := e.hc.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode >= 400 {
		return fmt.Errorf("resend: status %d", res.StatusCode)
	}
	return nil
}
