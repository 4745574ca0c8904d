// Package notify delivers generated codes and submission outcomes to the
// configured channels. Delivery is best-effort by design: a failed send is
// logged by the caller and never rolls back booking state.
package notify

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"
)

// Message is one outbound notification. Address is the per-booking recipient
// when set; channel notifiers (Discord, Telegram) deliver to their fixed
// target and ignore it.
type Message struct {
	Subject string
	Body    string
	Address string

	// Code is set when the message carries a one-time code; channel notifiers
	// render it prominently.
	Code string
}

type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// Multi fans a message out to every notifier and succeeds if at least one
// delivery succeeds.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, msg Message) error {
	if len(m) == 0 {
		return errors.New("no notifiers configured")
	}
	var lastErr error
	delivered := false
	for _, n := range m {
		if err := n.Send(ctx, msg); err != nil {
			log.Printf("notify: delivery failed: %v", err)
			lastErr = err
			continue
		}
		delivered = true
	}
	if !delivered {
		return lastErr
	}
	return nil
}

// Console logs the message instead of delivering it. Used when no channel is
// configured so local runs still show the codes.
type Console struct{}

func (Console) Send(_ context.Context, msg Message) error {
	if msg.Code != "" {
		log.Printf("notify: %s :: %s [code %s]", msg.Subject, msg.Body, msg.Code)
		return nil
	}
	log.Printf("notify: %s :: %s", msg.Subject, msg.Body)
	return nil
}

func httpClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}
