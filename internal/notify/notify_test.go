package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stub struct {
	err   error
	calls int
}

func (s *stub) Send(context.Context, Message) error {
	s.calls++
	return s.err
}

func TestMultiSucceedsIfAnyDelivers(t *testing.T) {
	failing := &stub{err: errors.New("down")}
	working := &stub{}

	m := Multi{failing, working}
	require.NoError(t, m.Send(context.Background(), Message{Subject: "s"}))
	assert.Equal(t, 1, failing.calls)
	assert.Equal(t, 1, working.calls)
}

func TestMultiFailsWhenAllFail(t *testing.T) {
	down := errors.New("down")
	m := Multi{&stub{err: down}, &stub{err: down}}
	assert.ErrorIs(t, m.Send(context.Background(), Message{}), down)
}

func TestMultiEmpty(t *testing.T) {
	assert.Error(t, Multi{}.Send(context.Background(), Message{}))
}

func TestDiscordSend(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDiscord(srv.URL)
	err := d.Send(context.Background(), Message{Subject: "Cancellation code", Body: "details", Code: "123456"})
	require.NoError(t, err)

	embeds, ok := got["embeds"].([]any)
	require.True(t, ok)
	require.Len(t, embeds, 1)
	embed := embeds[0].(map[string]any)
	assert.Equal(t, "Cancellation code", embed["title"])
	fields := embed["fields"].([]any)
	require.Len(t, fields, 1)
	assert.Contains(t, fields[0].(map[string]any)["value"], "123456")
}

func TestDiscordSendErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	assert.Error(t, NewDiscord(srv.URL).Send(context.Background(), Message{Subject: "s"}))
}

func TestEmailRecipientSelection(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	e := NewEmail("key", "noreply@example.com", "default@example.com")
	e.endpoint = srv.URL

	require.NoError(t, e.Send(context.Background(), Message{Subject: "s", Body: "b"}))
	assert.Equal(t, []any{"default@example.com"}, got["to"])

	require.NoError(t, e.Send(context.Background(), Message{Subject: "s", Address: "booker@example.com"}))
	assert.Equal(t, []any{"booker@example.com"}, got["to"])

	e.DefaultTo = ""
	assert.Error(t, e.Send(context.Background(), Message{Subject: "s"}), "no recipient anywhere")
}
