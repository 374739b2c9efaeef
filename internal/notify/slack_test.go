package notify

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quantgate/sentinel/internal/config"
)

func webhookStub(t *testing.T) (*httptest.Server, func() []message) {
	t.Helper()
	var mu sync.Mutex
	var got []message

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var m message
		require.NoError(t, json.NewDecoder(r.Body).Decode(&m))
		mu.Lock()
		got = append(got, m)
		mu.Unlock()
	}))
	t.Cleanup(srv.Close)

	return srv, func() []message {
		mu.Lock()
		defer mu.Unlock()
		return append([]message(nil), got...)
	}
}

func TestNotifyDeliversAndFormats(t *testing.T) {
	srv, messages := webhookStub(t)
	s := NewSlack(config.Notify{SlackWebhookURL: srv.URL, SlackChannel: "#ops"})

	s.Notify(Event{
		Severity: SeverityCritical,
		Title:    "trading halted",
		Fields:   map[string]string{"reason": "circuit breaker engaged"},
	})
	s.Close()

	got := messages()
	require.Len(t, got, 1)
	require.Equal(t, "#ops", got[0].Channel)
	require.Equal(t, "trading halted", got[0].Text)
	require.Len(t, got[0].Attachments, 1)
	require.Equal(t, "danger", got[0].Attachments[0].Color)
	require.Equal(t, "circuit breaker engaged", got[0].Attachments[0].Fields[0].Value)
}

func TestNotifyDedupesInsideWindow(t *testing.T) {
	srv, messages := webhookStub(t)
	s := NewSlack(config.Notify{SlackWebhookURL: srv.URL, DedupeWindowSeconds: 300})

	for i := 0; i < 5; i++ {
		s.Notify(Event{Severity: SeverityWarning, Title: "drawdown warning"})
	}
	s.Notify(Event{Severity: SeverityWarning, Title: "leverage warning"})
	s.Close()

	got := messages()
	require.Len(t, got, 2, "repeats of one title collapse, distinct titles pass")
	require.Equal(t, "warning", got[0].Attachments[0].Color)
}

func TestNotifyNeverBlocksCaller(t *testing.T) {
	// No server behind the webhook: the worker will stall on retries while
	// the caller keeps going.
	s := NewSlack(config.Notify{SlackWebhookURL: "http://127.0.0.1:1/hook"})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < queueDepth*2; i++ {
			s.Notify(Event{Severity: SeverityWarning, Title: "x"})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Notify blocked on a full queue")
	}
}

func TestEnabled(t *testing.T) {
	require.False(t, Enabled(config.Notify{}))
	require.True(t, Enabled(config.Notify{SlackWebhookURL: "http://example.com/hook"}))
}
