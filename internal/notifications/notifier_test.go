package notifications

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gridtraderpro/backend/internal/models"
)

func TestSender_PostsToWebhook(t *testing.T) {
	var got atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]string
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		got.Store(payload)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewSender(srv.URL, "TestBot")
	s.Send("hello")

	payload, _ := got.Load().(map[string]string)
	if payload == nil {
		t.Fatal("webhook not called")
	}
	if payload["username"] != "TestBot" {
		t.Fatalf("username = %q", payload["username"])
	}
	if payload["text"] == "" {
		t.Fatalf("expected slack-style text payload, got %v", payload)
	}
}

func TestSender_DiscordPayloadShape(t *testing.T) {
	s := NewSender("https://discord.com/api/webhooks/x", "TestBot")
	p := s.formatPayload("msg")
	if p["content"] != "msg" {
		t.Fatalf("discord payload wrong: %v", p)
	}

	s = NewSender("https://hooks.slack.com/services/x", "TestBot")
	p = s.formatPayload("msg")
	if p["text"] == "" {
		t.Fatalf("slack payload wrong: %v", p)
	}
}

func TestSender_DisabledWithoutURL(t *testing.T) {
	s := NewSender("", "")
	if s.Enabled() {
		t.Fatal("sender should be disabled without a URL")
	}
	s.Send("stdout only") // must not panic or block
}

func TestNotifier_DeliversEvents(t *testing.T) {
	var count atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewNotifier(NewSender(srv.URL, "TestBot"), 8)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		n.Run(ctx)
		close(done)
	}()

	if !n.Publish(TradeEvent{
		Kind: EventFill, Symbol: "ETHUSDT", Side: models.SideBuy,
		Quantity: 0.05, Price: 2600, GridLevel: -1, Profit: 12.5,
	}) {
		t.Fatal("Publish dropped with empty buffer")
	}

	deadline := time.After(3 * time.Second)
	for count.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("event never delivered")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}

func TestNotifier_FullBufferDropsWithoutBlocking(t *testing.T) {
	// no Run consumer: buffer of 1 fills immediately
	n := NewNotifier(NewSender("", ""), 1)

	if !n.Publish(TradeEvent{Kind: EventFill, Symbol: "ETHUSDT"}) {
		t.Fatal("first publish should be accepted")
	}

	start := time.Now()
	if n.Publish(TradeEvent{Kind: EventFill, Symbol: "ETHUSDT"}) {
		t.Fatal("second publish should be dropped")
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Fatal("Publish blocked on a full buffer")
	}
}
