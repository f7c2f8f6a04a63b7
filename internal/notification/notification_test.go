package notification

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"fx-signal-engine/internal/events"
)

type captureNotifier struct {
	mu   sync.Mutex
	sent []Notification
}

func (c *captureNotifier) Send(n Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, n)
	return nil
}

func (c *captureNotifier) Name() string { return "capture" }

func (c *captureNotifier) all() []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Notification{}, c.sent...)
}

func TestManagerFormatsTradeEvents(t *testing.T) {
	capture := &captureNotifier{}
	m := NewManager(zerolog.Nop())
	m.Add(capture)

	m.handle(events.Event{
		Type:      events.EventTradeOpened,
		Symbol:    "EURUSD",
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"direction": "bullish",
			"entry":     1.0852,
			"stop":      1.0840,
			"size":      1000.0,
		},
	})
	m.handle(events.Event{
		Type:      events.EventTradeClosed,
		Symbol:    "EURUSD",
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"pnl":        -150.0,
			"r_multiple": -1.0,
			"reason":     "stop_loss",
		},
	})
	m.handle(events.Event{
		Type:   events.EventSignalGenerated, // not subscribed, must be ignored
		Symbol: "EURUSD",
	})

	sent := capture.all()
	if len(sent) != 2 {
		t.Fatalf("sent = %d notifications, want 2", len(sent))
	}
	if sent[0].Level != LevelInfo || !strings.Contains(sent[0].Message, "1.08520") {
		t.Errorf("open notification = %+v", sent[0])
	}
	if sent[1].Level != LevelLoss || !strings.Contains(sent[1].Message, "stop_loss") {
		t.Errorf("close notification = %+v", sent[1])
	}
}

func TestManagerReceivesFromBus(t *testing.T) {
	capture := &captureNotifier{}
	m := NewManager(zerolog.Nop())
	m.Add(capture)

	bus := events.NewEventBus()
	m.Attach(bus)
	bus.PublishTradeOpened("GBPUSD", "t-1", "bearish", 1.2500, 1.2520, 500)

	deadline := time.Now().Add(2 * time.Second)
	for {
		if sent := capture.all(); len(sent) == 1 {
			if sent[0].Symbol != "GBPUSD" {
				t.Errorf("notification = %+v", sent[0])
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("notification never arrived from the bus")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestTelegramNotifierPostsMessage(t *testing.T) {
	var gotPath string
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		raw, _ := io.ReadAll(r.Body)
		json.Unmarshal(raw, &gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewTelegramNotifier("token123", "chat456")
	n.apiBase = srv.URL

	err := n.Send(Notification{Title: "Trade opened: EURUSD", Message: "long @ 1.0852"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if gotPath != "/bottoken123/sendMessage" {
		t.Errorf("path = %q", gotPath)
	}
	if gotBody["chat_id"] != "chat456" {
		t.Errorf("chat_id = %v", gotBody["chat_id"])
	}
	if !strings.Contains(gotBody["text"].(string), "Trade opened") {
		t.Errorf("text = %v", gotBody["text"])
	}
}

func TestDiscordNotifierUsesLossColor(t *testing.T) {
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		json.Unmarshal(raw, &gotBody)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewDiscordNotifier(srv.URL)
	err := n.Send(Notification{
		Title:   "Trade closed: EURUSD",
		Message: "P&L: -150.00",
		Symbol:  "EURUSD",
		Level:   LevelLoss,
		At:      time.Now(),
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	embeds := gotBody["embeds"].([]interface{})
	embed := embeds[0].(map[string]interface{})
	if embed["color"].(float64) != 0xFF0000 {
		t.Errorf("color = %v, want red", embed["color"])
	}
}

func TestNotifierFailureDoesNotStopFanout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	capture := &captureNotifier{}
	m := NewManager(zerolog.Nop())
	m.Add(NewDiscordNotifier(srv.URL)) // always fails
	m.Add(capture)

	m.handle(events.Event{
		Type:      events.EventTradeOpened,
		Symbol:    "EURUSD",
		Timestamp: time.Now(),
		Data:      map[string]interface{}{"direction": "bullish"},
	})

	if len(capture.all()) != 1 {
		t.Fatal("second notifier skipped after first failed")
	}
}
