package notification

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"fx-signal-engine/internal/events"
)

// Level colours a notification for providers that support it.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelLoss    Level = "loss"
	LevelError   Level = "error"
)

// Notification is one formatted message ready for delivery.
type Notification struct {
	Title   string
	Message string
	Symbol  string
	Level   Level
	At      time.Time
}

// Notifier delivers notifications to one provider.
type Notifier interface {
	Send(n Notification) error
	Name() string
}

// Manager formats engine events into notifications and fans them out.
// Delivery is best effort: a failed send is logged and dropped, never
// retried, so a provider outage cannot stall the engine.
type Manager struct {
	notifiers []Notifier
	logger    zerolog.Logger
}

// NewManager creates an empty manager.
func NewManager(logger zerolog.Logger) *Manager {
	return &Manager{
		logger: logger.With().Str("component", "Notifications").Logger(),
	}
}

// Add registers a provider.
func (m *Manager) Add(n Notifier) {
	m.notifiers = append(m.notifiers, n)
	m.logger.Info().Str("provider", n.Name()).Msg("notifier registered")
}

// Attach subscribes the manager to trade-facing events on the bus.
func (m *Manager) Attach(bus *events.EventBus) {
	for _, t := range []events.EventType{
		events.EventTradeOpened,
		events.EventTradeClosed,
		events.EventReentryTaken,
		events.EventError,
	} {
		bus.Subscribe(t, m.handle)
	}
}

func (m *Manager) handle(ev events.Event) {
	n, ok := m.format(ev)
	if !ok {
		return
	}
	for _, notifier := range m.notifiers {
		if err := notifier.Send(n); err != nil {
			m.logger.Warn().Err(err).Str("provider", notifier.Name()).Msg("notification send failed")
		}
	}
}

func (m *Manager) format(ev events.Event) (Notification, bool) {
	switch ev.Type {
	case events.EventTradeOpened:
		return Notification{
			Title: fmt.Sprintf("Trade opened: %s", ev.Symbol),
			Message: fmt.Sprintf("%v %s @ %.5f\nStop: %.5f | Size: %.2f",
				ev.Data["direction"], ev.Symbol, num(ev.Data["entry"]), num(ev.Data["stop"]), num(ev.Data["size"])),
			Symbol: ev.Symbol,
			Level:  LevelInfo,
			At:     ev.Timestamp,
		}, true
	case events.EventTradeClosed:
		pnl := num(ev.Data["pnl"])
		level := LevelSuccess
		if pnl < 0 {
			level = LevelLoss
		}
		return Notification{
			Title: fmt.Sprintf("Trade closed: %s", ev.Symbol),
			Message: fmt.Sprintf("P&L: %.2f (%.2fR)\nReason: %v",
				pnl, num(ev.Data["r_multiple"]), ev.Data["reason"]),
			Symbol: ev.Symbol,
			Level:  level,
			At:     ev.Timestamp,
		}, true
	case events.EventReentryTaken:
		return Notification{
			Title:   fmt.Sprintf("Re-entry taken: %s", ev.Symbol),
			Message: fmt.Sprintf("Pattern: %v", ev.Data["pattern"]),
			Symbol:  ev.Symbol,
			Level:   LevelInfo,
			At:      ev.Timestamp,
		}, true
	case events.EventError:
		return Notification{
			Title:   "Engine error",
			Message: fmt.Sprintf("%v: %v", ev.Data["source"], ev.Data["message"]),
			Symbol:  ev.Symbol,
			Level:   LevelError,
			At:      ev.Timestamp,
		}, true
	}
	return Notification{}, false
}

// num tolerates the loosely typed event payload.
func num(v interface{}) float64 {
	f, _ := v.(float64)
	return f
}

// =============================================================================
// TELEGRAM NOTIFIER
// =============================================================================

// TelegramNotifier sends notifications via the Telegram bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	apiBase  string
	client   *http.Client
}

// NewTelegramNotifier creates a Telegram notifier.
func NewTelegramNotifier(botToken, chatID string) *TelegramNotifier {
	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		apiBase:  "https://api.telegram.org",
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *TelegramNotifier) Name() string {
	return "telegram"
}

func (t *TelegramNotifier) Send(n Notification) error {
	payload := map[string]interface{}{
		"chat_id":    t.chatID,
		"text":       fmt.Sprintf("*%s*\n\n%s", n.Title, n.Message),
		"parse_mode": "Markdown",
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.botToken)
	resp, err := t.client.Post(url, "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("sending telegram message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API returned status %d", resp.StatusCode)
	}
	return nil
}

// =============================================================================
// DISCORD NOTIFIER
// =============================================================================

// DiscordNotifier sends notifications via a Discord webhook.
type DiscordNotifier struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordNotifier creates a Discord notifier.
func NewDiscordNotifier(webhookURL string) *DiscordNotifier {
	return &DiscordNotifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (d *DiscordNotifier) Name() string {
	return "discord"
}

func (d *DiscordNotifier) Send(n Notification) error {
	color := 0x3498DB // blue
	switch n.Level {
	case LevelSuccess:
		color = 0x00FF00
	case LevelLoss, LevelError:
		color = 0xFF0000
	}

	embed := map[string]interface{}{
		"title":       n.Title,
		"description": n.Message,
		"color":       color,
		"timestamp":   n.At.Format(time.RFC3339),
	}
	if n.Symbol != "" {
		embed["fields"] = []map[string]interface{}{
			{"name": "Symbol", "value": n.Symbol, "inline": true},
		}
	}

	jsonData, err := json.Marshal(map[string]interface{}{
		"embeds": []map[string]interface{}{embed},
	})
	if err != nil {
		return fmt.Errorf("marshaling discord payload: %w", err)
	}

	resp, err := d.client.Post(d.webhookURL, "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("sending discord message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("discord API returned status %d", resp.StatusCode)
	}
	return nil
}
