package events

import (
	"sync"
	"time"
)

// EventType represents different types of engine events
type EventType string

const (
	EventBarRejected     EventType = "BAR_REJECTED"
	EventStructureBreak  EventType = "STRUCTURE_BREAK"
	EventSignalGenerated EventType = "SIGNAL_GENERATED"
	EventSetupSkipped    EventType = "SETUP_SKIPPED"
	EventTradeOpened     EventType = "TRADE_OPENED"
	EventPartialTP       EventType = "PARTIAL_TP"
	EventBreakevenMoved  EventType = "BREAKEVEN_MOVED"
	EventStopTrailed     EventType = "STOP_TRAILED"
	EventPyramidAdded    EventType = "PYRAMID_ADDED"
	EventTradeClosed     EventType = "TRADE_CLOSED"
	EventReentryTaken    EventType = "REENTRY_TAKEN"
	EventError           EventType = "ERROR"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Symbol    string                 `json:"symbol"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// EventBus manages event publishing and subscriptions
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
		allSubs:     make([]Subscriber, 0),
	}
}

// Subscribe registers a subscriber for a specific event type
func (eb *EventBus) Subscribe(eventType EventType, subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (eb *EventBus) SubscribeAll(subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.allSubs = append(eb.allSubs, subscriber)
}

// Publish sends an event to all subscribers
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if subs, ok := eb.subscribers[event.Type]; ok {
		for _, sub := range subs {
			go sub(event) // Run in goroutine to avoid blocking
		}
	}

	for _, sub := range eb.allSubs {
		go sub(event)
	}
}

// PublishSignal publishes a signal generated event
func (eb *EventBus) PublishSignal(symbol, pattern, direction string, strength, score, required int) {
	eb.Publish(Event{
		Type:   EventSignalGenerated,
		Symbol: symbol,
		Data: map[string]interface{}{
			"pattern":   pattern,
			"direction": direction,
			"strength":  strength,
			"score":     score,
			"required":  required,
		},
	})
}

// PublishTradeOpened publishes a trade opened event
func (eb *EventBus) PublishTradeOpened(symbol, tradeID, direction string, entry, stop, size float64) {
	eb.Publish(Event{
		Type:   EventTradeOpened,
		Symbol: symbol,
		Data: map[string]interface{}{
			"trade_id":  tradeID,
			"direction": direction,
			"entry":     entry,
			"stop":      stop,
			"size":      size,
		},
	})
}

// PublishTradeClosed publishes a trade closed event
func (eb *EventBus) PublishTradeClosed(symbol, tradeID, reason string, pnl, rMultiple float64) {
	eb.Publish(Event{
		Type:   EventTradeClosed,
		Symbol: symbol,
		Data: map[string]interface{}{
			"trade_id":   tradeID,
			"reason":     reason,
			"pnl":        pnl,
			"r_multiple": rMultiple,
		},
	})
}

// PublishError publishes an error event
func (eb *EventBus) PublishError(symbol, source, message string, err error) {
	data := map[string]interface{}{
		"source":  source,
		"message": message,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	eb.Publish(Event{
		Type:   EventError,
		Symbol: symbol,
		Data:   data,
	})
}

// Ring keeps a bounded history of recent events for the status API.
type Ring struct {
	mu       sync.RWMutex
	capacity int
	events   []Event
}

// NewRing creates a bounded event history (default capacity 200) and
// subscribes it to every event on the bus.
func NewRing(bus *EventBus, capacity int) *Ring {
	if capacity <= 0 {
		capacity = 200
	}
	r := &Ring{capacity: capacity}
	bus.SubscribeAll(r.record)
	return r
}

func (r *Ring) record(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	if len(r.events) > r.capacity {
		r.events = r.events[len(r.events)-r.capacity:]
	}
}

// Recent returns up to n most recent events, newest first.
func (r *Ring) Recent(n int) []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if n <= 0 || n > len(r.events) {
		n = len(r.events)
	}
	out := make([]Event, n)
	for i := 0; i < n; i++ {
		out[i] = r.events[len(r.events)-1-i]
	}
	return out
}
