package feed

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"fx-signal-engine/internal/market"
)

// BarHandler receives every finalized bar, keyed by instrument symbol.
type BarHandler func(symbol string, bar market.Bar)

// Config holds the price feed connection settings.
type Config struct {
	URL            string
	Symbols        []string
	ReconnectDelay time.Duration // default 5s
}

func (c Config) withDefaults() Config {
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 5 * time.Second
	}
	return c
}

// Validate rejects configurations the stream cannot start with.
func (c Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("feed URL is required")
	}
	if len(c.Symbols) == 0 {
		return fmt.Errorf("at least one symbol is required")
	}
	return nil
}

// barMessage is one candle update on the wire. Only messages with the final
// flag set are complete bars; partial updates for the forming candle are
// dropped.
type barMessage struct {
	Symbol   string  `json:"s"`
	OpenTime int64   `json:"t"` // milliseconds
	Open     float64 `json:"o,string"`
	High     float64 `json:"h,string"`
	Low      float64 `json:"l,string"`
	Close    float64 `json:"c,string"`
	Volume   float64 `json:"v,string"`
	Final    bool    `json:"x"`
}

type subscribeRequest struct {
	Op      string   `json:"op"`
	Symbols []string `json:"symbols"`
}

// Stream maintains the WebSocket connection to the price feed and dispatches
// finalized bars to the handler. Connection loss triggers reconnection with a
// fixed delay; the subscription is replayed on every connect.
type Stream struct {
	mu sync.RWMutex

	cfg     Config
	logger  zerolog.Logger
	handler BarHandler

	conn      *websocket.Conn
	isRunning bool
	stopChan  chan struct{}

	reconnects   int
	barsReceived int64
	lastBarTime  time.Time
}

// NewStream creates a stream for the configured symbols. The handler is
// invoked from the read loop, one bar at a time.
func NewStream(cfg Config, handler BarHandler, logger zerolog.Logger) (*Stream, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid feed config: %w", err)
	}
	if handler == nil {
		return nil, fmt.Errorf("bar handler is required")
	}
	return &Stream{
		cfg:      cfg.withDefaults(),
		handler:  handler,
		logger:   logger.With().Str("component", "Feed").Logger(),
		stopChan: make(chan struct{}),
	}, nil
}

// Start begins the connection loop. Safe to call once.
func (s *Stream) Start() {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.mu.Unlock()

	go s.connect()
}

// Stop closes the connection and ends the loop.
func (s *Stream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return
	}
	s.isRunning = false
	close(s.stopChan)

	if s.conn != nil {
		s.conn.Close()
	}
	s.logger.Info().Msg("feed stopped")
}

// IsRunning reports whether the connection loop is active.
func (s *Stream) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Stats returns bars received, reconnect count, and last bar time.
func (s *Stream) Stats() (bars int64, reconnects int, last time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.barsReceived, s.reconnects, s.lastBarTime
}

func (s *Stream) connect() {
	for {
		s.mu.RLock()
		running := s.isRunning
		s.mu.RUnlock()
		if !running {
			return
		}

		conn, _, err := websocket.DefaultDialer.Dial(s.cfg.URL, nil)
		if err != nil {
			s.logger.Warn().Err(err).Dur("retry_in", s.cfg.ReconnectDelay).Msg("feed connection failed")
			s.mu.Lock()
			s.reconnects++
			s.mu.Unlock()
			if !s.sleep(s.cfg.ReconnectDelay) {
				return
			}
			continue
		}

		if err := conn.WriteJSON(subscribeRequest{Op: "subscribe", Symbols: s.cfg.Symbols}); err != nil {
			s.logger.Warn().Err(err).Msg("subscribe failed")
			conn.Close()
			if !s.sleep(s.cfg.ReconnectDelay) {
				return
			}
			continue
		}

		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()
		s.logger.Info().Str("url", s.cfg.URL).Strs("symbols", s.cfg.Symbols).Msg("feed connected")

		s.readLoop(conn)

		s.mu.RLock()
		running = s.isRunning
		s.mu.RUnlock()
		if !running {
			return
		}

		s.logger.Warn().Dur("retry_in", s.cfg.ReconnectDelay).Msg("feed connection lost")
		s.mu.Lock()
		s.reconnects++
		s.mu.Unlock()
		if !s.sleep(s.cfg.ReconnectDelay) {
			return
		}
	}
}

func (s *Stream) readLoop(conn *websocket.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn().Err(err).Msg("feed read error")
			}
			return
		}

		var msg barMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			s.logger.Warn().Err(err).Msg("malformed feed message dropped")
			continue
		}
		if !msg.Final || msg.Symbol == "" {
			continue
		}

		bar := market.Bar{
			Open:      msg.Open,
			High:      msg.High,
			Low:       msg.Low,
			Close:     msg.Close,
			Volume:    msg.Volume,
			Timestamp: time.UnixMilli(msg.OpenTime).UTC(),
		}

		s.mu.Lock()
		s.barsReceived++
		s.lastBarTime = bar.Timestamp
		s.mu.Unlock()

		s.handler(msg.Symbol, bar)
	}
}

// sleep waits for d unless Stop is called first.
func (s *Stream) sleep(d time.Duration) bool {
	select {
	case <-s.stopChan:
		return false
	case <-time.After(d):
		return true
	}
}
