package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"fx-signal-engine/internal/events"
	"fx-signal-engine/internal/market"
	"fx-signal-engine/internal/patterns"
	"fx-signal-engine/internal/performance"
	"fx-signal-engine/internal/risk"
	"fx-signal-engine/internal/structure"
)

// Config tunes partial exits, stop migration, pyramiding, and stop-out
// re-entry. Zero values take the noted defaults.
type Config struct {
	TP1ClosePercent float64 // portion closed at TP1 (default 50)
	TP2ClosePercent float64 // portion of original size closed at TP2 (default 30)

	BreakevenR       float64 // profit in R that moves the stop to entry (default 1)
	TrailStartR      float64 // profit in R that activates trailing (default 2)
	TrailATRMultiple float64 // trail distance in ATRs (default 1.5)

	PyramidEnabled      bool
	PyramidStepR        float64 // R per pyramid level (default 1.5)
	PyramidMaxLevel     int     // additional positions allowed (default 2)
	PyramidSizeFraction float64 // add size as fraction of original (default 0.5)
	MaxRetracePercent   float64 // retrace from best price blocking adds, % of stop distance (default 30)

	ReentryMinDelay    time.Duration // wait after a stop-out (default 15m)
	ReentryExpiry      time.Duration // window lifetime (default 24h)
	ReentryMaxAttempts int           // attempts per window (default 2)
}

func (c Config) withDefaults() Config {
	if c.TP1ClosePercent <= 0 {
		c.TP1ClosePercent = 50
	}
	if c.TP2ClosePercent <= 0 {
		c.TP2ClosePercent = 30
	}
	if c.BreakevenR <= 0 {
		c.BreakevenR = 1
	}
	if c.TrailStartR <= 0 {
		c.TrailStartR = 2
	}
	if c.TrailATRMultiple <= 0 {
		c.TrailATRMultiple = 1.5
	}
	if c.PyramidStepR <= 0 {
		c.PyramidStepR = 1.5
	}
	if c.PyramidMaxLevel <= 0 {
		c.PyramidMaxLevel = 2
	}
	if c.PyramidSizeFraction <= 0 {
		c.PyramidSizeFraction = 0.5
	}
	if c.MaxRetracePercent <= 0 {
		c.MaxRetracePercent = 30
	}
	if c.ReentryMinDelay <= 0 {
		c.ReentryMinDelay = 15 * time.Minute
	}
	if c.ReentryExpiry <= 0 {
		c.ReentryExpiry = 24 * time.Hour
	}
	if c.ReentryMaxAttempts <= 0 {
		c.ReentryMaxAttempts = 2
	}
	return c
}

// Validate rejects percentages that cannot form a coherent exit ladder.
func (c Config) Validate() error {
	if c.TP1ClosePercent < 0 || c.TP2ClosePercent < 0 {
		return fmt.Errorf("close percentages must not be negative")
	}
	if c.TP1ClosePercent+c.TP2ClosePercent > 100 {
		return fmt.Errorf("TP1+TP2 close percentages exceed 100")
	}
	if c.MaxRetracePercent < 0 || c.MaxRetracePercent > 100 {
		return fmt.Errorf("retrace percent must be within [0,100]")
	}
	return nil
}

// ClosedTrade pairs a finished trade with its performance contribution.
type ClosedTrade struct {
	Trade   ActiveTrade
	Reason  CloseReason
	Result  performance.TradeResult
	StopOut bool
}

// ReentryStatus classifies a candidate signal against re-entry windows.
type ReentryStatus string

const (
	ReentryNone    ReentryStatus = "none"    // no window, trade normally
	ReentryBlocked ReentryStatus = "blocked" // window active but conditions unmet
	ReentryAllowed ReentryStatus = "allowed" // take it as a re-entry attempt
)

// Manager runs the per-bar state machine for every active trade. Port calls
// precede state changes: a rejected command leaves the trade untouched and
// the transition retries next cycle while its trigger still holds.
type Manager struct {
	cfg    Config
	port   ExecutionPort
	logger zerolog.Logger

	bus    *events.EventBus
	symbol string

	mu        sync.RWMutex
	trades    map[string]*ActiveTrade
	reentries map[string]*reentryWindow
}

// NewManager validates config and wires the execution port.
func NewManager(cfg Config, port ExecutionPort, logger zerolog.Logger) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid lifecycle config: %w", err)
	}
	return &Manager{
		cfg:       cfg.withDefaults(),
		port:      port,
		logger:    logger.With().Str("component", "LifecycleManager").Logger(),
		trades:    make(map[string]*ActiveTrade),
		reentries: make(map[string]*reentryWindow),
	}, nil
}

// PublishTo routes lifecycle transition events for one symbol onto the bus.
func (m *Manager) PublishTo(bus *events.EventBus, symbol string) {
	m.bus = bus
	m.symbol = symbol
}

func (m *Manager) publish(eventType events.EventType, data map[string]interface{}) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(events.Event{Type: eventType, Symbol: m.symbol, Data: data})
}

// Open submits the plan to the port and registers the confirmed trade. On
// port failure nothing is registered.
func (m *Manager) Open(ctx context.Context, plan risk.Plan, regime string) (*ActiveTrade, error) {
	tradeID, err := m.port.Open(ctx, plan)
	if err != nil {
		m.logger.Warn().Err(err).Str("pattern", plan.PatternName).Msg("execution port rejected entry")
		return nil, fmt.Errorf("opening trade: %w", err)
	}

	trade := &ActiveTrade{
		ID:               tradeID,
		Direction:        plan.Direction,
		PatternName:      plan.PatternName,
		Regime:           regime,
		State:            StateOpen,
		EntryPrice:       plan.EntryPrice,
		AvgEntry:         plan.EntryPrice,
		InitialStop:      plan.StopLoss,
		StopLoss:         plan.StopLoss,
		TP1:              plan.TP1,
		TP2:              plan.TP2,
		TP3:              plan.TP3,
		Size:             plan.PositionSize,
		RemainingSize:    plan.PositionSize,
		BestPriceReached: plan.EntryPrice,
		OpenedAt:         time.Now().UTC(),
	}

	m.mu.Lock()
	m.trades[trade.ID] = trade
	m.mu.Unlock()

	m.logger.Info().
		Str("trade_id", trade.ID).
		Str("direction", string(trade.Direction)).
		Float64("entry", trade.EntryPrice).
		Float64("stop", trade.StopLoss).
		Float64("size", trade.Size).
		Msg("trade opened")
	return trade, nil
}

// OnBar advances every active trade against the new bar and returns trades
// that closed this cycle.
func (m *Manager) OnBar(ctx context.Context, bar market.Bar, state structure.State, atr float64) []ClosedTrade {
	m.mu.Lock()
	defer m.mu.Unlock()

	var closed []ClosedTrade
	for id, trade := range m.trades {
		if done, ok := m.advance(ctx, trade, bar, state, atr); ok {
			closed = append(closed, done)
			delete(m.trades, id)
		}
	}
	return closed
}

func (m *Manager) advance(ctx context.Context, t *ActiveTrade, bar market.Bar, state structure.State, atr float64) (ClosedTrade, bool) {
	m.updateBestPrice(t, bar)

	// Stop first: a bar that touches both stop and target resolves
	// conservatively as a stop-out.
	if m.stopTouched(t, bar) {
		return m.closeAll(ctx, t, t.StopLoss, CloseStopLoss, bar.Timestamp)
	}

	if done, ok := m.takeProfits(ctx, t, bar); ok {
		return done, true
	}
	m.moveBreakeven(ctx, t, bar)
	m.trail(ctx, t, bar, state, atr)
	m.pyramid(ctx, t, bar)
	return ClosedTrade{}, false
}

func (m *Manager) updateBestPrice(t *ActiveTrade, bar market.Bar) {
	if t.Long() {
		if bar.High > t.BestPriceReached {
			t.BestPriceReached = bar.High
		}
		return
	}
	if t.BestPriceReached == 0 || bar.Low < t.BestPriceReached {
		t.BestPriceReached = bar.Low
	}
}

func (m *Manager) stopTouched(t *ActiveTrade, bar market.Bar) bool {
	if t.Long() {
		return bar.Low <= t.StopLoss
	}
	return bar.High >= t.StopLoss
}

func (m *Manager) targetTouched(t *ActiveTrade, bar market.Bar, level float64) bool {
	if t.Long() {
		return bar.High >= level
	}
	return bar.Low <= level
}

func (m *Manager) takeProfits(ctx context.Context, t *ActiveTrade, bar market.Bar) (ClosedTrade, bool) {
	if !t.TP1Hit && m.targetTouched(t, bar, t.TP1) {
		size := t.Size * m.cfg.TP1ClosePercent / 100
		if size > t.RemainingSize {
			size = t.RemainingSize
		}
		if err := m.port.ClosePartial(ctx, t.ID, size, t.TP1); err != nil {
			m.logger.Warn().Err(err).Str("trade_id", t.ID).Msg("partial close at TP1 rejected, retrying next cycle")
			return ClosedTrade{}, false
		}
		t.RealizedPnL += t.pnlAt(t.TP1, size)
		t.RemainingSize -= size
		t.TP1Hit = true
		t.State = StatePartialTP1
		m.logger.Info().Str("trade_id", t.ID).Float64("price", t.TP1).Float64("size", size).Msg("TP1 partial filled")
		m.publish(events.EventPartialTP, map[string]interface{}{"trade_id": t.ID, "level": "tp1", "price": t.TP1, "size": size})
	}

	if t.TP1Hit && !t.TP2Hit && m.targetTouched(t, bar, t.TP2) {
		size := t.Size * m.cfg.TP2ClosePercent / 100
		if size > t.RemainingSize {
			size = t.RemainingSize
		}
		if err := m.port.ClosePartial(ctx, t.ID, size, t.TP2); err != nil {
			m.logger.Warn().Err(err).Str("trade_id", t.ID).Msg("partial close at TP2 rejected, retrying next cycle")
			return ClosedTrade{}, false
		}
		t.RealizedPnL += t.pnlAt(t.TP2, size)
		t.RemainingSize -= size
		t.TP2Hit = true
		t.State = StatePartialTP2
		m.logger.Info().Str("trade_id", t.ID).Float64("price", t.TP2).Float64("size", size).Msg("TP2 partial filled")
		m.publish(events.EventPartialTP, map[string]interface{}{"trade_id": t.ID, "level": "tp2", "price": t.TP2, "size": size})
	}

	if t.TP2Hit && m.targetTouched(t, bar, t.TP3) {
		return m.closeAll(ctx, t, t.TP3, CloseTP3, bar.Timestamp)
	}
	return ClosedTrade{}, false
}

// moveBreakeven migrates the stop to entry once, permanently.
func (m *Manager) moveBreakeven(ctx context.Context, t *ActiveTrade, bar market.Bar) {
	if t.BreakevenMoved || t.profitR(bar.Close) < m.cfg.BreakevenR {
		return
	}
	// Trailing may already hold the stop past entry; migrating back to
	// entry would widen risk, so the transition completes without a move.
	if (t.Long() && t.StopLoss >= t.EntryPrice) || (!t.Long() && t.StopLoss <= t.EntryPrice) {
		t.BreakevenMoved = true
		return
	}
	if err := m.modifyStopAll(ctx, t, t.EntryPrice); err != nil {
		m.logger.Warn().Err(err).Str("trade_id", t.ID).Msg("breakeven modify rejected, retrying next cycle")
		return
	}
	t.StopLoss = t.EntryPrice
	t.BreakevenMoved = true
	m.logger.Info().Str("trade_id", t.ID).Msg("stop moved to breakeven")
	m.publish(events.EventBreakevenMoved, map[string]interface{}{"trade_id": t.ID, "stop": t.StopLoss})
}

// trail follows price with the most recent favorable swing or an ATR
// distance, whichever sits closer to price. The stop only ever moves toward
// profit.
func (m *Manager) trail(ctx context.Context, t *ActiveTrade, bar market.Bar, state structure.State, atr float64) {
	if t.profitR(bar.Close) < m.cfg.TrailStartR {
		return
	}

	var candidate float64
	if t.Long() {
		candidate = bar.Close - m.cfg.TrailATRMultiple*atr
		if swing, ok := latestSwing(state.SwingLows); ok && swing > candidate && swing < bar.Close {
			candidate = swing
		}
		if candidate <= t.StopLoss {
			return
		}
	} else {
		candidate = bar.Close + m.cfg.TrailATRMultiple*atr
		if swing, ok := latestSwing(state.SwingHighs); ok && swing < candidate && swing > bar.Close {
			candidate = swing
		}
		if candidate >= t.StopLoss {
			return
		}
	}

	if err := m.modifyStopAll(ctx, t, candidate); err != nil {
		m.logger.Warn().Err(err).Str("trade_id", t.ID).Msg("trailing modify rejected, retrying next cycle")
		return
	}
	t.StopLoss = candidate
	m.logger.Debug().Str("trade_id", t.ID).Float64("stop", candidate).Msg("stop trailed")
	m.publish(events.EventStopTrailed, map[string]interface{}{"trade_id": t.ID, "stop": candidate})
}

// pyramid adds a reduced-size position at each R step while price has not
// given back more than the retrace limit from its best level.
func (m *Manager) pyramid(ctx context.Context, t *ActiveTrade, bar market.Bar) {
	if !m.cfg.PyramidEnabled || t.PyramidLevel >= m.cfg.PyramidMaxLevel {
		return
	}
	nextLevelR := m.cfg.PyramidStepR * float64(t.PyramidLevel+1)
	if t.profitR(bar.Close) < nextLevelR {
		return
	}

	riskDist := t.initialRiskDistance()
	var retrace float64
	if t.Long() {
		retrace = t.BestPriceReached - bar.Close
	} else {
		retrace = bar.Close - t.BestPriceReached
	}
	if retrace > m.cfg.MaxRetracePercent/100*riskDist {
		return
	}

	addSize := t.Size * m.cfg.PyramidSizeFraction
	plan := risk.Plan{
		ID:           t.ID,
		Direction:    t.Direction,
		EntryPrice:   bar.Close,
		StopLoss:     t.StopLoss,
		TP1:          t.TP1,
		TP2:          t.TP2,
		TP3:          t.TP3,
		PositionSize: addSize,
		PatternName:  t.PatternName,
	}
	legID, err := m.port.Open(ctx, plan)
	if err != nil {
		m.logger.Warn().Err(err).Str("trade_id", t.ID).Msg("pyramid add rejected, retrying next cycle")
		return
	}
	t.PyramidIDs = append(t.PyramidIDs, legID)

	total := t.RemainingSize + addSize
	t.AvgEntry = (t.AvgEntry*t.RemainingSize + bar.Close*addSize) / total
	t.RemainingSize = total
	t.PyramidLevel++
	m.logger.Info().Str("trade_id", t.ID).Int("level", t.PyramidLevel).Float64("size", addSize).Msg("pyramid added")
	m.publish(events.EventPyramidAdded, map[string]interface{}{"trade_id": t.ID, "level": t.PyramidLevel, "size": addSize, "price": bar.Close})
}

// modifyStopAll applies one stop level to the primary position and every
// pyramid leg. A rejected leg aborts the update so the whole transition
// retries next cycle.
func (m *Manager) modifyStopAll(ctx context.Context, t *ActiveTrade, newStop float64) error {
	if err := m.port.ModifyStop(ctx, t.ID, newStop); err != nil {
		return err
	}
	for _, id := range t.PyramidIDs {
		if err := m.port.ModifyStop(ctx, id, newStop); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) closeAll(ctx context.Context, t *ActiveTrade, price float64, reason CloseReason, at time.Time) (ClosedTrade, bool) {
	// Pyramid legs close first, each dropped from the trade as its close
	// confirms, so a mid-sequence rejection resumes with the remaining
	// legs next cycle instead of re-closing confirmed ones.
	for len(t.PyramidIDs) > 0 {
		legID := t.PyramidIDs[0]
		if err := m.port.CloseAll(ctx, legID, price); err != nil {
			m.logger.Warn().Err(err).Str("trade_id", t.ID).Str("leg_id", legID).Msg("pyramid leg close rejected, retrying next cycle")
			return ClosedTrade{}, false
		}
		t.PyramidIDs = t.PyramidIDs[1:]
	}
	if err := m.port.CloseAll(ctx, t.ID, price); err != nil {
		m.logger.Warn().Err(err).Str("trade_id", t.ID).Msg("close rejected, retrying next cycle")
		return ClosedTrade{}, false
	}

	t.RealizedPnL += t.pnlAt(price, t.RemainingSize)
	t.RemainingSize = 0
	t.State = StateClosed

	stopOut := reason == CloseStopLoss
	if stopOut {
		m.registerStopOut(t, at)
	}

	riskAmount := t.initialRiskDistance() * t.Size
	rMultiple := 0.0
	if riskAmount > 0 {
		rMultiple = t.RealizedPnL / riskAmount
	}

	m.logger.Info().
		Str("trade_id", t.ID).
		Str("reason", string(reason)).
		Float64("pnl", t.RealizedPnL).
		Float64("r_multiple", rMultiple).
		Msg("trade closed")

	return ClosedTrade{
		Trade:   *t,
		Reason:  reason,
		StopOut: stopOut,
		Result: performance.TradeResult{
			PatternName: t.PatternName,
			Regime:      t.Regime,
			Won:         t.RealizedPnL > 0,
			PnL:         t.RealizedPnL,
			RMultiple:   rMultiple,
			ClosedAt:    at,
		},
	}, true
}

func (m *Manager) registerStopOut(t *ActiveTrade, at time.Time) {
	key := reentryKey(t.PatternName, t.Direction)
	if _, exists := m.reentries[key]; !exists {
		m.reentries[key] = &reentryWindow{stoppedAt: at}
	}
}

// Reentry classifies a fresh signal for a pattern+direction pair. A pair
// with no stop-out window trades normally; an active window blocks until the
// minimum delay has passed and structure still backs the direction, then
// allows a limited number of tightened attempts until the window expires.
func (m *Manager) Reentry(pattern string, dir patterns.Direction, now time.Time, state structure.State) ReentryStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	key := reentryKey(pattern, dir)
	w, ok := m.reentries[key]
	if !ok {
		return ReentryNone
	}
	if now.Sub(w.stoppedAt) >= m.cfg.ReentryExpiry {
		return ReentryNone
	}
	if now.Sub(w.stoppedAt) < m.cfg.ReentryMinDelay {
		return ReentryBlocked
	}
	if w.attempts >= m.cfg.ReentryMaxAttempts {
		return ReentryBlocked
	}
	if !state.SupportsDirection(dir == patterns.DirectionBullish) {
		return ReentryBlocked
	}
	return ReentryAllowed
}

// ConsumeReentry counts a taken re-entry attempt.
func (m *Manager) ConsumeReentry(pattern string, dir patterns.Direction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.reentries[reentryKey(pattern, dir)]; ok {
		w.attempts++
	}
}

// PruneReentries drops expired windows.
func (m *Manager) PruneReentries(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, w := range m.reentries {
		if now.Sub(w.stoppedAt) >= m.cfg.ReentryExpiry {
			delete(m.reentries, key)
		}
	}
}

// OpenTrades returns copies of every active trade.
func (m *Manager) OpenTrades() []ActiveTrade {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ActiveTrade, 0, len(m.trades))
	for _, t := range m.trades {
		out = append(out, *t)
	}
	return out
}

// OpenExposure sums the remaining size across active trades, feeding the
// constructor's per-instrument cap.
func (m *Manager) OpenExposure() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := 0.0
	for _, t := range m.trades {
		total += t.RemainingSize
	}
	return total
}

// Restore reinstates trades loaded from the snapshot store on startup.
func (m *Manager) Restore(trades []ActiveTrade) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range trades {
		t := trades[i]
		if t.State != StateClosed {
			m.trades[t.ID] = &t
		}
	}
}

func latestSwing(swings []structure.SwingPoint) (float64, bool) {
	if len(swings) == 0 {
		return 0, false
	}
	return swings[len(swings)-1].Price, true
}
