package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"fx-signal-engine/internal/confluence"
	"fx-signal-engine/internal/events"
	"fx-signal-engine/internal/lifecycle"
	"fx-signal-engine/internal/market"
	"fx-signal-engine/internal/patterns"
	"fx-signal-engine/internal/performance"
	"fx-signal-engine/internal/risk"
	"fx-signal-engine/internal/smartmoney"
	"fx-signal-engine/internal/structure"
)

// ContextProvider supplies the per-cycle flags owned by sibling analyzers
// outside this engine: volume, spread, session, news, multi-timeframe, and
// correlation checks.
type ContextProvider interface {
	Flags(ctx context.Context, symbol string) confluence.ContextFlags
}

// StaticContext is a fixed-flag provider, used in tests and as the default
// when no sibling analyzers are wired.
type StaticContext struct {
	F confluence.ContextFlags
}

// Flags returns the fixed flag set.
func (s StaticContext) Flags(context.Context, string) confluence.ContextFlags {
	return s.F
}

// Config assembles the engine for one instrument.
type Config struct {
	Symbol             string
	BufferCapacity     int     // default 500
	SwingLookback      int     // default 5
	MinPatternStrength int     // default 2
	BaseConfluence     int     // starting adaptive threshold (default 4)
	ATRPeriod          int     // default 14
	StartingBalance    float64 // account currency

	ReentryTightenStop     float64 // stop fraction on re-entries (default 0.75)
	ReentryExtraConfluence int     // extra points demanded on re-entries (default 1)

	SmartMoney smartmoney.Config
	Risk       risk.Config
	Lifecycle  lifecycle.Config
}

// Validate rejects configurations the engine cannot run with.
func (c Config) Validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if c.StartingBalance <= 0 {
		return fmt.Errorf("starting balance must be positive")
	}
	if c.ReentryTightenStop < 0 || c.ReentryTightenStop >= 1 {
		return fmt.Errorf("re-entry stop fraction must be in [0,1)")
	}
	if err := c.Risk.Validate(); err != nil {
		return err
	}
	return c.Lifecycle.Validate()
}

// Engine runs one evaluation cycle per finalized bar for a single
// instrument. All detectors run synchronously inside OnBar; the mutex only
// guards concurrent Status reads from the API.
type Engine struct {
	cfg    Config
	logger zerolog.Logger

	buffer      *market.BarBuffer
	analyzer    *structure.Analyzer
	detector    *patterns.Detector
	smartMoney  *smartmoney.Detector
	scorer      *confluence.Scorer
	constructor *risk.Constructor
	trades      *lifecycle.Manager

	store     performance.Store
	window    *performance.Window
	snapshots *lifecycle.SnapshotStore
	provider  ContextProvider
	bus       *events.EventBus

	mu         sync.Mutex
	balance    float64
	state      structure.State
	lastZones  smartmoney.Snapshot
	lastSignal *patterns.Signal
	lastResult *confluence.Result
}

// Deps are the collaborators an engine instance needs. Snapshots and Bus may
// be nil; Store defaults to the in-memory implementation.
type Deps struct {
	Port      lifecycle.ExecutionPort
	Store     performance.Store
	Snapshots *lifecycle.SnapshotStore
	Provider  ContextProvider
	Bus       *events.EventBus
	Logger    zerolog.Logger
}

// New validates the config and assembles the per-instrument engine.
func New(cfg Config, deps Deps) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}
	if cfg.BufferCapacity <= 0 {
		cfg.BufferCapacity = 500
	}
	if cfg.SwingLookback <= 0 {
		cfg.SwingLookback = 5
	}
	if cfg.MinPatternStrength <= 0 {
		cfg.MinPatternStrength = 2
	}
	if cfg.BaseConfluence <= 0 {
		cfg.BaseConfluence = 4
	}
	if cfg.ATRPeriod <= 0 {
		cfg.ATRPeriod = 14
	}
	if cfg.ReentryTightenStop <= 0 {
		cfg.ReentryTightenStop = 0.75
	}
	if cfg.ReentryExtraConfluence <= 0 {
		cfg.ReentryExtraConfluence = 1
	}
	if deps.Store == nil {
		deps.Store = performance.NewMemoryStore()
	}
	if deps.Provider == nil {
		deps.Provider = StaticContext{}
	}
	if deps.Bus == nil {
		deps.Bus = events.NewEventBus()
	}

	constructor, err := risk.NewConstructor(cfg.Risk)
	if err != nil {
		return nil, err
	}
	trades, err := lifecycle.NewManager(cfg.Lifecycle, deps.Port, deps.Logger)
	if err != nil {
		return nil, err
	}
	trades.PublishTo(deps.Bus, cfg.Symbol)

	return &Engine{
		cfg:         cfg,
		logger:      deps.Logger.With().Str("component", "Engine").Str("symbol", cfg.Symbol).Logger(),
		buffer:      market.NewBarBuffer(cfg.BufferCapacity),
		analyzer:    structure.NewAnalyzer(cfg.SwingLookback),
		detector:    patterns.NewDetector(cfg.MinPatternStrength),
		smartMoney:  smartmoney.NewDetector(cfg.SmartMoney),
		scorer:      confluence.NewScorer(cfg.BaseConfluence),
		constructor: constructor,
		trades:      trades,
		store:       deps.Store,
		window:      performance.NewWindow(50),
		snapshots:   deps.Snapshots,
		provider:    deps.Provider,
		bus:         deps.Bus,
		balance:     cfg.StartingBalance,
	}, nil
}

// Restore reloads persisted active trades before the first bar.
func (e *Engine) Restore(ctx context.Context) error {
	if e.snapshots == nil {
		return nil
	}
	trades, err := e.snapshots.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("restoring trade snapshots: %w", err)
	}
	e.trades.Restore(trades)
	if len(trades) > 0 {
		e.logger.Info().Int("count", len(trades)).Msg("restored active trades")
	}
	return nil
}

// OnBar runs one evaluation cycle against a finalized bar. Stale bars are
// rejected and logged, never processed. A cycle that cannot produce a signal
// degrades to no action, not an error.
func (e *Engine) OnBar(ctx context.Context, bar market.Bar) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.buffer.Append(bar); err != nil {
		if errors.Is(err, market.ErrStaleBar) {
			e.logger.Warn().Time("bar_time", bar.Timestamp).Msg("stale bar ignored")
			e.bus.Publish(events.Event{
				Type:   events.EventBarRejected,
				Symbol: e.cfg.Symbol,
				Data:   map[string]interface{}{"bar_time": bar.Timestamp},
			})
		}
		return
	}

	bars := e.buffer.All()
	atr := market.CalculateATR(bars, e.cfg.ATRPeriod)

	state, structEvent := e.analyzer.Update(bars)
	e.state = state
	if structEvent.Type != structure.EventNone {
		e.bus.Publish(events.Event{
			Type:   events.EventStructureBreak,
			Symbol: e.cfg.Symbol,
			Data: map[string]interface{}{
				"event": string(structEvent.Type),
				"trend": string(structEvent.Trend),
				"price": structEvent.Price,
			},
		})
	}

	swings := append(append([]structure.SwingPoint{}, state.SwingHighs...), state.SwingLows...)
	e.lastZones = e.smartMoney.Update(bars, swings)

	e.manageTrades(ctx, bar, state, atr)
	e.trades.PruneReentries(bar.Timestamp)
	e.evaluateEntry(ctx, bar, bars, state, atr)
}

// manageTrades advances open positions and folds closures back into the
// performance feedback loop.
func (e *Engine) manageTrades(ctx context.Context, bar market.Bar, state structure.State, atr float64) {
	closed := e.trades.OnBar(ctx, bar, state, atr)
	for _, done := range closed {
		e.balance += done.Result.PnL
		if err := e.store.Add(ctx, done.Result); err != nil {
			e.logger.Error().Err(err).Msg("failed to persist trade result")
		}
		e.window.Add(done.Result)
		e.scorer.Adapt(e.window.Streaks())

		if e.snapshots != nil {
			e.snapshots.Delete(ctx, done.Trade.ID)
		}
		e.bus.PublishTradeClosed(e.cfg.Symbol, done.Trade.ID, string(done.Reason), done.Result.PnL, done.Result.RMultiple)
	}

	if e.snapshots != nil {
		for _, t := range e.trades.OpenTrades() {
			if err := e.snapshots.Save(ctx, t); err != nil {
				e.logger.Warn().Err(err).Str("trade_id", t.ID).Msg("failed to snapshot trade")
			}
		}
	}
}

// evaluateEntry runs detection, scoring, and construction for a possible
// new position.
func (e *Engine) evaluateEntry(ctx context.Context, bar market.Bar, bars []market.Bar, state structure.State, atr float64) {
	signal := e.detector.Detect(bars)
	e.lastSignal = signal
	if signal == nil || signal.Direction == patterns.DirectionNeutral {
		return
	}

	if len(e.trades.OpenTrades()) > 0 {
		// Adds to a running position go through pyramiding, not new entries.
		return
	}

	reentry := e.trades.Reentry(signal.Name, signal.Direction, bar.Timestamp, state)
	if reentry == lifecycle.ReentryBlocked {
		e.skip(signal, "re-entry window blocked")
		return
	}

	regime := string(state.Trend)
	record, _, err := e.store.Get(ctx, signal.Name, regime)
	if err != nil {
		e.logger.Warn().Err(err).Msg("performance lookup failed, scoring without history")
	}

	flags := e.provider.Flags(ctx, e.cfg.Symbol)
	result := e.scorer.Evaluate(confluence.Input{
		Trend:           state.Trend,
		Direction:       signal.Direction,
		PatternStrength: signal.Strength,
		Flags:           flags,
		HistorySamples:  record.TotalTrades,
		HistoryAvgR:     record.AvgRMultiple,
	})
	e.lastResult = &result
	e.bus.PublishSignal(e.cfg.Symbol, signal.Name, string(signal.Direction), signal.Strength, result.Score, result.Required)

	required := result.Required
	if reentry == lifecycle.ReentryAllowed {
		required += e.cfg.ReentryExtraConfluence
	}

	if result.Decision != confluence.DecisionEnter || result.Score < required {
		e.skipScored(signal, result)
		return
	}

	in := risk.BuildInput{
		Direction:    signal.Direction,
		PatternName:  signal.Name,
		Entry:        bar.Close,
		Bars:         bars,
		Zones:        e.lastZones,
		Swings:       append(append([]structure.SwingPoint{}, state.SwingHighs...), state.SwingLows...),
		Balance:      e.balance,
		Score:        result.Score,
		Required:     result.Required,
		OpenExposure: e.trades.OpenExposure(),
	}
	if reentry == lifecycle.ReentryAllowed {
		in.TightenStop = e.cfg.ReentryTightenStop
	}

	plan, err := e.constructor.Build(in)
	if err != nil {
		e.skip(signal, fmt.Sprintf("plan construction: %v", err))
		return
	}

	trade, err := e.trades.Open(ctx, *plan, regime)
	if err != nil {
		// Port failure: nothing was applied; the setup re-evaluates next
		// cycle if it still holds.
		e.bus.PublishError(e.cfg.Symbol, "execution_port", "entry rejected", err)
		return
	}

	if reentry == lifecycle.ReentryAllowed {
		e.trades.ConsumeReentry(signal.Name, signal.Direction)
		e.bus.Publish(events.Event{
			Type:   events.EventReentryTaken,
			Symbol: e.cfg.Symbol,
			Data:   map[string]interface{}{"trade_id": trade.ID, "pattern": signal.Name},
		})
	}
	if e.snapshots != nil {
		if err := e.snapshots.Save(ctx, *trade); err != nil {
			e.logger.Warn().Err(err).Str("trade_id", trade.ID).Msg("failed to snapshot trade")
		}
	}
	e.bus.PublishTradeOpened(e.cfg.Symbol, trade.ID, string(trade.Direction), trade.EntryPrice, trade.StopLoss, trade.Size)
}

func (e *Engine) skip(signal *patterns.Signal, reason string) {
	e.logger.Debug().Str("pattern", signal.Name).Str("reason", reason).Msg("setup skipped")
	e.bus.Publish(events.Event{
		Type:   events.EventSetupSkipped,
		Symbol: e.cfg.Symbol,
		Data:   map[string]interface{}{"pattern": signal.Name, "reason": reason},
	})
}

func (e *Engine) skipScored(signal *patterns.Signal, result confluence.Result) {
	failed := make([]string, 0, len(result.Failed))
	for _, f := range result.Failed {
		failed = append(failed, string(f))
	}
	e.logger.Debug().
		Str("pattern", signal.Name).
		Int("score", result.Score).
		Int("required", result.Required).
		Strs("failed_factors", failed).
		Str("decision", string(result.Decision)).
		Msg("setup below threshold")
	e.bus.Publish(events.Event{
		Type:   events.EventSetupSkipped,
		Symbol: e.cfg.Symbol,
		Data: map[string]interface{}{
			"pattern":  signal.Name,
			"score":    result.Score,
			"required": result.Required,
			"decision": string(result.Decision),
			"failed":   failed,
		},
	})
}

// Status is a read-only snapshot for the API.
type Status struct {
	Symbol             string                  `json:"symbol"`
	Bars               int                     `json:"bars"`
	Balance            float64                 `json:"balance"`
	Trend              structure.Trend         `json:"trend"`
	LastEvent          structure.EventType     `json:"last_event"`
	RequiredConfluence int                     `json:"required_confluence"`
	RecentWinRate      float64                 `json:"recent_win_rate"`
	RecentAvgR         float64                 `json:"recent_avg_r"`
	LastSignal         *patterns.Signal        `json:"last_signal,omitempty"`
	LastConfluence     *confluence.Result      `json:"last_confluence,omitempty"`
	OpenTrades         []lifecycle.ActiveTrade `json:"open_trades"`
	Zones              smartmoney.Snapshot     `json:"zones"`
}

// Status returns the current engine snapshot.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		Symbol:             e.cfg.Symbol,
		Bars:               e.buffer.Len(),
		Balance:            e.balance,
		Trend:              e.state.Trend,
		LastEvent:          e.state.LastEvent,
		RequiredConfluence: e.scorer.Required(),
		RecentWinRate:      e.window.WinRate(),
		RecentAvgR:         e.window.AvgR(),
		LastSignal:         e.lastSignal,
		LastConfluence:     e.lastResult,
		OpenTrades:         e.trades.OpenTrades(),
		Zones:              e.lastZones,
	}
}

// Symbol returns the instrument this engine owns.
func (e *Engine) Symbol() string {
	return e.cfg.Symbol
}

// OpenTrades exposes active trades for the API.
func (e *Engine) OpenTrades() []lifecycle.ActiveTrade {
	return e.trades.OpenTrades()
}
