package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"fx-signal-engine/internal/events"
	"fx-signal-engine/internal/market"
	"fx-signal-engine/internal/patterns"
	"fx-signal-engine/internal/risk"
	"fx-signal-engine/internal/structure"
)

type fakePort struct {
	failOpen    bool
	failModify  bool
	failPartial bool
	failClose   bool

	opens    int
	modifies []float64
	partials []float64
	closes   int
}

func (f *fakePort) Open(_ context.Context, _ risk.Plan) (string, error) {
	if f.failOpen {
		return "", errors.New("port down")
	}
	f.opens++
	return "trade-1", nil
}

func (f *fakePort) ModifyStop(_ context.Context, _ string, newStop float64) error {
	if f.failModify {
		return errors.New("port down")
	}
	f.modifies = append(f.modifies, newStop)
	return nil
}

func (f *fakePort) ClosePartial(_ context.Context, _ string, size, _ float64) error {
	if f.failPartial {
		return errors.New("port down")
	}
	f.partials = append(f.partials, size)
	return nil
}

func (f *fakePort) CloseAll(_ context.Context, _ string, _ float64) error {
	if f.failClose {
		return errors.New("port down")
	}
	f.closes++
	return nil
}

var testBar = func(high, low, close float64) market.Bar {
	return market.Bar{Open: close, High: high, Low: low, Close: close, Volume: 100, Timestamp: time.Now().UTC()}
}

func testPlan() risk.Plan {
	return risk.Plan{
		ID:           "plan-1",
		Direction:    patterns.DirectionBullish,
		EntryPrice:   1.0850,
		StopLoss:     1.0840,
		TP1:          1.0865,
		TP2:          1.0875,
		TP3:          1.0890,
		PositionSize: 1000,
		PatternName:  "BullishEngulfing",
	}
}

func newManager(t *testing.T, cfg Config, port ExecutionPort) *Manager {
	t.Helper()
	m, err := NewManager(cfg, port, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func openTrade(t *testing.T, m *Manager) *ActiveTrade {
	t.Helper()
	trade, err := m.Open(context.Background(), testPlan(), "bullish")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return trade
}

func TestOpenPortFailureNoTrade(t *testing.T) {
	port := &fakePort{failOpen: true}
	m := newManager(t, Config{}, port)

	if _, err := m.Open(context.Background(), testPlan(), "bullish"); err == nil {
		t.Fatal("expected error from rejected entry")
	}
	if len(m.OpenTrades()) != 0 {
		t.Error("rejected entry must not register a trade")
	}
}

func TestPartialTP1(t *testing.T) {
	port := &fakePort{}
	m := newManager(t, Config{}, port)
	openTrade(t, m)

	closed := m.OnBar(context.Background(), testBar(1.0866, 1.0850, 1.0862), structure.State{}, 0.0010)
	if len(closed) != 0 {
		t.Fatal("TP1 alone must not close the trade")
	}

	trades := m.OpenTrades()
	if len(trades) != 1 {
		t.Fatal("trade must remain open")
	}
	tr := trades[0]
	if tr.State != StatePartialTP1 || !tr.TP1Hit {
		t.Errorf("expected partial_tp1 state, got %s", tr.State)
	}
	if tr.RemainingSize != 500 {
		t.Errorf("50%% close: expected remaining 500, got %v", tr.RemainingSize)
	}
	if len(port.partials) != 1 || port.partials[0] != 500 {
		t.Errorf("port must receive one partial of 500, got %v", port.partials)
	}
}

func TestFullLadderToTP3(t *testing.T) {
	port := &fakePort{}
	m := newManager(t, Config{}, port)
	openTrade(t, m)

	m.OnBar(context.Background(), testBar(1.0866, 1.0850, 1.0862), structure.State{}, 0.0010)
	closed := m.OnBar(context.Background(), testBar(1.0892, 1.0860, 1.0890), structure.State{}, 0.0010)

	if len(closed) != 1 {
		t.Fatalf("expected trade closed at TP3, got %d closures", len(closed))
	}
	done := closed[0]
	if done.Reason != CloseTP3 || done.StopOut {
		t.Errorf("expected TP3 close, got %s", done.Reason)
	}
	if !done.Result.Won || done.Result.RMultiple <= 0 {
		t.Errorf("ladder exit must be a win: won=%v r=%v", done.Result.Won, done.Result.RMultiple)
	}
	if len(m.OpenTrades()) != 0 {
		t.Error("closed trade must leave the table")
	}
}

func TestStopOutRecordsLossAndReentryWindow(t *testing.T) {
	port := &fakePort{}
	m := newManager(t, Config{ReentryMinDelay: time.Hour}, port)
	openTrade(t, m)

	closed := m.OnBar(context.Background(), testBar(1.0852, 1.0838, 1.0840), structure.State{}, 0.0010)
	if len(closed) != 1 {
		t.Fatalf("expected stop-out closure, got %d", len(closed))
	}
	done := closed[0]
	if !done.StopOut || done.Reason != CloseStopLoss {
		t.Errorf("expected stop-loss close, got %s", done.Reason)
	}
	if done.Result.Won || done.Result.RMultiple > -0.99 {
		t.Errorf("full stop-out should be about -1R, got %v", done.Result.RMultiple)
	}

	status := m.Reentry("BullishEngulfing", patterns.DirectionBullish, time.Now().UTC(), structure.State{Trend: structure.TrendBullish})
	if status != ReentryBlocked {
		t.Errorf("re-entry immediately after stop-out must be blocked, got %s", status)
	}
}

func TestBreakevenIsOneWay(t *testing.T) {
	port := &fakePort{}
	m := newManager(t, Config{}, port)
	openTrade(t, m)

	// +1.2R close triggers breakeven.
	m.OnBar(context.Background(), testBar(1.0863, 1.0851, 1.0862), structure.State{}, 0.0010)
	tr := m.OpenTrades()[0]
	if !tr.BreakevenMoved || tr.StopLoss != 1.0850 {
		t.Fatalf("expected stop at entry, got %v (moved=%v)", tr.StopLoss, tr.BreakevenMoved)
	}

	// Price fades but stays above the stop: flag and stop must hold.
	m.OnBar(context.Background(), testBar(1.0856, 1.0851, 1.0853), structure.State{}, 0.0010)
	tr = m.OpenTrades()[0]
	if !tr.BreakevenMoved || tr.StopLoss != 1.0850 {
		t.Error("breakeven migration must never revert")
	}
}

func TestPortFailureLeavesStateUnapplied(t *testing.T) {
	port := &fakePort{failModify: true}
	m := newManager(t, Config{}, port)
	openTrade(t, m)

	m.OnBar(context.Background(), testBar(1.0863, 1.0851, 1.0862), structure.State{}, 0.0010)
	tr := m.OpenTrades()[0]
	if tr.BreakevenMoved || tr.StopLoss != 1.0840 {
		t.Fatal("rejected modify must not mutate the trade")
	}

	// Port recovers; the still-holding trigger retries next cycle.
	port.failModify = false
	m.OnBar(context.Background(), testBar(1.0863, 1.0851, 1.0862), structure.State{}, 0.0010)
	tr = m.OpenTrades()[0]
	if !tr.BreakevenMoved || tr.StopLoss != 1.0850 {
		t.Error("recovered port must apply the pending breakeven")
	}
}

func TestTrailingStopOnlyTightens(t *testing.T) {
	port := &fakePort{}
	m := newManager(t, Config{}, port)
	openTrade(t, m)

	// +3.1R close with ATR 0.0010: trail to close - 1.5*ATR = 1.0866.
	m.OnBar(context.Background(), testBar(1.0882, 1.0862, 1.0881), structure.State{}, 0.0010)
	tr := m.OpenTrades()[0]
	if tr.StopLoss < 1.0866-1e-9 {
		t.Fatalf("expected trail to 1.0866, got %v", tr.StopLoss)
	}
	trailed := tr.StopLoss

	// Weaker close yields a lower candidate: stop must not loosen.
	m.OnBar(context.Background(), testBar(1.0876, 1.0869, 1.0872), structure.State{}, 0.0010)
	tr = m.OpenTrades()[0]
	if tr.StopLoss < trailed {
		t.Errorf("stop loosened from %v to %v", trailed, tr.StopLoss)
	}
}

func TestTrailingPrefersSwingLow(t *testing.T) {
	port := &fakePort{}
	m := newManager(t, Config{}, port)
	openTrade(t, m)

	state := structure.State{SwingLows: []structure.SwingPoint{{Price: 1.0870, IsHigh: false}}}
	m.OnBar(context.Background(), testBar(1.0882, 1.0872, 1.0881), state, 0.0010)
	tr := m.OpenTrades()[0]
	if tr.StopLoss != 1.0870 {
		t.Errorf("swing low inside the ATR distance must win: expected 1.0870, got %v", tr.StopLoss)
	}
}

func TestPyramidAddAndRetraceGuard(t *testing.T) {
	port := &fakePort{}
	plan := testPlan()
	m := newManager(t, Config{PyramidEnabled: true}, port)

	// Targets far away so partials stay out of the picture.
	plan.TP1, plan.TP2, plan.TP3 = 1.0900, 1.0920, 1.0950
	if _, err := m.Open(context.Background(), plan, "bullish"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	opensBefore := port.opens

	// +1.6R with no retrace: first pyramid level fills.
	m.OnBar(context.Background(), testBar(1.0866, 1.0856, 1.0866), structure.State{}, 0.0010)
	tr := m.OpenTrades()[0]
	if tr.PyramidLevel != 1 {
		t.Fatalf("expected pyramid level 1, got %d", tr.PyramidLevel)
	}
	if port.opens != opensBefore+1 {
		t.Errorf("expected one pyramid order, got %d", port.opens-opensBefore)
	}
	if tr.RemainingSize != 1500 {
		t.Errorf("expected 1500 units after the add, got %v", tr.RemainingSize)
	}

	// +3.1R but 9 pips off the best price: retrace 90% of stop distance
	// blocks the next level.
	m.OnBar(context.Background(), testBar(1.0890, 1.0878, 1.0881), structure.State{}, 0.0010)
	tr = m.OpenTrades()[0]
	if tr.PyramidLevel != 1 {
		t.Errorf("deep retrace must block pyramiding, got level %d", tr.PyramidLevel)
	}
}

func TestReentryWindowLifecycle(t *testing.T) {
	port := &fakePort{}
	m := newManager(t, Config{ReentryMinDelay: time.Hour, ReentryMaxAttempts: 2}, port)

	stopAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	m.registerStopOut(&ActiveTrade{PatternName: "Hammer", Direction: patterns.DirectionBullish}, stopAt)
	supportive := structure.State{Trend: structure.TrendBullish}

	if got := m.Reentry("Hammer", patterns.DirectionBullish, stopAt.Add(30*time.Minute), supportive); got != ReentryBlocked {
		t.Errorf("below minimum delay: expected blocked, got %s", got)
	}
	if got := m.Reentry("Hammer", patterns.DirectionBullish, stopAt.Add(2*time.Hour), supportive); got != ReentryAllowed {
		t.Errorf("after delay with supportive structure: expected allowed, got %s", got)
	}
	if got := m.Reentry("Hammer", patterns.DirectionBullish, stopAt.Add(2*time.Hour), structure.State{Trend: structure.TrendBearish}); got != ReentryBlocked {
		t.Errorf("unsupportive structure: expected blocked, got %s", got)
	}

	m.ConsumeReentry("Hammer", patterns.DirectionBullish)
	m.ConsumeReentry("Hammer", patterns.DirectionBullish)
	if got := m.Reentry("Hammer", patterns.DirectionBullish, stopAt.Add(3*time.Hour), supportive); got != ReentryBlocked {
		t.Errorf("attempts exhausted: expected blocked, got %s", got)
	}

	if got := m.Reentry("Hammer", patterns.DirectionBullish, stopAt.Add(25*time.Hour), supportive); got != ReentryNone {
		t.Errorf("expired window: expected none, got %s", got)
	}
	if got := m.Reentry("Doji", patterns.DirectionBullish, stopAt, supportive); got != ReentryNone {
		t.Errorf("unknown pair: expected none, got %s", got)
	}
}

func TestPublishToEmitsTransitionEvents(t *testing.T) {
	port := &fakePort{}
	m := newManager(t, Config{}, port)

	bus := events.NewEventBus()
	var mu sync.Mutex
	seen := make(map[events.EventType]int)
	bus.SubscribeAll(func(e events.Event) {
		mu.Lock()
		seen[e.Type]++
		mu.Unlock()
	})
	m.PublishTo(bus, "EURUSD")
	openTrade(t, m)

	// One bar takes the TP1 partial and moves the stop to breakeven.
	m.OnBar(context.Background(), testBar(1.0866, 1.0850, 1.0862), structure.State{}, 0.0010)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		done := seen[events.EventPartialTP] == 1 && seen[events.EventBreakevenMoved] == 1
		mu.Unlock()
		if done {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	mu.Lock()
	defer mu.Unlock()
	t.Fatalf("expected partial_tp and breakeven events, got %v", seen)
}

// ledgerPort hands out sequential IDs and records every command per ID, so
// tests can reconcile what was opened at the port against what was closed.
type ledgerPort struct {
	nextID   int
	opens    []string
	closes   []string
	modifies map[string][]float64
}

func (p *ledgerPort) Open(context.Context, risk.Plan) (string, error) {
	p.nextID++
	id := fmt.Sprintf("t-%d", p.nextID)
	p.opens = append(p.opens, id)
	return id, nil
}

func (p *ledgerPort) ModifyStop(_ context.Context, tradeID string, newStop float64) error {
	if p.modifies == nil {
		p.modifies = make(map[string][]float64)
	}
	p.modifies[tradeID] = append(p.modifies[tradeID], newStop)
	return nil
}

func (p *ledgerPort) ClosePartial(context.Context, string, float64, float64) error { return nil }

func (p *ledgerPort) CloseAll(_ context.Context, tradeID string, _ float64) error {
	p.closes = append(p.closes, tradeID)
	return nil
}

func TestPyramidLegsShareStopAndClose(t *testing.T) {
	port := &ledgerPort{}
	m := newManager(t, Config{PyramidEnabled: true}, port)

	plan := testPlan()
	plan.TP1, plan.TP2, plan.TP3 = 1.0900, 1.0920, 1.0950
	if _, err := m.Open(context.Background(), plan, "bullish"); err != nil {
		t.Fatalf("Open: %v", err)
	}

	// +1.6R fills the first pyramid level under its own port ID.
	m.OnBar(context.Background(), testBar(1.0866, 1.0856, 1.0866), structure.State{}, 0.0010)
	if len(port.opens) != 2 {
		t.Fatalf("expected primary + pyramid leg at the port, got %v", port.opens)
	}
	primary, leg := port.opens[0], port.opens[1]

	// +2.4R trails the stop: both port positions must receive it.
	m.OnBar(context.Background(), testBar(1.0874, 1.0860, 1.0874), structure.State{}, 0.0010)
	primaryMods := port.modifies[primary]
	if len(primaryMods) == 0 {
		t.Fatal("expected a trailing stop modification on the primary")
	}
	trailed := primaryMods[len(primaryMods)-1]
	if legMods := port.modifies[leg]; len(legMods) != 1 || legMods[0] != trailed {
		t.Errorf("pyramid leg stop = %v, want [%v]", legMods, trailed)
	}

	// Stop-out: every position opened at the port must be closed.
	m.OnBar(context.Background(), testBar(1.0862, 1.0848, 1.0850), structure.State{}, 0.0010)
	if len(m.OpenTrades()) != 0 {
		t.Fatal("trade must be fully closed after the stop-out")
	}
	closed := make(map[string]bool, len(port.closes))
	for _, id := range port.closes {
		closed[id] = true
	}
	for _, id := range port.opens {
		if !closed[id] {
			t.Errorf("position %s opened at the port but never closed", id)
		}
	}
}

func TestBreakevenNeverLoosensTrailedStop(t *testing.T) {
	port := &fakePort{}
	m := newManager(t, Config{BreakevenR: 3, TrailStartR: 2}, port)

	plan := testPlan()
	plan.TP1, plan.TP2, plan.TP3 = 1.0900, 1.0920, 1.0950
	if _, err := m.Open(context.Background(), plan, "bullish"); err != nil {
		t.Fatalf("Open: %v", err)
	}

	// +2R trails the stop above entry before the breakeven threshold.
	m.OnBar(context.Background(), testBar(1.0870, 1.0860, 1.0870), structure.State{}, 0.0002)
	tr := m.OpenTrades()[0]
	trailed := tr.StopLoss
	if trailed <= tr.EntryPrice {
		t.Fatalf("expected the trailed stop above entry, got %v", trailed)
	}

	// +3R makes breakeven due; migrating back to entry would widen risk.
	m.OnBar(context.Background(), testBar(1.0880, 1.0872, 1.0880), structure.State{}, 0.0002)
	tr = m.OpenTrades()[0]
	if !tr.BreakevenMoved {
		t.Error("breakeven transition must complete without a stop move")
	}
	if tr.StopLoss < trailed {
		t.Errorf("stop loosened from %v to %v", trailed, tr.StopLoss)
	}
	for _, s := range port.modifies {
		if s == tr.EntryPrice {
			t.Errorf("port received a stop back at entry: %v", port.modifies)
		}
	}
}
