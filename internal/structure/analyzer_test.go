package structure

import (
	"testing"
	"time"

	"fx-signal-engine/internal/market"
)

// zigzag builds bars whose highs/lows track the given pivot path, one bar per
// value, spaced a minute apart.
func zigzag(values []float64) []market.Bar {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]market.Bar, 0, len(values))
	for i, v := range values {
		bars = append(bars, market.Bar{
			Open:      v,
			High:      v + 0.001,
			Low:       v - 0.001,
			Close:     v,
			Volume:    100,
			Timestamp: start.Add(time.Duration(i) * time.Minute),
		})
	}
	return bars
}

// Rising zigzag: swing highs at 1.02 and 1.03, swing lows at 1.005 and 1.015.
var bullishPath = []float64{1.00, 1.01, 1.02, 1.01, 1.005, 1.015, 1.03, 1.02, 1.015, 1.025, 1.028}

func TestFindSwingPoints(t *testing.T) {
	bars := zigzag(bullishPath)

	highs := FindSwingHighs(bars, 2)
	if len(highs) != 2 {
		t.Fatalf("expected 2 swing highs, got %d", len(highs))
	}
	if highs[0].BarIndex != 2 || highs[1].BarIndex != 6 {
		t.Errorf("swing high indexes: got %d, %d", highs[0].BarIndex, highs[1].BarIndex)
	}

	lows := FindSwingLows(bars, 2)
	if len(lows) != 2 {
		t.Fatalf("expected 2 swing lows, got %d", len(lows))
	}
	if lows[0].BarIndex != 4 || lows[1].BarIndex != 8 {
		t.Errorf("swing low indexes: got %d, %d", lows[0].BarIndex, lows[1].BarIndex)
	}
}

func TestTrendClassificationBullish(t *testing.T) {
	a := NewAnalyzer(2)
	state, _ := a.Update(zigzag(bullishPath))

	if state.Trend != TrendBullish {
		t.Errorf("HH+HL sequence: expected bullish, got %s", state.Trend)
	}
	if state.LastHigherHigh != 1.031 {
		t.Errorf("expected lastHigherHigh 1.031, got %v", state.LastHigherHigh)
	}
}

func TestTrendClassificationBearish(t *testing.T) {
	path := []float64{1.10, 1.09, 1.08, 1.09, 1.095, 1.085, 1.07, 1.08, 1.085, 1.075, 1.065}
	a := NewAnalyzer(2)
	state, _ := a.Update(zigzag(path))

	if state.Trend != TrendBearish {
		t.Errorf("LH+LL sequence: expected bearish, got %s", state.Trend)
	}
}

func TestInsufficientBarsStaysChoppy(t *testing.T) {
	a := NewAnalyzer(5)
	state, event := a.Update(zigzag([]float64{1.0, 1.1, 1.0}))

	if state.Trend != TrendChoppy {
		t.Errorf("expected choppy, got %s", state.Trend)
	}
	if event.Type != EventNone {
		t.Errorf("expected no event, got %s", event.Type)
	}
}

func TestBOSOnContinuation(t *testing.T) {
	a := NewAnalyzer(2)
	bars := zigzag(bullishPath)
	a.Update(bars)

	// Close above the last swing high (1.031) continues the bullish leg.
	bars = append(bars, zigzag([]float64{1.04})...)
	bars[len(bars)-1].Timestamp = bars[len(bars)-2].Timestamp.Add(time.Minute)

	state, event := a.Update(bars)
	if event.Type != EventBOS {
		t.Fatalf("expected BOS, got %s", event.Type)
	}
	if event.Trend != TrendBullish || state.Trend != TrendBullish {
		t.Errorf("BOS must keep trend bullish, got event=%s state=%s", event.Trend, state.Trend)
	}

	// Re-running on the same window must not emit the same break again.
	_, repeat := a.Update(bars)
	if repeat.Type != EventNone {
		t.Errorf("repeated evaluation re-emitted %s", repeat.Type)
	}
}

func TestCHoCHFlipsTrend(t *testing.T) {
	a := NewAnalyzer(2)
	bars := zigzag(bullishPath)
	a.Update(bars)

	// Close below the last swing low (1.014) breaks the bullish leg.
	bars = append(bars, zigzag([]float64{1.00})...)
	bars[len(bars)-1].Timestamp = bars[len(bars)-2].Timestamp.Add(time.Minute)

	state, event := a.Update(bars)
	if event.Type != EventCHoCH {
		t.Fatalf("expected CHoCH, got %s", event.Type)
	}
	if state.Trend != TrendBearish {
		t.Errorf("CHoCH must flip trend to bearish, got %s", state.Trend)
	}
	if !state.SupportsDirection(false) || state.SupportsDirection(true) {
		t.Error("post-CHoCH structure must support shorts only")
	}
}
