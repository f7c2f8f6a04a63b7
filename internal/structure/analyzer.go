package structure

import (
	"time"

	"fx-signal-engine/internal/market"
)

// Trend classifies the current market structure.
type Trend string

const (
	TrendBullish Trend = "bullish"
	TrendBearish Trend = "bearish"
	TrendChoppy  Trend = "choppy"
)

// EventType identifies a structure break.
type EventType string

const (
	EventNone  EventType = "none"
	EventBOS   EventType = "bos"   // continuation past the prior swing extremum
	EventCHoCH EventType = "choch" // break of the opposite swing extremum
)

// SwingPoint is a confirmed local extremum. Never mutated after detection; it
// expires only by falling out of the retained bar window.
type SwingPoint struct {
	Price     float64
	Timestamp time.Time
	IsHigh    bool
	BarIndex  int
}

// Event is emitted when price breaks a tracked swing level.
type Event struct {
	Type      EventType
	Trend     Trend // trend direction after the event
	Price     float64
	Timestamp time.Time
}

// State is the per-instrument structure snapshot, recomputed every bar close.
type State struct {
	Trend          Trend
	LastHigherHigh float64
	LastHigherLow  float64
	LastLowerHigh  float64
	LastLowerLow   float64
	LastEvent      EventType
	SwingHighs     []SwingPoint
	SwingLows      []SwingPoint
}

// Analyzer detects swing points and classifies trend from HH/HL vs LH/LL
// sequences. One analyzer per instrument/timeframe.
type Analyzer struct {
	lookback int
	state    State

	brokenHigh float64 // last swing high already consumed by a break event
	brokenLow  float64
}

// NewAnalyzer creates an analyzer with a symmetric swing lookback window
// (bars on each side of a candidate extremum).
func NewAnalyzer(lookback int) *Analyzer {
	if lookback <= 0 {
		lookback = 5
	}
	return &Analyzer{
		lookback: lookback,
		state:    State{Trend: TrendChoppy, LastEvent: EventNone},
	}
}

// FindSwingHighs returns bars that are the highest of a symmetric window of
// lookback bars on each side.
func FindSwingHighs(bars []market.Bar, lookback int) []SwingPoint {
	var swings []SwingPoint
	for i := lookback; i < len(bars)-lookback; i++ {
		isSwing := true
		for j := i - lookback; j <= i+lookback; j++ {
			if j == i {
				continue
			}
			if bars[j].High >= bars[i].High {
				isSwing = false
				break
			}
		}
		if isSwing {
			swings = append(swings, SwingPoint{
				Price:     bars[i].High,
				Timestamp: bars[i].Timestamp,
				IsHigh:    true,
				BarIndex:  i,
			})
		}
	}
	return swings
}

// FindSwingLows returns bars that are the lowest of a symmetric window of
// lookback bars on each side.
func FindSwingLows(bars []market.Bar, lookback int) []SwingPoint {
	var swings []SwingPoint
	for i := lookback; i < len(bars)-lookback; i++ {
		isSwing := true
		for j := i - lookback; j <= i+lookback; j++ {
			if j == i {
				continue
			}
			if bars[j].Low <= bars[i].Low {
				isSwing = false
				break
			}
		}
		if isSwing {
			swings = append(swings, SwingPoint{
				Price:     bars[i].Low,
				Timestamp: bars[i].Timestamp,
				IsHigh:    false,
				BarIndex:  i,
			})
		}
	}
	return swings
}

// Update recomputes structure against the full bar window and returns the
// new state plus any break event detected on the latest bar. With fewer bars
// than one full swing window the state stays choppy and no event fires.
func (a *Analyzer) Update(bars []market.Bar) (State, Event) {
	none := Event{Type: EventNone, Trend: a.state.Trend}
	if len(bars) < a.lookback*2+1 {
		return a.state, none
	}

	highs := FindSwingHighs(bars, a.lookback)
	lows := FindSwingLows(bars, a.lookback)
	a.state.SwingHighs = highs
	a.state.SwingLows = lows

	if len(highs) < 2 || len(lows) < 2 {
		a.state.Trend = TrendChoppy
		return a.state, none
	}

	lastHigh, prevHigh := highs[len(highs)-1], highs[len(highs)-2]
	lastLow, prevLow := lows[len(lows)-1], lows[len(lows)-2]

	higherHigh := lastHigh.Price > prevHigh.Price
	higherLow := lastLow.Price > prevLow.Price
	lowerHigh := lastHigh.Price < prevHigh.Price
	lowerLow := lastLow.Price < prevLow.Price

	switch {
	case higherHigh && higherLow:
		a.state.Trend = TrendBullish
		a.state.LastHigherHigh = lastHigh.Price
		a.state.LastHigherLow = lastLow.Price
	case lowerHigh && lowerLow:
		a.state.Trend = TrendBearish
		a.state.LastLowerHigh = lastHigh.Price
		a.state.LastLowerLow = lastLow.Price
	default:
		// Mixed swings. A recent CHoCH flip stays authoritative until the
		// swing sequence itself confirms a direction.
		if a.state.LastEvent != EventCHoCH {
			a.state.Trend = TrendChoppy
		}
	}

	latest := bars[len(bars)-1]
	event := a.detectBreak(latest, lastHigh.Price, lastLow.Price)
	if event.Type != EventNone {
		a.state.LastEvent = event.Type
		a.state.Trend = event.Trend
	}
	return a.state, event
}

// State returns the current structure snapshot without recomputing.
func (a *Analyzer) State() State {
	return a.state
}

func (a *Analyzer) detectBreak(latest market.Bar, swingHigh, swingLow float64) Event {
	switch a.state.Trend {
	case TrendBullish:
		if latest.Close > swingHigh && swingHigh != a.brokenHigh {
			a.brokenHigh = swingHigh
			return Event{Type: EventBOS, Trend: TrendBullish, Price: swingHigh, Timestamp: latest.Timestamp}
		}
		if latest.Close < swingLow && swingLow != a.brokenLow {
			a.brokenLow = swingLow
			return Event{Type: EventCHoCH, Trend: TrendBearish, Price: swingLow, Timestamp: latest.Timestamp}
		}
	case TrendBearish:
		if latest.Close < swingLow && swingLow != a.brokenLow {
			a.brokenLow = swingLow
			return Event{Type: EventBOS, Trend: TrendBearish, Price: swingLow, Timestamp: latest.Timestamp}
		}
		if latest.Close > swingHigh && swingHigh != a.brokenHigh {
			a.brokenHigh = swingHigh
			return Event{Type: EventCHoCH, Trend: TrendBullish, Price: swingHigh, Timestamp: latest.Timestamp}
		}
	}
	return Event{Type: EventNone, Trend: a.state.Trend}
}

// SupportsDirection reports whether the current structure still favors the
// given side. Used by re-entry checks after a stop-out.
func (s State) SupportsDirection(bullish bool) bool {
	if bullish {
		return s.Trend == TrendBullish
	}
	return s.Trend == TrendBearish
}
