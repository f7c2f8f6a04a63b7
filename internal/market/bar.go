package market

import (
	"math"
	"time"
)

// Bar is a single finalized OHLCV bar. Bars are immutable once appended to a
// buffer.
type Bar struct {
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
}

// Body returns the absolute open-close distance.
func (b Bar) Body() float64 {
	return math.Abs(b.Close - b.Open)
}

// Range returns the high-low distance.
func (b Bar) Range() float64 {
	return b.High - b.Low
}

// UpperShadow returns the wick above the body.
func (b Bar) UpperShadow() float64 {
	return b.High - math.Max(b.Open, b.Close)
}

// LowerShadow returns the wick below the body.
func (b Bar) LowerShadow() float64 {
	return math.Min(b.Open, b.Close) - b.Low
}

// Midpoint returns the middle of the bar's range.
func (b Bar) Midpoint() float64 {
	return (b.High + b.Low) / 2
}

// IsBullish reports whether the bar closed above its open.
func (b Bar) IsBullish() bool {
	return b.Close > b.Open
}

// IsBearish reports whether the bar closed below its open.
func (b Bar) IsBearish() bool {
	return b.Close < b.Open
}

// BodyTop returns the upper edge of the body.
func (b Bar) BodyTop() float64 {
	return math.Max(b.Open, b.Close)
}

// BodyBottom returns the lower edge of the body.
func (b Bar) BodyBottom() float64 {
	return math.Min(b.Open, b.Close)
}
