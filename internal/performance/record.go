package performance

import (
	"context"
	"time"
)

// Record aggregates closed-trade outcomes for one pattern+regime pair. Read
// by the confluence scorer to gate combinations with no demonstrated edge.
type Record struct {
	PatternName   string  `json:"pattern_name"`
	Regime        string  `json:"regime"`
	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	TotalPnL      float64 `json:"total_pnl"`
	TotalR        float64 `json:"total_r"`
	WinRate       float64 `json:"win_rate"`
	AvgRMultiple  float64 `json:"avg_r_multiple"`
}

// TradeResult is one closed trade's contribution to the stats.
type TradeResult struct {
	PatternName string
	Regime      string
	Won         bool
	PnL         float64
	RMultiple   float64
	ClosedAt    time.Time
}

// Store persists pattern+regime performance across sessions.
type Store interface {
	Get(ctx context.Context, pattern, regime string) (Record, bool, error)
	Add(ctx context.Context, result TradeResult) error
	All(ctx context.Context) ([]Record, error)
}

func (r *Record) apply(result TradeResult) {
	r.TotalTrades++
	if result.Won {
		r.WinningTrades++
	}
	r.TotalPnL += result.PnL
	r.TotalR += result.RMultiple
	r.recompute()
}

func (r *Record) recompute() {
	if r.TotalTrades > 0 {
		r.WinRate = float64(r.WinningTrades) / float64(r.TotalTrades)
		r.AvgRMultiple = r.TotalR / float64(r.TotalTrades)
	}
}
