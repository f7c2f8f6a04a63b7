package lifecycle

import (
	"context"
	"time"

	"fx-signal-engine/internal/patterns"
	"fx-signal-engine/internal/risk"
)

// TradeState is the lifecycle position of an active trade.
type TradeState string

const (
	StateOpen       TradeState = "open"
	StatePartialTP1 TradeState = "partial_tp1"
	StatePartialTP2 TradeState = "partial_tp2"
	StateClosed     TradeState = "closed"
)

// CloseReason records how a trade ended.
type CloseReason string

const (
	CloseStopLoss CloseReason = "stop_loss"
	CloseTP3      CloseReason = "tp3"
)

// ExecutionPort is the boundary to the order-placing collaborator. The
// engine only decides parameters; the port owns brokerage mechanics and
// reports an opaque trade identifier on success.
type ExecutionPort interface {
	Open(ctx context.Context, plan risk.Plan) (tradeID string, err error)
	ModifyStop(ctx context.Context, tradeID string, newStop float64) error
	ClosePartial(ctx context.Context, tradeID string, size, price float64) error
	CloseAll(ctx context.Context, tradeID string, price float64) error
}

// ActiveTrade is a confirmed, running position. Mutated only by the manager
// from the single evaluation cycle.
type ActiveTrade struct {
	ID          string             `json:"id"`
	Direction   patterns.Direction `json:"direction"`
	PatternName string             `json:"pattern_name"`
	Regime      string             `json:"regime"`
	State       TradeState         `json:"state"`

	EntryPrice  float64 `json:"entry_price"`
	AvgEntry    float64 `json:"avg_entry"` // shifts as pyramids fill
	InitialStop float64 `json:"initial_stop"`
	StopLoss    float64 `json:"stop_loss"`
	TP1         float64 `json:"tp1"`
	TP2         float64 `json:"tp2"`
	TP3         float64 `json:"tp3"`

	Size          float64 `json:"size"` // originally opened size
	RemainingSize float64 `json:"remaining_size"`
	RealizedPnL   float64 `json:"realized_pnl"`

	TP1Hit           bool     `json:"tp1_hit"`
	TP2Hit           bool     `json:"tp2_hit"`
	BreakevenMoved   bool     `json:"breakeven_moved"`
	PyramidLevel     int      `json:"pyramid_level"`
	PyramidIDs       []string `json:"pyramid_ids,omitempty"` // port IDs of pyramid legs
	BestPriceReached float64  `json:"best_price_reached"`

	OpenedAt time.Time `json:"opened_at"`
}

// Long reports whether the trade is on the bullish side.
func (t *ActiveTrade) Long() bool {
	return t.Direction == patterns.DirectionBullish
}

// initialRiskDistance is the original stop distance; the R unit for every
// later profit measure.
func (t *ActiveTrade) initialRiskDistance() float64 {
	if t.Long() {
		return t.EntryPrice - t.InitialStop
	}
	return t.InitialStop - t.EntryPrice
}

// profitR expresses price's distance from entry in R units, positive in the
// trade's favor.
func (t *ActiveTrade) profitR(price float64) float64 {
	risk := t.initialRiskDistance()
	if risk <= 0 {
		return 0
	}
	if t.Long() {
		return (price - t.EntryPrice) / risk
	}
	return (t.EntryPrice - price) / risk
}

// pnlAt values the remaining position against the rolling average entry.
func (t *ActiveTrade) pnlAt(price, size float64) float64 {
	if t.Long() {
		return (price - t.AvgEntry) * size
	}
	return (t.AvgEntry - price) * size
}

// reentryWindow tracks stop-out re-entry eligibility for one
// pattern+direction pair.
type reentryWindow struct {
	stoppedAt time.Time
	attempts  int
}

func reentryKey(pattern string, dir patterns.Direction) string {
	return pattern + "|" + string(dir)
}
