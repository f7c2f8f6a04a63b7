package lifecycle

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"fx-signal-engine/internal/risk"
)

// PaperPort is a simulated execution port: every instruction is accepted and
// logged, fills happen at the requested price. It is the default port when no
// broker adapter is wired.
type PaperPort struct {
	logger zerolog.Logger
}

// NewPaperPort creates a simulated port.
func NewPaperPort(logger zerolog.Logger) *PaperPort {
	return &PaperPort{
		logger: logger.With().Str("component", "PaperPort").Logger(),
	}
}

// Open accepts the plan and assigns a trade ID.
func (p *PaperPort) Open(_ context.Context, plan risk.Plan) (string, error) {
	id := uuid.New().String()
	p.logger.Info().
		Str("trade_id", id).
		Str("direction", string(plan.Direction)).
		Float64("entry", plan.EntryPrice).
		Float64("stop", plan.StopLoss).
		Float64("size", plan.PositionSize).
		Msg("paper trade opened")
	return id, nil
}

// ModifyStop accepts the new stop level.
func (p *PaperPort) ModifyStop(_ context.Context, tradeID string, newStop float64) error {
	p.logger.Info().Str("trade_id", tradeID).Float64("stop", newStop).Msg("paper stop moved")
	return nil
}

// ClosePartial accepts the partial close at the requested price.
func (p *PaperPort) ClosePartial(_ context.Context, tradeID string, size, price float64) error {
	p.logger.Info().
		Str("trade_id", tradeID).
		Float64("size", size).
		Float64("price", price).
		Msg("paper partial close")
	return nil
}

// CloseAll accepts the full close at the requested price.
func (p *PaperPort) CloseAll(_ context.Context, tradeID string, price float64) error {
	p.logger.Info().Str("trade_id", tradeID).Float64("price", price).Msg("paper trade closed")
	return nil
}
