package risk

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/google/uuid"

	"fx-signal-engine/internal/market"
	"fx-signal-engine/internal/patterns"
	"fx-signal-engine/internal/smartmoney"
	"fx-signal-engine/internal/structure"
)

var (
	// ErrInsufficientData means the window cannot support a volatility
	// estimate; the cycle degrades to no signal.
	ErrInsufficientData = errors.New("not enough bars for volatility estimate")
	// ErrNoSize means risk sizing produced no tradable size.
	ErrNoSize = errors.New("position size below tradable granularity")
)

// StopMethod records how the stop-loss was derived.
type StopMethod string

const (
	StopStructure  StopMethod = "structure"
	StopVolatility StopMethod = "volatility"
)

// Plan is a fully specified trade handed to the execution port. Consumed
// once; ownership of the running position moves to the lifecycle manager.
type Plan struct {
	ID           string
	Direction    patterns.Direction
	EntryPrice   float64
	StopLoss     float64
	TP1          float64
	TP2          float64
	TP3          float64
	PositionSize float64
	RiskPercent  float64
	StopMethod   StopMethod
	PatternName  string
}

// Config tunes stop placement, target validation, and sizing. Validate
// rejects out-of-range values at initialization.
type Config struct {
	ATRPeriod          int     // volatility window (default 14)
	ATRStopMultiple    float64 // volatility stop distance in ATRs (default 1.5)
	MaxStopATRMultiple float64 // structure stop cap as multiple of the volatility distance (default 3)
	SwingBuffer        float64 // widening past a swing extremum in ATRs (default 0.1)

	TP1MinR float64 // default 1.5
	TP2MinR float64 // default 2.5
	TP3MinR float64 // default 4
	MaxR    float64 // structure targets beyond this are discarded (default 10)

	RiskBase float64 // percent at threshold score (default 0.5)
	RiskMid  float64 // percent one point above (default 1.0)
	RiskHigh float64 // percent two or more above (default 1.5)

	SizeGranularity float64 // tradable size step (default 0.01)
	MaxPositionSize float64 // per-trade exposure cap in units (default 0 = uncapped)
	MaxExposure     float64 // per-instrument cap across pyramids in units (default 0 = uncapped)
}

func (c Config) withDefaults() Config {
	if c.ATRPeriod <= 0 {
		c.ATRPeriod = 14
	}
	if c.ATRStopMultiple <= 0 {
		c.ATRStopMultiple = 1.5
	}
	if c.MaxStopATRMultiple <= 0 {
		c.MaxStopATRMultiple = 3
	}
	if c.SwingBuffer <= 0 {
		c.SwingBuffer = 0.1
	}
	if c.TP1MinR <= 0 {
		c.TP1MinR = 1.5
	}
	if c.TP2MinR <= 0 {
		c.TP2MinR = 2.5
	}
	if c.TP3MinR <= 0 {
		c.TP3MinR = 4
	}
	if c.MaxR <= 0 {
		c.MaxR = 10
	}
	if c.RiskBase <= 0 {
		c.RiskBase = 0.5
	}
	if c.RiskMid <= 0 {
		c.RiskMid = 1.0
	}
	if c.RiskHigh <= 0 {
		c.RiskHigh = 1.5
	}
	if c.SizeGranularity <= 0 {
		c.SizeGranularity = 0.01
	}
	return c
}

// Validate rejects configurations that cannot produce sane plans.
func (c Config) Validate() error {
	if c.RiskBase < 0 || c.RiskMid < 0 || c.RiskHigh < 0 {
		return fmt.Errorf("risk percent must not be negative")
	}
	if c.RiskHigh > 10 {
		return fmt.Errorf("risk percent %v exceeds 10%% hard limit", c.RiskHigh)
	}
	if c.TP1MinR < 0 || c.TP2MinR < c.TP1MinR || c.TP3MinR < c.TP2MinR {
		return fmt.Errorf("take-profit minimum R multiples must be non-negative and ascending")
	}
	if c.MaxR != 0 && c.MaxR < c.TP3MinR {
		return fmt.Errorf("maximum R %v below TP3 minimum %v", c.MaxR, c.TP3MinR)
	}
	return nil
}

// Constructor turns an enter decision into a Plan.
type Constructor struct {
	cfg Config
}

// NewConstructor validates the config and applies defaults.
func NewConstructor(cfg Config) (*Constructor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid risk config: %w", err)
	}
	return &Constructor{cfg: cfg.withDefaults()}, nil
}

// BuildInput carries everything a plan needs for one enter decision.
type BuildInput struct {
	Direction   patterns.Direction
	PatternName string
	Entry       float64
	Bars        []market.Bar
	Zones       smartmoney.Snapshot
	Swings      []structure.SwingPoint
	Balance     float64
	Score       int
	Required    int

	// OpenExposure is the size already committed to this instrument,
	// counted against MaxExposure.
	OpenExposure float64

	// TightenStop shrinks the stop distance to this fraction, used by
	// stop-out re-entries. Zero means no tightening.
	TightenStop float64
}

// Build computes stop, staged targets, and size. Returns ErrInsufficientData
// when volatility cannot be estimated and ErrNoSize when sizing rounds to
// zero; both degrade the cycle to no trade.
func (tc *Constructor) Build(in BuildInput) (*Plan, error) {
	atr := market.CalculateATR(in.Bars, tc.cfg.ATRPeriod)
	if atr <= 0 {
		return nil, ErrInsufficientData
	}
	long := in.Direction == patterns.DirectionBullish

	stop, method := tc.placeStop(in, atr, long)
	if in.TightenStop > 0 && in.TightenStop < 1 {
		if long {
			stop = in.Entry - (in.Entry-stop)*in.TightenStop
		} else {
			stop = in.Entry + (stop-in.Entry)*in.TightenStop
		}
	}
	stopDistance := math.Abs(in.Entry - stop)
	if stopDistance <= 0 {
		return nil, ErrInsufficientData
	}

	tp1 := tc.target(in, long, stopDistance, tc.cfg.TP1MinR, nil)
	tp2 := tc.target(in, long, stopDistance, tc.cfg.TP2MinR, &tp1)
	tp3 := tc.target(in, long, stopDistance, tc.cfg.TP3MinR, &tp2)

	riskPercent := tc.riskTier(in.Score, in.Required)
	size, err := tc.size(in.Balance, riskPercent, stopDistance, in.OpenExposure)
	if err != nil {
		return nil, err
	}

	return &Plan{
		ID:           uuid.New().String(),
		Direction:    in.Direction,
		EntryPrice:   in.Entry,
		StopLoss:     stop,
		TP1:          tp1,
		TP2:          tp2,
		TP3:          tp3,
		PositionSize: size,
		RiskPercent:  riskPercent,
		StopMethod:   method,
		PatternName:  in.PatternName,
	}, nil
}

// placeStop prefers the nearest structural invalidation boundary in the stop
// direction, capped at MaxStopATRMultiple times the volatility distance;
// otherwise it falls back to an ATR stop widened to clear the nearest swing
// extremum.
func (tc *Constructor) placeStop(in BuildInput, atr float64, long bool) (float64, StopMethod) {
	volDistance := tc.cfg.ATRStopMultiple * atr
	maxDistance := tc.cfg.MaxStopATRMultiple * volDistance

	if boundary, ok := tc.nearestBoundary(in, long); ok {
		distance := math.Abs(in.Entry - boundary)
		if distance > 0 && distance <= maxDistance {
			return boundary, StopStructure
		}
	}

	var stop float64
	if long {
		stop = in.Entry - volDistance
		if swing, ok := nearestSwing(in.Swings, in.Entry, false); ok {
			widened := swing - tc.cfg.SwingBuffer*atr
			if widened < stop && in.Entry-widened <= maxDistance {
				stop = widened
			}
		}
	} else {
		stop = in.Entry + volDistance
		if swing, ok := nearestSwing(in.Swings, in.Entry, true); ok {
			widened := swing + tc.cfg.SwingBuffer*atr
			if widened > stop && widened-in.Entry <= maxDistance {
				stop = widened
			}
		}
	}
	return stop, StopVolatility
}

// nearestBoundary returns the closest untested/unfilled/unswept zone edge on
// the stop side of entry.
func (tc *Constructor) nearestBoundary(in BuildInput, long bool) (float64, bool) {
	var candidates []float64

	if long {
		for _, ob := range in.Zones.ActiveOrderBlocks(smartmoney.SideBullish) {
			if ob.Bottom < in.Entry {
				candidates = append(candidates, ob.Bottom)
			}
		}
		for _, gap := range in.Zones.UnfilledGaps(smartmoney.SideBullish) {
			if gap.Bottom < in.Entry {
				candidates = append(candidates, gap.Bottom)
			}
		}
		for _, zone := range in.Zones.UnsweptZones(false) {
			if zone.Price < in.Entry {
				candidates = append(candidates, zone.Price)
			}
		}
		if len(candidates) == 0 {
			return 0, false
		}
		sort.Float64s(candidates)
		return candidates[len(candidates)-1], true // nearest below entry
	}

	for _, ob := range in.Zones.ActiveOrderBlocks(smartmoney.SideBearish) {
		if ob.Top > in.Entry {
			candidates = append(candidates, ob.Top)
		}
	}
	for _, gap := range in.Zones.UnfilledGaps(smartmoney.SideBearish) {
		if gap.Top > in.Entry {
			candidates = append(candidates, gap.Top)
		}
	}
	for _, zone := range in.Zones.UnsweptZones(true) {
		if zone.Price > in.Entry {
			candidates = append(candidates, zone.Price)
		}
	}
	if len(candidates) == 0 {
		return 0, false
	}
	sort.Float64s(candidates)
	return candidates[0], true // nearest above entry
}

// target picks the nearest opposing structure level beyond afterLevel that
// clears minR without exceeding MaxR; when none qualifies the fixed-R
// fallback at exactly minR is used.
func (tc *Constructor) target(in BuildInput, long bool, stopDistance, minR float64, afterLevel *float64) float64 {
	floor := in.Entry
	if afterLevel != nil {
		floor = *afterLevel
	}

	var levels []float64
	if long {
		for _, ob := range in.Zones.ActiveOrderBlocks(smartmoney.SideBearish) {
			levels = append(levels, ob.Bottom)
		}
		for _, gap := range in.Zones.UnfilledGaps(smartmoney.SideBearish) {
			levels = append(levels, gap.Bottom)
		}
		for _, zone := range in.Zones.UnsweptZones(true) {
			levels = append(levels, zone.Price)
		}
		sort.Float64s(levels)
		for _, level := range levels {
			if level <= floor {
				continue
			}
			r := (level - in.Entry) / stopDistance
			if r >= minR && r <= tc.cfg.MaxR {
				return level
			}
		}
		return in.Entry + minR*stopDistance
	}

	for _, ob := range in.Zones.ActiveOrderBlocks(smartmoney.SideBullish) {
		levels = append(levels, ob.Top)
	}
	for _, gap := range in.Zones.UnfilledGaps(smartmoney.SideBullish) {
		levels = append(levels, gap.Top)
	}
	for _, zone := range in.Zones.UnsweptZones(false) {
		levels = append(levels, zone.Price)
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(levels)))
	for _, level := range levels {
		if level >= floor {
			continue
		}
		r := (in.Entry - level) / stopDistance
		if r >= minR && r <= tc.cfg.MaxR {
			return level
		}
	}
	return in.Entry - minR*stopDistance
}

// riskTier maps confluence margin over the threshold to a risk percent.
func (tc *Constructor) riskTier(score, required int) float64 {
	switch {
	case score >= required+2:
		return tc.cfg.RiskHigh
	case score == required+1:
		return tc.cfg.RiskMid
	default:
		return tc.cfg.RiskBase
	}
}

// size converts the risk budget into units, floored to the tradable
// granularity and capped by per-trade and per-instrument exposure limits.
func (tc *Constructor) size(balance, riskPercent, stopDistance, openExposure float64) (float64, error) {
	riskAmount := balance * riskPercent / 100
	if riskAmount <= 0 || stopDistance <= 0 {
		return 0, ErrNoSize
	}
	size := riskAmount / stopDistance
	size = math.Floor(size/tc.cfg.SizeGranularity) * tc.cfg.SizeGranularity

	// Caps are assumed granularity-aligned, so they apply after flooring.
	if tc.cfg.MaxPositionSize > 0 && size > tc.cfg.MaxPositionSize {
		size = tc.cfg.MaxPositionSize
	}
	if tc.cfg.MaxExposure > 0 {
		remaining := tc.cfg.MaxExposure - openExposure
		if remaining <= 0 {
			return 0, ErrNoSize
		}
		if size > remaining {
			size = remaining
		}
	}
	if size <= 0 {
		return 0, ErrNoSize
	}
	return size, nil
}

// nearestSwing returns the swing price closest to entry on the requested
// side: below entry for lows (isHigh false), above entry for highs.
func nearestSwing(swings []structure.SwingPoint, entry float64, isHigh bool) (float64, bool) {
	best := 0.0
	found := false
	for _, sp := range swings {
		if sp.IsHigh != isHigh {
			continue
		}
		if isHigh {
			if sp.Price > entry && (!found || sp.Price < best) {
				best = sp.Price
				found = true
			}
		} else {
			if sp.Price < entry && (!found || sp.Price > best) {
				best = sp.Price
				found = true
			}
		}
	}
	return best, found
}
