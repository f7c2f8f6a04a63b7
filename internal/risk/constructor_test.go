package risk

import (
	"math"
	"testing"
	"time"

	"fx-signal-engine/internal/market"
	"fx-signal-engine/internal/patterns"
	"fx-signal-engine/internal/smartmoney"
	"fx-signal-engine/internal/structure"
)

// flatBars produces bars with a constant 10-pip true range, giving an ATR of
// 0.0010 for any period.
func flatBars(n int, price float64) []market.Bar {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]market.Bar, 0, n)
	for i := 0; i < n; i++ {
		bars = append(bars, market.Bar{
			Open: price, High: price + 0.0005, Low: price - 0.0005, Close: price,
			Volume: 100, Timestamp: start.Add(time.Duration(i) * time.Minute),
		})
	}
	return bars
}

func mustConstructor(t *testing.T, cfg Config) *Constructor {
	t.Helper()
	tc, err := NewConstructor(cfg)
	if err != nil {
		t.Fatalf("NewConstructor: %v", err)
	}
	return tc
}

func longInput() BuildInput {
	return BuildInput{
		Direction:   patterns.DirectionBullish,
		PatternName: "BullishEngulfing",
		Entry:       1.0855,
		Bars:        flatBars(20, 1.0855),
		Balance:     10000,
		Score:       4,
		Required:    4,
	}
}

func TestValidateRejectsNegativeRisk(t *testing.T) {
	if _, err := NewConstructor(Config{RiskBase: -0.5}); err == nil {
		t.Error("negative risk percent must be rejected at initialization")
	}
	if _, err := NewConstructor(Config{TP1MinR: 2, TP2MinR: 1}); err == nil {
		t.Error("descending TP minimums must be rejected at initialization")
	}
}

func TestInsufficientBarsNoPlan(t *testing.T) {
	tc := mustConstructor(t, Config{})
	in := longInput()
	in.Bars = flatBars(5, 1.0855)

	if _, err := tc.Build(in); err != ErrInsufficientData {
		t.Errorf("expected ErrInsufficientData, got %v", err)
	}
}

func TestStructureStopFromOrderBlock(t *testing.T) {
	tc := mustConstructor(t, Config{})
	in := longInput()
	in.Zones = smartmoney.Snapshot{
		OrderBlocks: []smartmoney.OrderBlock{
			{Top: 1.0850, Bottom: 1.0840, Side: smartmoney.SideBullish},
		},
	}

	plan, err := tc.Build(in)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if plan.StopMethod != StopStructure {
		t.Errorf("expected structure stop, got %s", plan.StopMethod)
	}
	if plan.StopLoss != 1.0840 {
		t.Errorf("stop must sit at the block's lower bound: got %v", plan.StopLoss)
	}
}

func TestWideStructureStopFallsBackToVolatility(t *testing.T) {
	tc := mustConstructor(t, Config{})
	in := longInput()
	// Boundary 100 pips away exceeds 3x the 15-pip volatility distance.
	in.Zones = smartmoney.Snapshot{
		OrderBlocks: []smartmoney.OrderBlock{
			{Top: 1.0770, Bottom: 1.0755, Side: smartmoney.SideBullish},
		},
	}

	plan, err := tc.Build(in)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if plan.StopMethod != StopVolatility {
		t.Errorf("pathologically wide structure stop must fall back, got %s", plan.StopMethod)
	}
	want := in.Entry - 1.5*0.0010
	if math.Abs(plan.StopLoss-want) > 1e-9 {
		t.Errorf("volatility stop: expected %v, got %v", want, plan.StopLoss)
	}
}

func TestVolatilityStopWidensPastSwing(t *testing.T) {
	tc := mustConstructor(t, Config{})
	in := longInput()
	// Swing low just below the raw ATR stop; stop must clear it.
	in.Swings = []structure.SwingPoint{{Price: 1.0838, IsHigh: false}}

	plan, err := tc.Build(in)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if plan.StopLoss >= 1.0838 {
		t.Errorf("stop %v must be widened below the swing low 1.0838", plan.StopLoss)
	}
}

func TestTPMinimumsAlwaysHold(t *testing.T) {
	tc := mustConstructor(t, Config{})
	in := longInput()
	// Opposing levels too close to clear their minimum R: all discarded.
	in.Zones = smartmoney.Snapshot{
		LiquidityZones: []smartmoney.LiquidityZone{
			{Price: 1.0856, IsHigh: true},
			{Price: 1.0857, IsHigh: true},
		},
	}

	plan, err := tc.Build(in)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	stopDistance := in.Entry - plan.StopLoss
	r1 := (plan.TP1 - in.Entry) / stopDistance
	r2 := (plan.TP2 - in.Entry) / stopDistance
	r3 := (plan.TP3 - in.Entry) / stopDistance

	if r1 < 1.5-1e-9 || r2 < 2.5-1e-9 || r3 < 4-1e-9 {
		t.Errorf("fallback targets must hold minimum R: got %v / %v / %v", r1, r2, r3)
	}
	if plan.TP1 >= plan.TP2 || plan.TP2 >= plan.TP3 {
		t.Errorf("targets must be strictly staged: %v %v %v", plan.TP1, plan.TP2, plan.TP3)
	}
}

func TestStructureTargetUsedWhenQualifying(t *testing.T) {
	tc := mustConstructor(t, Config{})
	in := longInput()
	// Stop: volatility 15 pips. A liquidity high 30 pips up is exactly 2R.
	in.Zones = smartmoney.Snapshot{
		LiquidityZones: []smartmoney.LiquidityZone{
			{Price: 1.0885, IsHigh: true},
		},
	}

	plan, err := tc.Build(in)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if plan.TP1 != 1.0885 {
		t.Errorf("qualifying structure target must become TP1, got %v", plan.TP1)
	}
}

func TestRiskTiers(t *testing.T) {
	tc := mustConstructor(t, Config{})
	tests := []struct {
		score    int
		expected float64
	}{
		{4, 0.5},
		{5, 1.0},
		{6, 1.5},
		{7, 1.5},
	}
	for _, tt := range tests {
		in := longInput()
		in.Score = tt.score
		plan, err := tc.Build(in)
		if err != nil {
			t.Fatalf("Build score=%d: %v", tt.score, err)
		}
		if plan.RiskPercent != tt.expected {
			t.Errorf("score %d: expected risk %v%%, got %v%%", tt.score, tt.expected, plan.RiskPercent)
		}
	}
}

func TestPositionSizeFlooredAndCapped(t *testing.T) {
	tc := mustConstructor(t, Config{MaxPositionSize: 1000})
	in := longInput()

	plan, err := tc.Build(in)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if plan.PositionSize != 1000 {
		t.Errorf("uncapped size would exceed 1000 units, expected cap, got %v", plan.PositionSize)
	}

	// Exposure cap leaves only part of the budget.
	tc = mustConstructor(t, Config{MaxExposure: 500})
	in.OpenExposure = 400
	plan, err = tc.Build(in)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if plan.PositionSize > 100 {
		t.Errorf("size must respect remaining exposure 100, got %v", plan.PositionSize)
	}

	in.OpenExposure = 500
	if _, err := tc.Build(in); err != ErrNoSize {
		t.Errorf("exhausted exposure: expected ErrNoSize, got %v", err)
	}
}

func TestReentryTightensStop(t *testing.T) {
	tc := mustConstructor(t, Config{})
	base := longInput()
	normal, err := tc.Build(base)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	tightened := base
	tightened.TightenStop = 0.75
	plan, err := tc.Build(tightened)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	normalDist := base.Entry - normal.StopLoss
	tightDist := base.Entry - plan.StopLoss
	if math.Abs(tightDist-0.75*normalDist) > 1e-9 {
		t.Errorf("tightened stop distance: expected %v, got %v", 0.75*normalDist, tightDist)
	}
}
