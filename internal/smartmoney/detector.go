package smartmoney

import (
	"math"

	"fx-signal-engine/internal/market"
	"fx-signal-engine/internal/structure"
)

// Config tunes the four sub-detectors. Zero values are replaced with the
// defaults noted per field.
type Config struct {
	ImpulseBars             int     // bars an impulse may take (default 3)
	ImpulseATRMultiple      float64 // impulse threshold as ATR multiple (default 1.5)
	ImpulseMinMove          float64 // absolute impulse floor (default 0, ATR rules)
	MaxOrderBlockTests      int     // tests before invalidation (default 3)
	MinGapPercent           float64 // FVG floor as % of price (default 0.05)
	ClusterTolerancePercent float64 // liquidity cluster width in % (default 0.08)
	VolumeSpikeRatio        float64 // trap volume multiple (default 1.8)
	VolumePeriod            int     // trailing volume window (default 20)
	ATRPeriod               int     // ATR window (default 14)
}

func (c Config) withDefaults() Config {
	if c.ImpulseBars <= 0 {
		c.ImpulseBars = 3
	}
	if c.ImpulseATRMultiple <= 0 {
		c.ImpulseATRMultiple = 1.5
	}
	if c.MaxOrderBlockTests <= 0 {
		c.MaxOrderBlockTests = 3
	}
	if c.MinGapPercent <= 0 {
		c.MinGapPercent = 0.05
	}
	if c.ClusterTolerancePercent <= 0 {
		c.ClusterTolerancePercent = 0.08
	}
	if c.VolumeSpikeRatio <= 0 {
		c.VolumeSpikeRatio = 1.8
	}
	if c.VolumePeriod <= 0 {
		c.VolumePeriod = 20
	}
	if c.ATRPeriod <= 0 {
		c.ATRPeriod = 14
	}
	return c
}

// Snapshot is the detector output for one evaluation cycle. Zone slices are
// copies; mutating them does not touch detector state.
type Snapshot struct {
	OrderBlocks    []OrderBlock
	FairValueGaps  []FairValueGap
	LiquidityZones []LiquidityZone
	Trap           *RetailTrap
}

// Detector owns the persisted zone lists for one instrument. Sub-detectors
// are pure; the only state carried across cycles is the zones and their
// test/fill/sweep flags.
type Detector struct {
	cfg Config

	orderBlocks []*OrderBlock
	fvgs        []*FairValueGap
	liquidity   []*LiquidityZone
}

// NewDetector creates a detector with defaults applied to cfg.
func NewDetector(cfg Config) *Detector {
	return &Detector{cfg: cfg.withDefaults()}
}

// Update re-evaluates all sub-detectors against the current bar window and
// swing list, merges newly found zones into the persisted lists, advances
// test/fill/sweep flags against the latest bar, and returns a snapshot.
func (d *Detector) Update(bars []market.Bar, swings []structure.SwingPoint) Snapshot {
	if len(bars) == 0 {
		return d.snapshot(nil)
	}
	latest := bars[len(bars)-1]
	atr := market.CalculateATR(bars, d.cfg.ATRPeriod)

	d.mergeOrderBlocks(detectOrderBlocks(bars, d.cfg.ImpulseBars, d.cfg.ImpulseMinMove, d.cfg.ImpulseATRMultiple, atr))
	d.mergeFVGs(detectFVGs(bars, d.cfg.MinGapPercent))
	d.mergeLiquidity(clusterSwings(swings, true, d.cfg.ClusterTolerancePercent))
	d.mergeLiquidity(clusterSwings(swings, false, d.cfg.ClusterTolerancePercent))

	for _, ob := range d.orderBlocks {
		updateOrderBlockTest(ob, latest, d.cfg.MaxOrderBlockTests)
	}
	for _, gap := range d.fvgs {
		updateFVGFill(gap, latest)
	}
	for _, zone := range d.liquidity {
		updateSweep(zone, latest)
	}

	d.expire(bars[0])

	trap := detectRetailTrap(bars, d.liquidity, d.cfg.VolumeSpikeRatio, d.cfg.VolumePeriod)
	return d.snapshot(trap)
}

// mergeOrderBlocks adds blocks whose origin bar is not already tracked.
// Existing blocks keep their test/invalidation state.
func (d *Detector) mergeOrderBlocks(found []*OrderBlock) {
	for _, nb := range found {
		known := false
		for _, ob := range d.orderBlocks {
			if ob.CreatedAt.Equal(nb.CreatedAt) && ob.Side == nb.Side {
				known = true
				break
			}
		}
		if !known {
			d.orderBlocks = append(d.orderBlocks, nb)
		}
	}
}

func (d *Detector) mergeFVGs(found []*FairValueGap) {
	for _, ng := range found {
		known := false
		for _, gap := range d.fvgs {
			if gap.CreatedAt.Equal(ng.CreatedAt) && gap.Side == ng.Side {
				known = true
				break
			}
		}
		if !known {
			d.fvgs = append(d.fvgs, ng)
		}
	}
}

// mergeLiquidity matches clusters to known zones by side and proximity so
// sweep flags survive recomputation; unmatched clusters become new zones.
func (d *Detector) mergeLiquidity(found []*LiquidityZone) {
	for _, nz := range found {
		matched := false
		for _, zone := range d.liquidity {
			if zone.IsHigh != nz.IsHigh {
				continue
			}
			if math.Abs(zone.Price-nz.Price)/zone.Price*100 <= d.cfg.ClusterTolerancePercent {
				if !zone.Swept {
					zone.Price = nz.Price
					zone.TouchCount = nz.TouchCount
				}
				if nz.LastSeen.After(zone.LastSeen) {
					zone.LastSeen = nz.LastSeen
				}
				matched = true
				break
			}
		}
		if !matched {
			d.liquidity = append(d.liquidity, nz)
		}
	}
}

// expire drops order blocks and gaps created before the oldest retained bar,
// and liquidity zones whose backing swings have all aged out of the window.
// Dead zones (invalidated, filled, swept) are kept until they age out so
// their terminal flags stay observable.
func (d *Detector) expire(oldest market.Bar) {
	obs := d.orderBlocks[:0]
	for _, ob := range d.orderBlocks {
		if !ob.CreatedAt.Before(oldest.Timestamp) {
			obs = append(obs, ob)
		}
	}
	d.orderBlocks = obs

	gaps := d.fvgs[:0]
	for _, gap := range d.fvgs {
		if !gap.CreatedAt.Before(oldest.Timestamp) {
			gaps = append(gaps, gap)
		}
	}
	d.fvgs = gaps

	zones := d.liquidity[:0]
	for _, zone := range d.liquidity {
		if !zone.LastSeen.Before(oldest.Timestamp) {
			zones = append(zones, zone)
		}
	}
	d.liquidity = zones
}

func (d *Detector) snapshot(trap *RetailTrap) Snapshot {
	snap := Snapshot{
		OrderBlocks:    make([]OrderBlock, len(d.orderBlocks)),
		FairValueGaps:  make([]FairValueGap, len(d.fvgs)),
		LiquidityZones: make([]LiquidityZone, len(d.liquidity)),
		Trap:           trap,
	}
	for i, ob := range d.orderBlocks {
		snap.OrderBlocks[i] = *ob
	}
	for i, gap := range d.fvgs {
		snap.FairValueGaps[i] = *gap
	}
	for i, zone := range d.liquidity {
		snap.LiquidityZones[i] = *zone
	}
	return snap
}

// ActiveOrderBlocks returns untested-out blocks on the given side.
func (s Snapshot) ActiveOrderBlocks(side Side) []OrderBlock {
	var out []OrderBlock
	for _, ob := range s.OrderBlocks {
		if !ob.Invalidated && ob.Side == side {
			out = append(out, ob)
		}
	}
	return out
}

// UnfilledGaps returns open gaps on the given side.
func (s Snapshot) UnfilledGaps(side Side) []FairValueGap {
	var out []FairValueGap
	for _, gap := range s.FairValueGaps {
		if !gap.Filled && gap.Side == side {
			out = append(out, gap)
		}
	}
	return out
}

// UnsweptZones returns liquidity zones not yet swept, highs or lows.
func (s Snapshot) UnsweptZones(isHigh bool) []LiquidityZone {
	var out []LiquidityZone
	for _, zone := range s.LiquidityZones {
		if !zone.Swept && zone.IsHigh == isHigh {
			out = append(out, zone)
		}
	}
	return out
}
