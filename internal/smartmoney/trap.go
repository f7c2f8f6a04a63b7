package smartmoney

import (
	"time"

	"fx-signal-engine/internal/market"
)

// RetailTrap is a failed breakout beyond a liquidity zone: one close beyond
// the level, the next close back inside, on volume well above average. The
// trap direction fades the failed breakout.
type RetailTrap struct {
	ZonePrice   float64
	Side        Side // side the trap favors
	VolumeRatio float64
	DetectedAt  time.Time
}

// detectRetailTrap checks the last two closed bars against the given zones.
// Requires the reversal bar's volume to reach volSpikeRatio times the
// trailing average over volumePeriod bars.
func detectRetailTrap(bars []market.Bar, zones []*LiquidityZone, volSpikeRatio float64, volumePeriod int) *RetailTrap {
	if len(bars) < 2 {
		return nil
	}
	ratio := market.VolumeRatio(bars, volumePeriod)
	if ratio < volSpikeRatio {
		return nil
	}

	breakout := bars[len(bars)-2]
	reversal := bars[len(bars)-1]

	for _, zone := range zones {
		if zone.IsHigh {
			// Failed push above resistance traps late longs; fade it short.
			if breakout.Close > zone.Price && reversal.Close < zone.Price {
				return &RetailTrap{
					ZonePrice:   zone.Price,
					Side:        SideBearish,
					VolumeRatio: ratio,
					DetectedAt:  reversal.Timestamp,
				}
			}
			continue
		}
		if breakout.Close < zone.Price && reversal.Close > zone.Price {
			return &RetailTrap{
				ZonePrice:   zone.Price,
				Side:        SideBullish,
				VolumeRatio: ratio,
				DetectedAt:  reversal.Timestamp,
			}
		}
	}
	return nil
}
