package smartmoney

import (
	"time"

	"fx-signal-engine/internal/market"
	"fx-signal-engine/internal/structure"
)

// LiquidityZone is a price level with clustered prior swing extrema, presumed
// to hold resting stop orders. Swept flips permanently once price wicks
// through the level and closes back with sufficient rejection.
type LiquidityZone struct {
	Price      float64
	IsHigh     bool
	TouchCount int
	Swept      bool
	SweptAt    *time.Time
	CreatedAt  time.Time
	LastSeen   time.Time // refreshed while the cluster keeps re-forming
}

// clusterSwings groups swing points of one side whose prices lie within
// tolerancePercent of each other and returns a zone for every cluster holding
// at least two points. Zone price is the cluster mean.
func clusterSwings(swings []structure.SwingPoint, isHigh bool, tolerancePercent float64) []*LiquidityZone {
	var zones []*LiquidityZone
	used := make([]bool, len(swings))

	for i := 0; i < len(swings); i++ {
		if used[i] || swings[i].IsHigh != isHigh {
			continue
		}
		cluster := []float64{swings[i].Price}
		newest := swings[i].Timestamp
		used[i] = true
		for j := i + 1; j < len(swings); j++ {
			if used[j] || swings[j].IsHigh != isHigh {
				continue
			}
			diff := swings[j].Price - swings[i].Price
			if diff < 0 {
				diff = -diff
			}
			if diff/swings[i].Price*100 <= tolerancePercent {
				cluster = append(cluster, swings[j].Price)
				if swings[j].Timestamp.After(newest) {
					newest = swings[j].Timestamp
				}
				used[j] = true
			}
		}
		if len(cluster) < 2 {
			continue
		}
		sum := 0.0
		for _, p := range cluster {
			sum += p
		}
		zones = append(zones, &LiquidityZone{
			Price:      sum / float64(len(cluster)),
			IsHigh:     isHigh,
			TouchCount: len(cluster),
			CreatedAt:  newest,
			LastSeen:   newest,
		})
	}
	return zones
}

// updateSweep marks the zone swept when the bar wicks beyond the level and
// closes back on the origin side with rejection depth of at least half the
// bar's range. The flag never reverts.
func updateSweep(zone *LiquidityZone, bar market.Bar) {
	if zone.Swept {
		return
	}
	r := bar.Range()
	if r == 0 {
		return
	}

	if zone.IsHigh {
		if bar.High > zone.Price && bar.Close < zone.Price && (bar.High-bar.Close)/r >= 0.5 {
			zone.Swept = true
			ts := bar.Timestamp
			zone.SweptAt = &ts
		}
		return
	}
	if bar.Low < zone.Price && bar.Close > zone.Price && (bar.Close-bar.Low)/r >= 0.5 {
		zone.Swept = true
		ts := bar.Timestamp
		zone.SweptAt = &ts
	}
}
