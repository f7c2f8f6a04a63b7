package smartmoney

import (
	"time"

	"fx-signal-engine/internal/market"
)

// OrderBlock is the last opposite-direction bar before an impulse move,
// tracked as a future support/resistance zone. TestCount increments each time
// price re-enters the zone; once it exceeds the configured maximum the block
// is invalidated permanently.
type OrderBlock struct {
	Top         float64
	Bottom      float64
	Side        Side
	CreatedAt   time.Time
	TestCount   int
	Invalidated bool
}

// Contains reports whether price sits inside the zone bounds.
func (ob *OrderBlock) Contains(price float64) bool {
	return price >= ob.Bottom && price <= ob.Top
}

// Active reports whether the block can still act as a zone.
func (ob *OrderBlock) Active() bool {
	return !ob.Invalidated
}

// detectOrderBlocks scans for opposite-direction bars followed by an impulse
// whose close-to-close magnitude within the next impulseBars bars reaches the
// threshold. The threshold is the larger of an absolute floor and an ATR
// multiple, so quiet and volatile regimes both get sane impulses.
func detectOrderBlocks(bars []market.Bar, impulseBars int, minMove, atrMult, atr float64) []*OrderBlock {
	if len(bars) < impulseBars+1 {
		return nil
	}

	threshold := minMove
	if atrMult*atr > threshold {
		threshold = atrMult * atr
	}
	if threshold <= 0 {
		return nil
	}

	var blocks []*OrderBlock
	for i := 0; i < len(bars)-impulseBars; i++ {
		candidate := bars[i]

		if candidate.IsBearish() {
			maxUp := 0.0
			for j := i + 1; j <= i+impulseBars; j++ {
				if up := bars[j].Close - candidate.Close; up > maxUp {
					maxUp = up
				}
			}
			if maxUp >= threshold {
				blocks = append(blocks, &OrderBlock{
					Top:       candidate.High,
					Bottom:    candidate.Low,
					Side:      SideBullish,
					CreatedAt: candidate.Timestamp,
				})
			}
		}

		if candidate.IsBullish() {
			maxDown := 0.0
			for j := i + 1; j <= i+impulseBars; j++ {
				if down := candidate.Close - bars[j].Close; down > maxDown {
					maxDown = down
				}
			}
			if maxDown >= threshold {
				blocks = append(blocks, &OrderBlock{
					Top:       candidate.High,
					Bottom:    candidate.Low,
					Side:      SideBearish,
					CreatedAt: candidate.Timestamp,
				})
			}
		}
	}
	return blocks
}

// updateOrderBlockTest increments TestCount when the bar's range re-enters
// the zone and invalidates the block once the count exceeds maxTests.
// Invalidation never reverses.
func updateOrderBlockTest(ob *OrderBlock, bar market.Bar, maxTests int) {
	if ob.Invalidated || !bar.Timestamp.After(ob.CreatedAt) {
		return
	}
	if bar.Low <= ob.Top && bar.High >= ob.Bottom {
		ob.TestCount++
		if ob.TestCount > maxTests {
			ob.Invalidated = true
		}
	}
}
