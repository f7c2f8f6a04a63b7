package smartmoney

import (
	"time"

	"fx-signal-engine/internal/market"
)

// Side tags which direction a zone favors.
type Side string

const (
	SideBullish Side = "bullish"
	SideBearish Side = "bearish"
)

// FairValueGap is a 3-bar price imbalance. Filled flips permanently to true
// the first time price re-enters the gap.
type FairValueGap struct {
	Top         float64
	Bottom      float64
	Side        Side
	CreatedAt   time.Time
	Filled      bool
	FilledAt    *time.Time
	FilledPrice *float64
}

// Contains reports whether price sits inside the gap bounds.
func (f *FairValueGap) Contains(price float64) bool {
	return price >= f.Bottom && price <= f.Top
}

// Size returns the gap height.
func (f *FairValueGap) Size() float64 {
	return f.Top - f.Bottom
}

// detectFVGs scans the window with a sliding 3-bar check: a bullish gap when
// the first bar's high sits below the third bar's low, mirrored for bearish.
// Gaps smaller than minGapPercent of price are ignored.
func detectFVGs(bars []market.Bar, minGapPercent float64) []*FairValueGap {
	if len(bars) < 3 {
		return nil
	}

	var gaps []*FairValueGap
	for i := 2; i < len(bars); i++ {
		first := bars[i-2]
		third := bars[i]

		if first.High < third.Low {
			gap := third.Low - first.High
			if gap/first.High*100 >= minGapPercent {
				gaps = append(gaps, &FairValueGap{
					Top:       third.Low,
					Bottom:    first.High,
					Side:      SideBullish,
					CreatedAt: third.Timestamp,
				})
			}
		}

		if first.Low > third.High {
			gap := first.Low - third.High
			if gap/first.Low*100 >= minGapPercent {
				gaps = append(gaps, &FairValueGap{
					Top:       first.Low,
					Bottom:    third.High,
					Side:      SideBearish,
					CreatedAt: third.Timestamp,
				})
			}
		}
	}
	return gaps
}

// updateFVGFill marks the gap filled if the bar's range overlaps it. The flag
// never reverts; repeated overlapping bars are no-ops.
func updateFVGFill(gap *FairValueGap, bar market.Bar) {
	if gap.Filled || !bar.Timestamp.After(gap.CreatedAt) {
		return
	}
	if bar.Low <= gap.Top && bar.High >= gap.Bottom {
		gap.Filled = true
		ts := bar.Timestamp
		gap.FilledAt = &ts
		price := bar.Close
		gap.FilledPrice = &price
	}
}
