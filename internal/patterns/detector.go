package patterns

import (
	"time"

	"fx-signal-engine/internal/market"
)

// Signal is a detected candlestick pattern on the most recent bars.
type Signal struct {
	Name        string
	Direction   Direction
	Strength    int // 1..5
	AnchorPrice float64
	BarIndex    int
	DetectedAt  time.Time
}

// Detector scans the latest bars against a fixed, priority-ordered rule list
// and returns the first match at or above the minimum strength. Ties between
// overlapping patterns are resolved by rule order, never by strength.
type Detector struct {
	minStrength int
	driftBars   int
}

// NewDetector creates a detector. minStrength below 1 defaults to 2.
func NewDetector(minStrength int) *Detector {
	if minStrength < 1 {
		minStrength = 2
	}
	return &Detector{minStrength: minStrength, driftBars: 5}
}

type rule struct {
	name   string
	bars   int
	detect func(w []market.Bar, falling bool) (Direction, int)
}

// Rule order is the documented tie-break: multi-bar reversals outrank
// single-bar shapes, and within a family the bullish form is listed first.
var ruleOrder = []rule{
	{"BullishEngulfing", 2, func(w []market.Bar, _ bool) (Direction, int) {
		if isBullishEngulfing(w[0], w[1]) {
			return DirectionBullish, engulfingStrength(w[0], w[1])
		}
		return DirectionNeutral, 0
	}},
	{"BearishEngulfing", 2, func(w []market.Bar, _ bool) (Direction, int) {
		if isBearishEngulfing(w[0], w[1]) {
			return DirectionBearish, engulfingStrength(w[0], w[1])
		}
		return DirectionNeutral, 0
	}},
	{"MorningStar", 3, func(w []market.Bar, _ bool) (Direction, int) {
		if isMorningStar(w[0], w[1], w[2]) {
			return DirectionBullish, starStrength(w[0], w[2])
		}
		return DirectionNeutral, 0
	}},
	{"EveningStar", 3, func(w []market.Bar, _ bool) (Direction, int) {
		if isEveningStar(w[0], w[1], w[2]) {
			return DirectionBearish, starStrength(w[0], w[2])
		}
		return DirectionNeutral, 0
	}},
	{"ThreeWhiteSoldiers", 3, func(w []market.Bar, _ bool) (Direction, int) {
		if isThreeWhiteSoldiers(w[0], w[1], w[2]) {
			return DirectionBullish, soldiersStrength(w[0], w[1], w[2])
		}
		return DirectionNeutral, 0
	}},
	{"ThreeBlackCrows", 3, func(w []market.Bar, _ bool) (Direction, int) {
		if isThreeBlackCrows(w[0], w[1], w[2]) {
			return DirectionBearish, soldiersStrength(w[0], w[1], w[2])
		}
		return DirectionNeutral, 0
	}},
	{"Hammer", 1, func(w []market.Bar, falling bool) (Direction, int) {
		if falling && isHammerShape(w[0]) {
			return DirectionBullish, wickRejectionStrength(w[0])
		}
		return DirectionNeutral, 0
	}},
	{"ShootingStar", 1, func(w []market.Bar, falling bool) (Direction, int) {
		if !falling && isInvertedHammerShape(w[0]) {
			return DirectionBearish, wickRejectionStrength(w[0])
		}
		return DirectionNeutral, 0
	}},
	{"InvertedHammer", 1, func(w []market.Bar, falling bool) (Direction, int) {
		if falling && isInvertedHammerShape(w[0]) {
			return DirectionBullish, wickRejectionStrength(w[0])
		}
		return DirectionNeutral, 0
	}},
	{"HangingMan", 1, func(w []market.Bar, falling bool) (Direction, int) {
		if !falling && isHammerShape(w[0]) {
			return DirectionBearish, wickRejectionStrength(w[0])
		}
		return DirectionNeutral, 0
	}},
	{"Piercing", 2, func(w []market.Bar, _ bool) (Direction, int) {
		if isPiercing(w[0], w[1]) {
			return DirectionBullish, 3
		}
		return DirectionNeutral, 0
	}},
	{"DarkCloudCover", 2, func(w []market.Bar, _ bool) (Direction, int) {
		if isDarkCloudCover(w[0], w[1]) {
			return DirectionBearish, 3
		}
		return DirectionNeutral, 0
	}},
	{"BullishHarami", 2, func(w []market.Bar, _ bool) (Direction, int) {
		if isBullishHarami(w[0], w[1]) {
			return DirectionBullish, haramiStrength(w[0])
		}
		return DirectionNeutral, 0
	}},
	{"BearishHarami", 2, func(w []market.Bar, _ bool) (Direction, int) {
		if isBearishHarami(w[0], w[1]) {
			return DirectionBearish, haramiStrength(w[0])
		}
		return DirectionNeutral, 0
	}},
	{"DragonflyDoji", 1, func(w []market.Bar, _ bool) (Direction, int) {
		if isDragonflyDoji(w[0]) {
			return DirectionBullish, 2
		}
		return DirectionNeutral, 0
	}},
	{"GravestoneDoji", 1, func(w []market.Bar, _ bool) (Direction, int) {
		if isGravestoneDoji(w[0]) {
			return DirectionBearish, 2
		}
		return DirectionNeutral, 0
	}},
	{"Doji", 1, func(w []market.Bar, _ bool) (Direction, int) {
		if isDoji(w[0]) {
			return DirectionNeutral, 1
		}
		return DirectionNeutral, 0
	}},
}

// Detect evaluates the rule list against the most recent bars and returns the
// first match with strength at or above the minimum, or nil when nothing
// qualifies. A rule needing more bars than available is skipped, so short
// windows degrade to "no signal" rather than failing.
func (d *Detector) Detect(bars []market.Bar) *Signal {
	if len(bars) == 0 {
		return nil
	}

	falling := d.recentDrift(bars) < 0
	latest := bars[len(bars)-1]

	for _, r := range ruleOrder {
		if len(bars) < r.bars {
			continue
		}
		window := bars[len(bars)-r.bars:]
		dir, strength := r.detect(window, falling)
		if strength < d.minStrength {
			continue
		}
		if strength > 5 {
			strength = 5
		}
		return &Signal{
			Name:        r.name,
			Direction:   dir,
			Strength:    strength,
			AnchorPrice: latest.Close,
			BarIndex:    len(bars) - 1,
			DetectedAt:  latest.Timestamp,
		}
	}
	return nil
}

// recentDrift measures the short-term close drift ahead of the latest bar,
// used to separate hammer from hanging man and their inverted forms.
func (d *Detector) recentDrift(bars []market.Bar) float64 {
	if len(bars) < 2 {
		return 0
	}
	lookback := d.driftBars
	if len(bars)-1 < lookback {
		lookback = len(bars) - 1
	}
	return bars[len(bars)-2].Close - bars[len(bars)-1-lookback].Close
}
