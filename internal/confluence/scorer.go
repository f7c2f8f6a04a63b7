package confluence

import (
	"fx-signal-engine/internal/patterns"
	"fx-signal-engine/internal/structure"
)

// Decision is the scorer verdict for the current setup.
type Decision string

const (
	DecisionEnter Decision = "enter"
	DecisionWait  Decision = "wait"
	DecisionSkip  Decision = "skip"
)

// Factor identifies one confluence check. The list below is evaluated in
// order and each passing factor contributes exactly one point.
type Factor string

const (
	FactorRegimeTrending  Factor = "regime_trending"
	FactorBiasAlignment   Factor = "bias_alignment"
	FactorVolume          Factor = "volume_above_average"
	FactorSpread          Factor = "spread_acceptable"
	FactorSession         Factor = "session_tradeable"
	FactorNewsClear       Factor = "news_clear"
	FactorMTFAligned      Factor = "mtf_aligned"
	FactorCorrelation     Factor = "correlation_ok"
	FactorPatternStrength Factor = "pattern_strength"
	FactorHistory         Factor = "historical_edge"
)

// NumFactors is the score ceiling.
const NumFactors = 10

// minHistorySamples gates the historical-edge factor: below this many closed
// trades the pattern/regime pair has no statistical weight.
const minHistorySamples = 30

// ContextFlags are the read-only per-cycle inputs supplied by sibling
// analyzers outside this engine.
type ContextFlags struct {
	VolumeAboveAverage bool
	SpreadAcceptable   bool
	SessionTradeable   bool
	NewsClear          bool
	MTFAligned         bool
	CorrelationOK      bool
}

// Input is everything one evaluation needs. HistorySamples/HistoryAvgR come
// from the performance store for the candidate pattern+regime pair.
type Input struct {
	Trend           structure.Trend
	Direction       patterns.Direction
	PatternStrength int
	Flags           ContextFlags
	HistorySamples  int
	HistoryAvgR     float64
}

// Result itemizes the outcome: aggregate decision plus every passed and
// failed factor, so a skipped setup is fully explainable.
type Result struct {
	Score    int
	Required int
	Passed   []Factor
	Failed   []Factor
	Decision Decision
}

// Scorer evaluates the fixed factor list against a dynamic required
// threshold. The threshold adapts to recent results: raised after consecutive
// losses, lowered after consecutive wins, always clamped to [min, max].
type Scorer struct {
	required    int
	minRequired int
	maxRequired int
}

// NewScorer creates a scorer starting at baseRequired (default 4), clamped
// into the [3, 5] adaptive band.
func NewScorer(baseRequired int) *Scorer {
	s := &Scorer{required: baseRequired, minRequired: 3, maxRequired: 5}
	if s.required < s.minRequired || s.required > s.maxRequired {
		s.required = 4
	}
	return s
}

// Required returns the current adaptive threshold.
func (s *Scorer) Required() int {
	return s.required
}

// SetRequired pins the threshold inside the adaptive band. Used when
// restoring engine state.
func (s *Scorer) SetRequired(required int) {
	if required < s.minRequired {
		required = s.minRequired
	}
	if required > s.maxRequired {
		required = s.maxRequired
	}
	s.required = required
}

// Adapt moves the threshold after a closed trade: two or more consecutive
// losses tighten entry by one point, three or more consecutive wins loosen
// it by one. The result is clamped to the adaptive band.
func (s *Scorer) Adapt(winStreak, lossStreak int) {
	switch {
	case lossStreak >= 2:
		s.required++
	case winStreak >= 3:
		s.required--
	}
	if s.required < s.minRequired {
		s.required = s.minRequired
	}
	if s.required > s.maxRequired {
		s.required = s.maxRequired
	}
}

// Evaluate scores the input against the factor list. Decision rule: Enter at
// or above the threshold, Wait exactly one point short, Skip otherwise.
func (s *Scorer) Evaluate(in Input) Result {
	res := Result{Required: s.required}

	check := func(f Factor, ok bool) {
		if ok {
			res.Score++
			res.Passed = append(res.Passed, f)
		} else {
			res.Failed = append(res.Failed, f)
		}
	}

	aligned := (in.Trend == structure.TrendBullish && in.Direction == patterns.DirectionBullish) ||
		(in.Trend == structure.TrendBearish && in.Direction == patterns.DirectionBearish)

	check(FactorRegimeTrending, in.Trend != structure.TrendChoppy)
	check(FactorBiasAlignment, aligned)
	check(FactorVolume, in.Flags.VolumeAboveAverage)
	check(FactorSpread, in.Flags.SpreadAcceptable)
	check(FactorSession, in.Flags.SessionTradeable)
	check(FactorNewsClear, in.Flags.NewsClear)
	check(FactorMTFAligned, in.Flags.MTFAligned)
	check(FactorCorrelation, in.Flags.CorrelationOK)
	check(FactorPatternStrength, in.PatternStrength >= 4)
	check(FactorHistory, in.HistorySamples >= minHistorySamples && in.HistoryAvgR >= 0)

	switch {
	case res.Score >= s.required:
		res.Decision = DecisionEnter
	case res.Score == s.required-1:
		res.Decision = DecisionWait
	default:
		res.Decision = DecisionSkip
	}
	return res
}
