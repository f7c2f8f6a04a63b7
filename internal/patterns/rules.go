package patterns

import (
	"fx-signal-engine/internal/market"
)

// Direction tags which side a pattern favors.
type Direction string

const (
	DirectionBullish Direction = "bullish"
	DirectionBearish Direction = "bearish"
	DirectionNeutral Direction = "neutral"
)

// Shape predicates. Each takes the bars it needs, newest last, and reports
// whether the shape holds. Context (prior drift) is applied by the detector,
// not here.

// isHammerShape: small body at the top of the range with a long lower wick.
func isHammerShape(b market.Bar) bool {
	body := b.Body()
	if body == 0 || b.Range() == 0 {
		return false
	}
	return b.LowerShadow() >= 2*body && b.UpperShadow() <= 0.5*body
}

// isInvertedHammerShape: small body at the bottom with a long upper wick.
func isInvertedHammerShape(b market.Bar) bool {
	body := b.Body()
	if body == 0 || b.Range() == 0 {
		return false
	}
	return b.UpperShadow() >= 2*body && b.LowerShadow() <= 0.5*body
}

func isDoji(b market.Bar) bool {
	r := b.Range()
	return r > 0 && b.Body() <= 0.05*r
}

func isDragonflyDoji(b market.Bar) bool {
	r := b.Range()
	return isDoji(b) && b.LowerShadow() >= 0.6*r && b.UpperShadow() <= 0.1*r
}

func isGravestoneDoji(b market.Bar) bool {
	r := b.Range()
	return isDoji(b) && b.UpperShadow() >= 0.6*r && b.LowerShadow() <= 0.1*r
}

func isBullishEngulfing(prev, curr market.Bar) bool {
	return prev.IsBearish() && curr.IsBullish() &&
		curr.Open <= prev.Close && curr.Close >= prev.Open &&
		curr.Body() > prev.Body()
}

func isBearishEngulfing(prev, curr market.Bar) bool {
	return prev.IsBullish() && curr.IsBearish() &&
		curr.Open >= prev.Close && curr.Close <= prev.Open &&
		curr.Body() > prev.Body()
}

// isPiercing: bearish bar followed by a bullish bar opening below its low and
// closing above its midpoint without fully engulfing it.
func isPiercing(prev, curr market.Bar) bool {
	if !prev.IsBearish() || !curr.IsBullish() {
		return false
	}
	mid := (prev.Open + prev.Close) / 2
	return curr.Open < prev.Close && curr.Close > mid && curr.Close < prev.Open
}

func isDarkCloudCover(prev, curr market.Bar) bool {
	if !prev.IsBullish() || !curr.IsBearish() {
		return false
	}
	mid := (prev.Open + prev.Close) / 2
	return curr.Open > prev.Close && curr.Close < mid && curr.Close > prev.Open
}

func isBullishHarami(prev, curr market.Bar) bool {
	return prev.IsBearish() && curr.IsBullish() &&
		curr.BodyTop() <= prev.BodyTop() && curr.BodyBottom() >= prev.BodyBottom() &&
		curr.Body() < 0.6*prev.Body()
}

func isBearishHarami(prev, curr market.Bar) bool {
	return prev.IsBullish() && curr.IsBearish() &&
		curr.BodyTop() <= prev.BodyTop() && curr.BodyBottom() >= prev.BodyBottom() &&
		curr.Body() < 0.6*prev.Body()
}

// isMorningStar: strong bearish bar, indecision bar, then a bullish bar
// closing above the first bar's midpoint.
func isMorningStar(first, second, third market.Bar) bool {
	if !first.IsBearish() || !third.IsBullish() {
		return false
	}
	if first.Range() == 0 || first.Body() < 0.6*first.Range() {
		return false
	}
	if second.Range() > 0 && second.Body() > 0.3*second.Range() {
		return false
	}
	return third.Close > (first.Open+first.Close)/2
}

func isEveningStar(first, second, third market.Bar) bool {
	if !first.IsBullish() || !third.IsBearish() {
		return false
	}
	if first.Range() == 0 || first.Body() < 0.6*first.Range() {
		return false
	}
	if second.Range() > 0 && second.Body() > 0.3*second.Range() {
		return false
	}
	return third.Close < (first.Open+first.Close)/2
}

// isThreeWhiteSoldiers: three advancing bullish bars, each opening inside the
// prior body and closing at a new high.
func isThreeWhiteSoldiers(a, b, c market.Bar) bool {
	for _, bar := range []market.Bar{a, b, c} {
		if !bar.IsBullish() || bar.Range() == 0 || bar.Body() < 0.5*bar.Range() {
			return false
		}
	}
	return b.Open > a.Open && b.Open < a.Close && b.Close > a.Close &&
		c.Open > b.Open && c.Open < b.Close && c.Close > b.Close
}

func isThreeBlackCrows(a, b, c market.Bar) bool {
	for _, bar := range []market.Bar{a, b, c} {
		if !bar.IsBearish() || bar.Range() == 0 || bar.Body() < 0.5*bar.Range() {
			return false
		}
	}
	return b.Open < a.Open && b.Open > a.Close && b.Close < a.Close &&
		c.Open < b.Open && c.Open > b.Close && c.Close < b.Close
}

// Strength scoring. Every rule scores in [1,5]; the detector discards
// anything under its minimum.

func engulfingStrength(prev, curr market.Bar) int {
	strength := 3
	if prev.Body() > 0 && curr.Body() >= 1.5*prev.Body() {
		strength++
	}
	if closesNearExtreme(curr) {
		strength++
	}
	return strength
}

func starStrength(first, third market.Bar) int {
	strength := 4
	if (third.IsBullish() && third.Close > first.Open) ||
		(third.IsBearish() && third.Close < first.Open) {
		strength++
	}
	return strength
}

func soldiersStrength(a, b, c market.Bar) int {
	strength := 4
	if a.Body() >= 0.7*a.Range() && b.Body() >= 0.7*b.Range() && c.Body() >= 0.7*c.Range() {
		strength++
	}
	return strength
}

func wickRejectionStrength(b market.Bar) int {
	body := b.Body()
	if body == 0 {
		return 2
	}
	strength := 2
	shadow := b.LowerShadow()
	if b.UpperShadow() > shadow {
		shadow = b.UpperShadow()
	}
	if shadow >= 3*body {
		strength++
	}
	if closesNearExtreme(b) {
		strength++
	}
	return strength
}

func haramiStrength(prev market.Bar) int {
	if prev.Range() > 0 && prev.Body() >= 0.7*prev.Range() {
		return 3
	}
	return 2
}

// closesNearExtreme reports whether the bar closed in the outer 20% of its
// range on the side it moved toward.
func closesNearExtreme(b market.Bar) bool {
	r := b.Range()
	if r == 0 {
		return false
	}
	if b.IsBullish() {
		return (b.High-b.Close)/r <= 0.2
	}
	return (b.Close-b.Low)/r <= 0.2
}
