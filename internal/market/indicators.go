package market

import "math"

// CalculateATR returns the average true range over the last period bars.
// Requires at least period+1 bars; returns 0 otherwise.
func CalculateATR(bars []Bar, period int) float64 {
	if period <= 0 || len(bars) < period+1 {
		return 0
	}

	trueRanges := make([]float64, 0, period)
	for i := len(bars) - period; i < len(bars); i++ {
		high := bars[i].High
		low := bars[i].Low
		prevClose := bars[i-1].Close

		tr := math.Max(high-low, math.Max(math.Abs(high-prevClose), math.Abs(low-prevClose)))
		trueRanges = append(trueRanges, tr)
	}

	sum := 0.0
	for _, tr := range trueRanges {
		sum += tr
	}
	return sum / float64(period)
}

// AverageVolume returns the mean volume of the last period bars, excluding
// the most recent bar so a spike does not inflate its own baseline.
func AverageVolume(bars []Bar, period int) float64 {
	if period <= 0 || len(bars) < period+1 {
		return 0
	}

	sum := 0.0
	for i := len(bars) - period - 1; i < len(bars)-1; i++ {
		sum += bars[i].Volume
	}
	return sum / float64(period)
}

// VolumeRatio returns the latest bar's volume relative to the trailing
// average. Returns 0 when there is not enough history.
func VolumeRatio(bars []Bar, period int) float64 {
	avg := AverageVolume(bars, period)
	if avg == 0 || len(bars) == 0 {
		return 0
	}
	return bars[len(bars)-1].Volume / avg
}
