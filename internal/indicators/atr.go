package indicators

import "math"

// ATR is the simple mean of the last period true ranges.
// Needs at least period+1 bars, otherwise returns 0.
func ATR(highs, lows, closes []float64, period int) float64 {
	n := seriesLen(highs, lows, closes)
	if period <= 0 || n < period+1 {
		return 0
	}
	sum := 0.0
	for i := n - period; i < n; i++ {
		sum += trueRange(highs[i], lows[i], closes[i-1])
	}
	return sum / float64(period)
}

func trueRange(high, low, prevClose float64) float64 {
	return math.Max(high-low, math.Max(math.Abs(high-prevClose), math.Abs(low-prevClose)))
}

func seriesLen(series ...[]float64) int {
	n := -1
	for _, s := range series {
		if n < 0 || len(s) < n {
			n = len(s)
		}
	}
	if n < 0 {
		return 0
	}
	return n
}
