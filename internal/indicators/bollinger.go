package indicators

import "math"

// Bollinger returns (lower, upper) bands using the population standard deviation.
// With too little data the bands fall back to ±5% around the last value.
func Bollinger(values []float64, period int, k float64) (float64, float64) {
	if period <= 0 || len(values) < period {
		last := 100.0
		if len(values) > 0 {
			last = values[len(values)-1]
		}
		return last * 0.95, last * 1.05
	}
	window := values[len(values)-period:]
	m := mean(window)
	variance := 0.0
	for _, v := range window {
		variance += (v - m) * (v - m)
	}
	std := math.Sqrt(variance / float64(period))
	return m - k*std, m + k*std
}

// Bandwidth is (upper - lower) / middle; 0 when data is short or the middle is 0.
func Bandwidth(values []float64, period int, k float64) float64 {
	if period <= 0 || len(values) < period {
		return 0
	}
	lower, upper := Bollinger(values, period, k)
	middle := mean(values[len(values)-period:])
	if middle == 0 {
		return 0
	}
	return (upper - lower) / middle
}
