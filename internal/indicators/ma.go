package indicators

// MA calculates the simple moving average of the last period values.
// With too little data it returns the last value, or 0 for an empty series.
func MA(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		if len(values) == 0 {
			return 0
		}
		return values[len(values)-1]
	}
	return mean(values[len(values)-period:])
}

// MASlope is the change of the period MA over the last lookback bars.
func MASlope(values []float64, period, lookback int) float64 {
	if period <= 0 || lookback < 0 || len(values) < period+lookback {
		return 0
	}
	current := mean(values[len(values)-period:])
	past := values[:len(values)-lookback]
	return current - mean(past[len(past)-period:])
}

func mean(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
