package indicators

// Donchian returns (upper, lower): the highest high and lowest low of the last
// period bars. Short series fall back to the last bar; empty input yields (0, 0).
func Donchian(highs, lows []float64, period int) (float64, float64) {
	if len(highs) == 0 || len(lows) == 0 {
		return 0, 0
	}
	if period <= 0 || len(highs) < period || len(lows) < period {
		return highs[len(highs)-1], lows[len(lows)-1]
	}
	upper := highs[len(highs)-period]
	for _, h := range highs[len(highs)-period:] {
		if h > upper {
			upper = h
		}
	}
	lower := lows[len(lows)-period]
	for _, l := range lows[len(lows)-period:] {
		if l < lower {
			lower = l
		}
	}
	return upper, lower
}
