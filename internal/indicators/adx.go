package indicators

import "math"

// ADX computes the Average Directional Index with Wilder smoothing.
// Both smoothing stages (DM/TR, then DX) are seeded with the simple sum/mean
// of their first period values. Needs 2*period+1 bars, otherwise returns 0.
func ADX(highs, lows, closes []float64, period int) float64 {
	n := seriesLen(highs, lows, closes)
	if period <= 0 || n < 2*period+1 {
		return 0
	}

	plusDM := make([]float64, 0, n-1)
	minusDM := make([]float64, 0, n-1)
	tr := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		up := highs[i] - highs[i-1]
		down := lows[i-1] - lows[i]

		p, m := 0.0, 0.0
		if up > down && up > 0 {
			p = up
		}
		if down > up && down > 0 {
			m = down
		}
		plusDM = append(plusDM, p)
		minusDM = append(minusDM, m)
		tr = append(tr, trueRange(highs[i], lows[i], closes[i-1]))
	}

	fp := float64(period)
	sPlus, sMinus, sTR := sum(plusDM[:period]), sum(minusDM[:period]), sum(tr[:period])

	dx := make([]float64, 0, len(tr)-period+1)
	dx = append(dx, directionalIndex(sPlus, sMinus, sTR))
	for i := period; i < len(tr); i++ {
		sPlus = sPlus - sPlus/fp + plusDM[i]
		sMinus = sMinus - sMinus/fp + minusDM[i]
		sTR = sTR - sTR/fp + tr[i]
		dx = append(dx, directionalIndex(sPlus, sMinus, sTR))
	}

	if len(dx) < period {
		return 0
	}
	adx := sum(dx[:period]) / fp
	for i := period; i < len(dx); i++ {
		adx = (adx*(fp-1) + dx[i]) / fp
	}
	return adx
}

func directionalIndex(plusDM, minusDM, tr float64) float64 {
	if tr == 0 {
		return 0
	}
	plusDI := 100 * plusDM / tr
	minusDI := 100 * minusDM / tr
	total := plusDI + minusDI
	if total == 0 {
		return 0
	}
	return math.Abs(plusDI-minusDI) / total * 100
}

func sum(values []float64) float64 {
	s := 0.0
	for _, v := range values {
		s += v
	}
	return s
}
