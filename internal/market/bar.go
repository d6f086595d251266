// Package market turns exchange data into what strategies and the matcher
// consume: OHLCV bars and the latest price per pair.
package market

import "context"

// Bar is one OHLCV candle, oldest first in every slice this package returns.
type Bar struct {
	OpenTime int64 // unix milliseconds
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

// KlineProvider fetches recent bars for a pair such as "BTC_USDT".
type KlineProvider interface {
	Klines(ctx context.Context, pair, interval string, limit int) ([]Bar, error)
}

// Series splits bars into the per-field slices the indicators take.
type Series struct {
	Opens, Highs, Lows, Closes, Volumes []float64
}

func NewSeries(bars []Bar) Series {
	s := Series{
		Opens:   make([]float64, len(bars)),
		Highs:   make([]float64, len(bars)),
		Lows:    make([]float64, len(bars)),
		Closes:  make([]float64, len(bars)),
		Volumes: make([]float64, len(bars)),
	}
	for i, b := range bars {
		s.Opens[i] = b.Open
		s.Highs[i] = b.High
		s.Lows[i] = b.Low
		s.Closes[i] = b.Close
		s.Volumes[i] = b.Volume
	}
	return s
}
