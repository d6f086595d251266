package strategy

import (
	"context"
	"sync"

	"bot-trading-core/internal/market"
)

// staticKlines serves the tail of a fixed bar set.
type staticKlines struct {
	mu   sync.Mutex
	bars []market.Bar
	err  error
}

func (s *staticKlines) Klines(_ context.Context, _, _ string, limit int) ([]market.Bar, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	if limit < len(s.bars) {
		return append([]market.Bar(nil), s.bars[len(s.bars)-limit:]...), nil
	}
	return append([]market.Bar(nil), s.bars...), nil
}

func (s *staticKlines) setLastClose(price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bars[len(s.bars)-1] = market.Bar{Open: price, High: price + 1, Low: price - 1, Close: price, Volume: 100}
}

// barsFromCloses builds bars with a symmetric high/low spread around close.
func barsFromCloses(closes []float64, spread float64) []market.Bar {
	bars := make([]market.Bar, len(closes))
	for i, c := range closes {
		bars[i] = market.Bar{OpenTime: int64(i) * 3_600_000, Open: c, High: c + spread, Low: c - spread, Close: c, Volume: 100}
	}
	return bars
}

// rsiDipCloses is a 200-bar rally followed by a 15-bar pullback: RSI 0,
// price still above a rising MA200, ATR 4 with a spread of 1.
func rsiDipCloses() []float64 {
	closes := make([]float64, 0, 215)
	for i := 0; i < 200; i++ {
		closes = append(closes, 100+float64(i))
	}
	for i := 200; i < 215; i++ {
		closes = append(closes, 299-3*float64(i-199))
	}
	return closes
}

func mirror(closes []float64, axis float64) []float64 {
	out := make([]float64, len(closes))
	for i, c := range closes {
		out[i] = axis - c
	}
	return out
}

func linear(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + step*float64(i)
	}
	return out
}

// zigzagThen alternates ±amp around 100 for n-1 bars and ends at last.
func zigzagThen(n int, amp, last float64) []float64 {
	out := make([]float64, 0, n)
	for i := 0; i < n-1; i++ {
		if i%2 == 1 {
			out = append(out, 100+amp)
		} else {
			out = append(out, 100-amp)
		}
	}
	return append(out, last)
}

// staircase climbs +5/-3 for n-1 bars and jumps +4 on the last one.
// With a spread of 0.5 this gives ADX ≈ 26.6 and RSI ≈ 68.4.
func staircase(n int) []float64 {
	out := []float64{100}
	for i := 1; i < n-1; i++ {
		step := -3.0
		if i%2 == 1 {
			step = 5
		}
		out = append(out, out[len(out)-1]+step)
	}
	return append(out, out[len(out)-1]+4)
}
