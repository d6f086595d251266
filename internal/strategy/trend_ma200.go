package strategy

import (
	"context"

	"bot-trading-core/internal/indicators"
	"bot-trading-core/pkg/exchanges/common"
)

// TrendMA200 follows the long moving average once the last closes all sit
// on one side of it and its slope agrees. Exits are trailing-stop only.
type TrendMA200 struct {
	deps          Deps
	interval      string
	maPeriod      int
	confirmation  int
	slopeLookback int
	stopLossATR   float64
	riskPerTrade  float64
	trailingATR   float64
}

func NewTrendMA200(p Params, d Deps) *TrendMA200 {
	return &TrendMA200{
		deps:          d,
		interval:      p.String("interval", defaultInterval),
		maPeriod:      p.Int("ma_period", 200),
		confirmation:  p.Int("confirmation", 3),
		slopeLookback: p.Int("ma_slope_lookback", 10),
		stopLossATR:   p.Float("stop_loss_atr", 2.0),
		riskPerTrade:  p.Float("risk_per_trade", 0.7),
		trailingATR:   p.Float("trailing_atr", 2.0),
	}
}

func (s *TrendMA200) Type() string { return TypeTrendMA200 }

func (s *TrendMA200) Generate(ctx context.Context, pair string) Result {
	limit := s.maPeriod + s.slopeLookback + 5
	series, ok, err := fetch(ctx, s.deps, pair, s.interval, limit)
	if err != nil {
		return Failed(err)
	}
	if !ok {
		return None()
	}
	closes := series.Closes

	ma := indicators.MA(closes, s.maPeriod)
	slope := indicators.MASlope(closes, s.maPeriod, s.slopeLookback)
	atr := indicators.ATR(series.Highs, series.Lows, closes, defaultATRPeriod)
	if atr == 0 {
		return None()
	}

	n := s.confirmation
	if n < 1 {
		n = 1
	}
	if n > len(closes) {
		n = len(closes)
	}
	recent := closes[len(closes)-n:]
	above, below := true, true
	for _, c := range recent {
		above = above && c > ma
		below = below && c < ma
	}

	var side common.Side
	switch {
	case above && slope > 0:
		side = common.SideBuy
	case below && slope < 0:
		side = common.SideSell
	default:
		return None()
	}
	return Emit(Signal{
		Side:        side,
		RiskPct:     s.riskPerTrade,
		ATR:         atr,
		StopLossATR: s.stopLossATR,
		TrailingATR: s.trailingATR,
		Diagnostics: map[string]float64{"ma": ma, "slope": slope},
	})
}
