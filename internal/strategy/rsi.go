package strategy

import (
	"context"

	"bot-trading-core/internal/indicators"
	"bot-trading-core/pkg/exchanges/common"
)

// RSITrend buys oversold dips inside an uptrend and sells overbought
// rallies inside a downtrend, the trend being price vs. a rising or
// falling long MA.
type RSITrend struct {
	deps          Deps
	interval      string
	rsiPeriod     int
	rsiBuy        float64
	rsiSell       float64
	maLong        int
	slopeLookback int
	atrPeriod     int
	stopLossATR   float64
	takeProfitATR float64
	riskPerTrade  float64
}

func NewRSITrend(p Params, d Deps) *RSITrend {
	return &RSITrend{
		deps:          d,
		interval:      p.String("interval", defaultInterval),
		rsiPeriod:     p.Int("rsi_period", defaultRSIPeriod),
		rsiBuy:        p.Float("rsi_buy", 35),
		rsiSell:       p.Float("rsi_sell", 65),
		maLong:        p.Int("ma_long", 200),
		slopeLookback: p.Int("ma_slope_lookback", 10),
		atrPeriod:     p.Int("atr_period", defaultATRPeriod),
		stopLossATR:   p.Float("stop_loss_atr", 1.2),
		takeProfitATR: p.Float("take_profit_atr", 2.0),
		riskPerTrade:  p.Float("risk_per_trade", 1.0),
	}
}

func (s *RSITrend) Type() string { return TypeRSITrend }

func (s *RSITrend) Generate(ctx context.Context, pair string) Result {
	limit := s.maLong + s.slopeLookback + 5
	series, ok, err := fetch(ctx, s.deps, pair, s.interval, limit)
	if err != nil {
		return Failed(err)
	}
	if !ok {
		return None()
	}
	closes := series.Closes

	rsi := indicators.RSI(closes, s.rsiPeriod)
	ma := indicators.MA(closes, s.maLong)
	slope := indicators.MASlope(closes, s.maLong, s.slopeLookback)
	atr := indicators.ATR(series.Highs, series.Lows, closes, s.atrPeriod)
	price := closes[len(closes)-1]
	if atr == 0 {
		return None()
	}

	var side common.Side
	switch {
	case rsi < s.rsiBuy && price > ma && slope > 0:
		side = common.SideBuy
	case rsi > s.rsiSell && price < ma && slope < 0:
		side = common.SideSell
	default:
		return None()
	}
	return Emit(Signal{
		Side:          side,
		RiskPct:       s.riskPerTrade,
		ATR:           atr,
		StopLossATR:   s.stopLossATR,
		TakeProfitATR: s.takeProfitATR,
		Diagnostics:   map[string]float64{"rsi": rsi, "ma": ma, "slope": slope},
	})
}
