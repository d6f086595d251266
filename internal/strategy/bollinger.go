package strategy

import (
	"context"

	"bot-trading-core/internal/indicators"
	"bot-trading-core/pkg/exchanges/common"
)

// BollADX fades band touches while the market ranges: it stays out when
// ADX shows a trend or the bands are too tight or too wide.
type BollADX struct {
	deps          Deps
	interval      string
	bbPeriod      int
	bbStd         float64
	adxPeriod     int
	adxThreshold  float64
	bandwidthMin  float64
	bandwidthMax  float64
	stopLossATR   float64
	takeProfitATR float64
	riskPerTrade  float64
}

func NewBollADX(p Params, d Deps) *BollADX {
	return &BollADX{
		deps:          d,
		interval:      p.String("interval", defaultInterval),
		bbPeriod:      p.Int("bb_period", 20),
		bbStd:         p.Float("bb_std", 2.0),
		adxPeriod:     p.Int("adx_period", defaultADXPeriod),
		adxThreshold:  p.Float("adx_threshold", 25),
		bandwidthMin:  p.Float("bandwidth_min", 0.03),
		bandwidthMax:  p.Float("bandwidth_max", 0.15),
		stopLossATR:   p.Float("stop_loss_atr", 1.2),
		takeProfitATR: p.Float("take_profit_atr", 1.5),
		riskPerTrade:  p.Float("risk_per_trade", 0.7),
	}
}

func (s *BollADX) Type() string { return TypeBollADX }

func (s *BollADX) Generate(ctx context.Context, pair string) Result {
	limit := max(s.bbPeriod, 2*s.adxPeriod+1) + 20
	series, ok, err := fetch(ctx, s.deps, pair, s.interval, limit)
	if err != nil {
		return Failed(err)
	}
	if !ok {
		return None()
	}
	closes := series.Closes

	adx := indicators.ADX(series.Highs, series.Lows, closes, s.adxPeriod)
	if adx > s.adxThreshold {
		return None()
	}
	bw := indicators.Bandwidth(closes, s.bbPeriod, s.bbStd)
	if bw < s.bandwidthMin || bw > s.bandwidthMax {
		return None()
	}

	lower, upper := indicators.Bollinger(closes, s.bbPeriod, s.bbStd)
	atr := indicators.ATR(series.Highs, series.Lows, closes, defaultATRPeriod)
	price := closes[len(closes)-1]
	if atr == 0 {
		return None()
	}

	var side common.Side
	switch {
	case price <= lower:
		side = common.SideBuy
	case price >= upper:
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
		Diagnostics: map[string]float64{
			"adx": adx, "bandwidth": bw, "bb_lower": lower, "bb_upper": upper,
		},
	})
}
