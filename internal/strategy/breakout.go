package strategy

import (
	"context"

	"bot-trading-core/internal/indicators"
	"bot-trading-core/pkg/exchanges/common"
)

// BreakoutLite trades Donchian channel breaks confirmed by a volume surge,
// a trending ADX and an RSI that is not yet exhausted. The channel and the
// average volume leave out the current bar.
type BreakoutLite struct {
	deps             Deps
	interval         string
	donchianPeriod   int
	volumeMultiplier float64
	adxMin           float64
	rsiMax           float64
	stopLossATR      float64
	trailingATR      float64
	riskPerTrade     float64
	atrPeriod        int
}

func NewBreakoutLite(p Params, d Deps) *BreakoutLite {
	return &BreakoutLite{
		deps:             d,
		interval:         p.String("interval", defaultInterval),
		donchianPeriod:   p.Int("donchian_period", 20),
		volumeMultiplier: p.Float("volume_multiplier", 1.5),
		adxMin:           p.Float("adx_min", 25),
		rsiMax:           p.Float("rsi_max", 70),
		stopLossATR:      p.Float("stop_loss_atr", 2.0),
		trailingATR:      p.Float("trailing_atr", 1.5),
		riskPerTrade:     p.Float("risk_per_trade", 0.5),
		atrPeriod:        p.Int("atr_period", defaultATRPeriod),
	}
}

func (s *BreakoutLite) Type() string { return TypeBreakoutLite }

func (s *BreakoutLite) Generate(ctx context.Context, pair string) Result {
	limit := max(s.donchianPeriod, 2*s.atrPeriod+1) + 20
	series, ok, err := fetch(ctx, s.deps, pair, s.interval, limit)
	if err != nil {
		return Failed(err)
	}
	if !ok {
		return None()
	}
	highs, lows, closes, volumes := series.Highs, series.Lows, series.Closes, series.Volumes
	last := len(closes) - 1

	adx := indicators.ADX(highs, lows, closes, s.atrPeriod)
	if adx < s.adxMin {
		return None()
	}
	upper, lower := indicators.Donchian(highs[:last], lows[:last], s.donchianPeriod)
	atr := indicators.ATR(highs, lows, closes, s.atrPeriod)
	rsi := indicators.RSI(closes, defaultRSIPeriod)
	price := closes[last]
	if atr == 0 {
		return None()
	}

	avgVol := 0.0
	if last > 0 {
		total := 0.0
		for _, v := range volumes[:last] {
			total += v
		}
		avgVol = total / float64(last)
	}
	if avgVol == 0 {
		return None()
	}
	volumeRatio := volumes[last] / avgVol
	volOK := volumes[last] > avgVol*s.volumeMultiplier

	var side common.Side
	switch {
	case price > upper && volOK && rsi < s.rsiMax:
		side = common.SideBuy
	case price < lower && volOK && rsi > 100-s.rsiMax:
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
		Diagnostics: map[string]float64{
			"rsi": rsi, "adx": adx, "donchian_upper": upper, "donchian_lower": lower, "volume_ratio": volumeRatio,
		},
	})
}
