package strategy

import (
	"context"
	"encoding/json"
	"fmt"

	"bot-trading-core/internal/indicators"
	"bot-trading-core/pkg/cache"
	"bot-trading-core/pkg/exchanges/common"
)

// GridState is persisted per pair under grid:{pair}:state. It is shared by
// every bot trading the pair with this strategy.
type GridState struct {
	BasePrice    float64 `json:"base_price"`
	FilledLevels int     `json:"filled_levels"`
}

// AdaptiveGrid buys one level each time price falls another grid gap below
// the base and closes everything once all levels are filled or price
// recovers one gap above the base. It pauses in a confirmed downtrend.
type AdaptiveGrid struct {
	deps            Deps
	interval        string
	gridGap         float64 // percent
	maxLevels       int
	maxExposure     float64 // percent of allocation
	riskTotal       float64 // percent of allocation across all levels
	trendFilterFast int
	trendFilterSlow int
	trendStopADX    float64
}

func NewAdaptiveGrid(p Params, d Deps) *AdaptiveGrid {
	g := &AdaptiveGrid{
		deps:            d,
		interval:        p.String("interval", defaultInterval),
		gridGap:         p.Float("grid_gap", 1.2),
		maxLevels:       p.Int("max_levels", 5),
		maxExposure:     p.Float("max_exposure", 15),
		riskTotal:       p.Float("risk_total", 2),
		trendFilterFast: p.Int("trend_filter_fast", 50),
		trendFilterSlow: p.Int("trend_filter_slow", 200),
		trendStopADX:    p.Float("trend_stop_adx", 30),
	}
	if g.maxLevels < 1 {
		g.maxLevels = 1
	}
	return g
}

func (g *AdaptiveGrid) Type() string { return TypeAdaptiveGrid }

func (g *AdaptiveGrid) Generate(ctx context.Context, pair string) Result {
	limit := g.trendFilterSlow + 10
	series, ok, err := fetch(ctx, g.deps, pair, g.interval, limit)
	if err != nil {
		return Failed(err)
	}
	if !ok {
		return None()
	}
	closes := series.Closes
	price := closes[len(closes)-1]

	maFast := indicators.MA(closes, g.trendFilterFast)
	maSlow := indicators.MA(closes, g.trendFilterSlow)
	adx := indicators.ADX(series.Highs, series.Lows, closes, defaultADXPeriod)
	atr := indicators.ATR(series.Highs, series.Lows, closes, defaultATRPeriod)
	if atr == 0 {
		return None()
	}
	if maFast < maSlow && adx > g.trendStopADX {
		return None()
	}

	var res Result
	err = cache.Update(ctx, g.deps.State, cache.GridStateKey(pair), func(cur []byte) ([]byte, error) {
		r, next, stepErr := g.step(cur, price, atr)
		res = r
		if stepErr != nil {
			return nil, stepErr
		}
		return json.Marshal(next)
	})
	if err != nil {
		return Failed(fmt.Errorf("grid state %s: %w", pair, err))
	}
	return res
}

// step decides on one price observation. It returns cache.ErrSkipWrite
// when the stored state stays as it is.
func (g *AdaptiveGrid) step(cur []byte, price, atr float64) (Result, GridState, error) {
	state := GridState{BasePrice: price}
	fresh := cur == nil
	if !fresh {
		if err := json.Unmarshal(cur, &state); err != nil {
			return Result{}, GridState{}, fmt.Errorf("decode: %w", err)
		}
	}
	gap := g.gridGap / 100

	if state.FilledLevels > 0 {
		recovery := state.BasePrice * (1 + gap)
		if state.FilledLevels >= g.maxLevels || price >= recovery {
			return Emit(Signal{
				Side:        common.SideSell,
				RiskPct:     g.riskTotal,
				ATR:         atr,
				Action:      ActionCloseAll,
				GridLevel:   state.FilledLevels,
				Diagnostics: map[string]float64{"base_price": state.BasePrice},
			}), GridState{BasePrice: price}, nil
		}
	}

	perLevel := g.riskTotal / float64(g.maxLevels)
	nextLevel := state.BasePrice * (1 - gap*float64(state.FilledLevels+1))
	withinExposure := g.maxExposure <= 0 || float64(state.FilledLevels+1)*perLevel <= g.maxExposure
	if price <= nextLevel && withinExposure {
		filled := state.FilledLevels + 1
		return Emit(Signal{
			Side:        common.SideBuy,
			RiskPct:     perLevel,
			ATR:         atr,
			GridLevel:   filled,
			Diagnostics: map[string]float64{"base_price": state.BasePrice, "level_price": nextLevel},
		}), GridState{BasePrice: state.BasePrice, FilledLevels: filled}, nil
	}

	if fresh {
		return None(), state, nil
	}
	return None(), state, cache.ErrSkipWrite
}

// LoadGridState reads the persisted grid progress for a pair.
func LoadGridState(ctx context.Context, store cache.Store, pair string) (GridState, bool, error) {
	e, ok, err := store.Get(ctx, cache.GridStateKey(pair))
	if err != nil || !ok {
		return GridState{}, ok, err
	}
	var s GridState
	if err := json.Unmarshal(e.Value, &s); err != nil {
		return GridState{}, false, fmt.Errorf("decode grid state: %w", err)
	}
	return s, true, nil
}
