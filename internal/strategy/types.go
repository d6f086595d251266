// Package strategy holds the signal generators bots trade with. Each
// strategy pulls recent bars, evaluates its indicators and answers with a
// Result: a Signal, nothing, or an error.
package strategy

import (
	"context"

	"bot-trading-core/internal/market"
	"bot-trading-core/pkg/cache"
	"bot-trading-core/pkg/exchanges/common"
)

// Strategy type tags.
const (
	TypeTrendMA200   = "trend_ma200"
	TypeRSITrend     = "rsi_trend"
	TypeBollADX      = "boll_adx"
	TypeAdaptiveGrid = "adaptive_grid"
	TypeBreakoutLite = "breakout_lite"
)

// ActionCloseAll asks the runner to sell the whole base balance.
const ActionCloseAll = "close_all"

const (
	defaultInterval  = "1h"
	defaultATRPeriod = 14
	defaultRSIPeriod = 14
	defaultADXPeriod = 14
)

// Strategy generates at most one signal per call.
type Strategy interface {
	Type() string
	Generate(ctx context.Context, pair string) Result
}

// Signal is a trade decision. Zero multiples mean "not set": no stop-loss,
// no take-profit or no trailing stop respectively.
type Signal struct {
	Side          common.Side
	RiskPct       float64
	ATR           float64
	StopLossATR   float64
	TakeProfitATR float64
	TrailingATR   float64
	Action        string // ActionCloseAll for a grid exit
	GridLevel     int
	Diagnostics   map[string]float64
}

// Outcome tags a Result.
type Outcome int

const (
	OutcomeNone Outcome = iota
	OutcomeSignal
	OutcomeError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSignal:
		return "signal"
	case OutcomeError:
		return "error"
	default:
		return "none"
	}
}

// Result is what Generate returns. Signal is set only for OutcomeSignal
// and Err only for OutcomeError.
type Result struct {
	Outcome Outcome
	Signal  Signal
	Err     error
}

func None() Result               { return Result{Outcome: OutcomeNone} }
func Emit(s Signal) Result       { return Result{Outcome: OutcomeSignal, Signal: s} }
func Failed(err error) Result    { return Result{Outcome: OutcomeError, Err: err} }
func (r Result) HasSignal() bool { return r.Outcome == OutcomeSignal }

// Deps are the shared services strategies read from.
type Deps struct {
	Klines market.KlineProvider
	State  cache.Store
}

// fetch loads exactly what a strategy needs and reports whether the
// history is long enough.
func fetch(ctx context.Context, d Deps, pair, interval string, limit int) (market.Series, bool, error) {
	bars, err := d.Klines.Klines(ctx, pair, interval, limit)
	if err != nil {
		return market.Series{}, false, err
	}
	if len(bars) < limit {
		return market.Series{}, false, nil
	}
	return market.NewSeries(bars), true, nil
}
