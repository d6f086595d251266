package strategy

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bot-trading-core/internal/market"
	"bot-trading-core/pkg/cache"
	"bot-trading-core/pkg/exchanges/common"
)

func deps(bars []market.Bar) (Deps, *staticKlines) {
	k := &staticKlines{bars: bars}
	return Deps{Klines: k, State: cache.NewMemoryStore()}, k
}

func TestParams(t *testing.T) {
	p := Params{"a": 3, "b": 2.5, "c": "7.5", "d": int64(4), "e": nil, "s": "4h"}
	assert.Equal(t, 3.0, p.Float("a", 0))
	assert.Equal(t, 2.5, p.Float("b", 0))
	assert.Equal(t, 7.5, p.Float("c", 0))
	assert.Equal(t, 4, p.Int("d", 0))
	assert.Equal(t, 2, p.Int("b", 0))
	assert.Equal(t, 9.0, p.Float("e", 9))
	assert.Equal(t, 9, p.Int("missing", 9))
	assert.Equal(t, "4h", p.String("s", "1h"))
	assert.Equal(t, "1h", p.String("a", "1h"))
}

func TestRegistry(t *testing.T) {
	r := DefaultRegistry()
	assert.Equal(t, []string{TypeAdaptiveGrid, TypeBollADX, TypeBreakoutLite, TypeRSITrend, TypeTrendMA200}, r.Types())

	for _, tag := range r.Types() {
		s, err := r.Build(tag, nil, Deps{})
		require.NoError(t, err)
		assert.Equal(t, tag, s.Type())
	}

	_, err := r.Build("martingale", Params{}, Deps{})
	assert.Error(t, err)
}

func TestShortHistoryAndFetchErrors(t *testing.T) {
	r := DefaultRegistry()
	short := barsFromCloses(linear(20, 100, 1), 1)

	for _, tag := range r.Types() {
		t.Run(tag, func(t *testing.T) {
			d, k := deps(short)
			s, err := r.Build(tag, Params{}, d)
			require.NoError(t, err)

			res := s.Generate(context.Background(), "BTC_USDT")
			assert.Equal(t, OutcomeNone, res.Outcome)

			k.err = errors.New("exchange down")
			res = s.Generate(context.Background(), "BTC_USDT")
			assert.Equal(t, OutcomeError, res.Outcome)
			assert.ErrorContains(t, res.Err, "exchange down")
		})
	}
}

func TestZeroATRIsNoSignal(t *testing.T) {
	r := DefaultRegistry()
	flat := barsFromCloses(linear(300, 100, 0), 0)
	for _, tag := range r.Types() {
		d, _ := deps(flat)
		s, _ := r.Build(tag, Params{}, d)
		assert.Equal(t, OutcomeNone, s.Generate(context.Background(), "BTC_USDT").Outcome, tag)
	}
}

func TestTrendMA200(t *testing.T) {
	d, _ := deps(barsFromCloses(linear(215, 100, 1), 1))
	res := NewTrendMA200(Params{}, d).Generate(context.Background(), "BTC_USDT")
	require.True(t, res.HasSignal())
	assert.Equal(t, common.SideBuy, res.Signal.Side)
	assert.Equal(t, 0.7, res.Signal.RiskPct)
	assert.Equal(t, 2.0, res.Signal.StopLossATR)
	assert.Zero(t, res.Signal.TakeProfitATR)
	assert.Equal(t, 2.0, res.Signal.TrailingATR)
	assert.InDelta(t, 2.0, res.Signal.ATR, 1e-9)

	d, _ = deps(barsFromCloses(linear(215, 400, -1), 1))
	res = NewTrendMA200(Params{}, d).Generate(context.Background(), "BTC_USDT")
	require.True(t, res.HasSignal())
	assert.Equal(t, common.SideSell, res.Signal.Side)

	// Flat prices have range but no slope.
	d, _ = deps(barsFromCloses(linear(215, 100, 0), 1))
	assert.False(t, NewTrendMA200(Params{}, d).Generate(context.Background(), "BTC_USDT").HasSignal())
}

func TestRSITrend(t *testing.T) {
	d, _ := deps(barsFromCloses(rsiDipCloses(), 1))
	res := NewRSITrend(Params{}, d).Generate(context.Background(), "BTC_USDT")
	require.True(t, res.HasSignal())
	sig := res.Signal
	assert.Equal(t, common.SideBuy, sig.Side)
	assert.InDelta(t, 4.0, sig.ATR, 1e-9)
	assert.Equal(t, 1.2, sig.StopLossATR)
	assert.Equal(t, 2.0, sig.TakeProfitATR)
	assert.Zero(t, sig.TrailingATR)
	assert.Equal(t, 1.0, sig.RiskPct)
	assert.InDelta(t, 0.0, sig.Diagnostics["rsi"], 1e-9)
	assert.InDelta(t, 212.1, sig.Diagnostics["ma"], 1e-9)

	d, _ = deps(barsFromCloses(mirror(rsiDipCloses(), 400), 1))
	res = NewRSITrend(Params{}, d).Generate(context.Background(), "BTC_USDT")
	require.True(t, res.HasSignal())
	assert.Equal(t, common.SideSell, res.Signal.Side)

	// A plain rally is overbought, never a pullback.
	d, _ = deps(barsFromCloses(linear(215, 100, 1), 1))
	assert.False(t, NewRSITrend(Params{}, d).Generate(context.Background(), "BTC_USDT").HasSignal())
}

func TestBollADX(t *testing.T) {
	d, _ := deps(barsFromCloses(zigzagThen(49, 2, 94), 0.5))
	res := NewBollADX(Params{}, d).Generate(context.Background(), "BTC_USDT")
	require.True(t, res.HasSignal())
	assert.Equal(t, common.SideBuy, res.Signal.Side)
	assert.Equal(t, 1.5, res.Signal.TakeProfitATR)
	assert.Less(t, res.Signal.Diagnostics["adx"], 25.0)

	d, _ = deps(barsFromCloses(zigzagThen(49, 2, 106), 0.5))
	res = NewBollADX(Params{}, d).Generate(context.Background(), "BTC_USDT")
	require.True(t, res.HasSignal())
	assert.Equal(t, common.SideSell, res.Signal.Side)

	// Inside the bands.
	d, _ = deps(barsFromCloses(zigzagThen(49, 2, 100), 0.5))
	assert.False(t, NewBollADX(Params{}, d).Generate(context.Background(), "BTC_USDT").HasSignal())

	// Bandwidth outside the allowed range.
	d, _ = deps(barsFromCloses(zigzagThen(49, 2, 94), 0.5))
	assert.False(t, NewBollADX(Params{"bandwidth_max": 0.05}, d).Generate(context.Background(), "BTC_USDT").HasSignal())

	// Trending market.
	d, _ = deps(barsFromCloses(linear(60, 100, 2), 0.5))
	assert.False(t, NewBollADX(Params{}, d).Generate(context.Background(), "BTC_USDT").HasSignal())
}

func TestBreakoutLite(t *testing.T) {
	up := barsFromCloses(staircase(49), 0.5)
	up[len(up)-1].Volume = 300
	d, _ := deps(up)
	res := NewBreakoutLite(Params{}, d).Generate(context.Background(), "BTC_USDT")
	require.True(t, res.HasSignal())
	assert.Equal(t, common.SideBuy, res.Signal.Side)
	assert.Equal(t, 1.5, res.Signal.TrailingATR)
	assert.Equal(t, 0.5, res.Signal.RiskPct)
	assert.InDelta(t, 3.0, res.Signal.Diagnostics["volume_ratio"], 1e-9)

	down := barsFromCloses(mirror(staircase(49), 300), 0.5)
	down[len(down)-1].Volume = 300
	d, _ = deps(down)
	res = NewBreakoutLite(Params{}, d).Generate(context.Background(), "BTC_USDT")
	require.True(t, res.HasSignal())
	assert.Equal(t, common.SideSell, res.Signal.Side)

	// No volume surge.
	quiet := barsFromCloses(staircase(49), 0.5)
	d, _ = deps(quiet)
	assert.False(t, NewBreakoutLite(Params{}, d).Generate(context.Background(), "BTC_USDT").HasSignal())

	// Zero average volume.
	silent := barsFromCloses(staircase(49), 0.5)
	for i := range silent {
		silent[i].Volume = 0
	}
	d, _ = deps(silent)
	assert.False(t, NewBreakoutLite(Params{}, d).Generate(context.Background(), "BTC_USDT").HasSignal())
}

func gridDeps(t *testing.T) (Deps, *staticKlines) {
	t.Helper()
	return deps(barsFromCloses(linear(210, 100, 0), 1))
}

func gridState(t *testing.T, d Deps) GridState {
	t.Helper()
	s, ok, err := LoadGridState(context.Background(), d.State, "BTC_USDT")
	require.NoError(t, err)
	require.True(t, ok)
	return s
}

func TestAdaptiveGridLifecycle(t *testing.T) {
	ctx := context.Background()
	d, k := gridDeps(t)
	g := NewAdaptiveGrid(Params{}, d)

	// First observation persists the base.
	assert.False(t, g.Generate(ctx, "BTC_USDT").HasSignal())
	assert.Equal(t, GridState{BasePrice: 100, FilledLevels: 0}, gridState(t, d))

	k.setLastClose(98.7)
	res := g.Generate(ctx, "BTC_USDT")
	require.True(t, res.HasSignal())
	assert.Equal(t, common.SideBuy, res.Signal.Side)
	assert.Equal(t, 1, res.Signal.GridLevel)
	assert.InDelta(t, 0.4, res.Signal.RiskPct, 1e-12)
	assert.Equal(t, GridState{BasePrice: 100, FilledLevels: 1}, gridState(t, d))

	// Between levels nothing changes.
	k.setLastClose(98.0)
	assert.False(t, g.Generate(ctx, "BTC_USDT").HasSignal())
	assert.Equal(t, 1, gridState(t, d).FilledLevels)

	k.setLastClose(101.3)
	res = g.Generate(ctx, "BTC_USDT")
	require.True(t, res.HasSignal())
	assert.Equal(t, common.SideSell, res.Signal.Side)
	assert.Equal(t, ActionCloseAll, res.Signal.Action)
	assert.Equal(t, 1, res.Signal.GridLevel)
	assert.Equal(t, 2.0, res.Signal.RiskPct)
	assert.Equal(t, GridState{BasePrice: 101.3, FilledLevels: 0}, gridState(t, d))
}

func TestAdaptiveGridResetsAfterMaxLevels(t *testing.T) {
	ctx := context.Background()
	d, k := gridDeps(t)
	g := NewAdaptiveGrid(Params{"max_levels": 2}, d)

	g.Generate(ctx, "BTC_USDT")
	for _, p := range []float64{98.7, 97.5} {
		k.setLastClose(p)
		require.True(t, g.Generate(ctx, "BTC_USDT").HasSignal())
	}
	assert.Equal(t, 2, gridState(t, d).FilledLevels)

	k.setLastClose(97.0)
	res := g.Generate(ctx, "BTC_USDT")
	require.True(t, res.HasSignal())
	assert.Equal(t, ActionCloseAll, res.Signal.Action)
	assert.Equal(t, 2, res.Signal.GridLevel)
	assert.Equal(t, GridState{BasePrice: 97.0, FilledLevels: 0}, gridState(t, d))
}

func TestAdaptiveGridExposureCap(t *testing.T) {
	ctx := context.Background()
	d, k := gridDeps(t)
	g := NewAdaptiveGrid(Params{"max_exposure": 0.5}, d)

	g.Generate(ctx, "BTC_USDT")
	k.setLastClose(98.7)
	require.True(t, g.Generate(ctx, "BTC_USDT").HasSignal())
	k.setLastClose(97.5)
	assert.False(t, g.Generate(ctx, "BTC_USDT").HasSignal(), "second level would exceed 0.5%")
	assert.Equal(t, 1, gridState(t, d).FilledLevels)
}

func TestAdaptiveGridConcurrentBotsFillOneLevel(t *testing.T) {
	ctx := context.Background()
	d, k := gridDeps(t)
	NewAdaptiveGrid(Params{}, d).Generate(ctx, "BTC_USDT")
	k.setLastClose(98.7)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		buys int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := NewAdaptiveGrid(Params{}, d).Generate(ctx, "BTC_USDT")
			if res.HasSignal() {
				mu.Lock()
				buys++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, buys)
	assert.Equal(t, 1, gridState(t, d).FilledLevels)
}

func TestAdaptiveGridPausesInDowntrend(t *testing.T) {
	d, _ := deps(barsFromCloses(linear(210, 400, -1.5), 1))
	res := NewAdaptiveGrid(Params{}, d).Generate(context.Background(), "BTC_USDT")
	assert.False(t, res.HasSignal())
	_, ok, err := LoadGridState(context.Background(), d.State, "BTC_USDT")
	require.NoError(t, err)
	assert.False(t, ok, "paused grid must not touch state")
}
