package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bot-trading-core/internal/strategy"
	"bot-trading-core/pkg/cache"
	"bot-trading-core/pkg/db"
	"bot-trading-core/pkg/exchanges/common"
)

func stubBot(id int64, params strategy.Params, s *stubStrategy) *loadedBot {
	return &loadedBot{bot: db.Bot{ID: id}, params: params, strat: s, pair: defaultPair}
}

func emit(side common.Side) strategy.Result {
	return strategy.Emit(strategy.Signal{Side: side, RiskPct: 1})
}

func TestGlobalSignalInterval(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	s := &stubStrategy{typ: "stub", res: emit(common.SideBuy)}
	b := stubBot(1, strategy.Params{}, s)

	require.True(t, h.runner.GenerateSignal(ctx, b).HasSignal())

	h.advance(100 * time.Second)
	assert.False(t, h.runner.GenerateSignal(ctx, b).HasSignal())
	assert.Equal(t, 1, s.callCount(), "a cooling bot must not run its strategy")

	h.advance(201 * time.Second)
	assert.True(t, h.runner.GenerateSignal(ctx, b).HasSignal())
}

func TestDirectionAwareCooldown(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	s := &stubStrategy{typ: "stub", res: emit(common.SideBuy)}
	b := stubBot(2, strategy.Params{"signal_interval": 0, "cooldown_same": 600, "cooldown_opposite": 60}, s)

	require.True(t, h.runner.GenerateSignal(ctx, b).HasSignal())

	s.set(emit(common.SideSell))
	h.advance(30 * time.Second)
	assert.False(t, h.runner.GenerateSignal(ctx, b).HasSignal(), "flip inside cooldown_opposite")

	h.advance(31 * time.Second)
	require.True(t, h.runner.GenerateSignal(ctx, b).HasSignal(), "flip after cooldown_opposite")

	h.advance(100 * time.Second)
	assert.False(t, h.runner.GenerateSignal(ctx, b).HasSignal(), "same side inside cooldown_same")

	h.advance(500 * time.Second)
	assert.True(t, h.runner.GenerateSignal(ctx, b).HasSignal())

	side, _, err := cache.GetString(ctx, h.store, cache.LastSideKey(2))
	require.NoError(t, err)
	assert.Equal(t, "sell", side)
}

func TestOppositeCooldownDefaultsToThirdOfInterval(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	s := &stubStrategy{typ: "stub", res: emit(common.SideBuy)}
	b := stubBot(3, strategy.Params{"signal_interval": 90}, s)

	require.True(t, h.runner.GenerateSignal(ctx, b).HasSignal())
	s.set(emit(common.SideSell))
	h.advance(90 * time.Second)
	assert.True(t, h.runner.GenerateSignal(ctx, b).HasSignal())
	s.set(emit(common.SideBuy))
	h.advance(89 * time.Second)
	assert.False(t, h.runner.GenerateSignal(ctx, b).HasSignal())
}

func TestEmptyResultsDoNotStampCooldown(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	s := &stubStrategy{typ: "stub", res: strategy.None()}
	b := stubBot(4, strategy.Params{}, s)

	assert.False(t, h.runner.GenerateSignal(ctx, b).HasSignal())

	s.set(strategy.Failed(errors.New("klines unavailable")))
	res := h.runner.GenerateSignal(ctx, b)
	assert.Equal(t, strategy.OutcomeError, res.Outcome)

	_, ok, err := cache.GetString(ctx, h.store, cache.LastTradeTimeKey(4))
	require.NoError(t, err)
	assert.False(t, ok)

	// The next real signal goes straight through.
	s.set(emit(common.SideSell))
	assert.True(t, h.runner.GenerateSignal(ctx, b).HasSignal())
	ts, ok, err := cache.GetString(ctx, h.store, cache.LastTradeTimeKey(4))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "1790856000", ts)
}

func TestTradingModeResolution(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemoryStore()

	live, err := TradingMode(ctx, store, true)
	require.NoError(t, err)
	assert.True(t, live)

	require.NoError(t, store.Set(ctx, cache.LiveTradingKey, []byte("false")))
	live, err = TradingMode(ctx, store, true)
	require.NoError(t, err)
	assert.False(t, live)

	require.NoError(t, store.Set(ctx, cache.LiveTradingKey, []byte("garbage")))
	live, err = TradingMode(ctx, store, false)
	require.NoError(t, err)
	assert.False(t, live)
}
