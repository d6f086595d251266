package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"bot-trading-core/internal/events"
	"bot-trading-core/internal/market"
	"bot-trading-core/internal/monitor"
	"bot-trading-core/internal/order"
	"bot-trading-core/internal/risk"
	"bot-trading-core/internal/strategy"
	"bot-trading-core/pkg/cache"
	"bot-trading-core/pkg/db"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type harness struct {
	db        *db.Database
	store     *cache.MemoryStore
	oracle    *market.Oracle
	bus       *events.Bus
	matcher   *order.Matcher
	positions *risk.PositionManager
	registry  *strategy.Registry
	metrics   *monitor.SystemMetrics
	runner    *Runner
	svc       *Impl

	clock time.Time
}

func newHarness(t *testing.T, bars []market.Bar) *harness {
	t.Helper()
	database, err := db.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	require.NoError(t, db.ApplyMigrations(database))

	h := &harness{
		db:       database,
		store:    cache.NewMemoryStore(),
		bus:      events.NewBus(),
		registry: strategy.DefaultRegistry(),
		metrics:  monitor.NewSystemMetrics(),
		clock:    time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC),
	}
	h.oracle = market.NewOracle(h.store, 0)
	h.matcher = order.NewMatcher(database, h.oracle, nil, h.bus, nil)
	h.positions = risk.NewPositionManager(h.store)
	h.runner = NewRunner(RunnerConfig{
		DB:          database,
		Store:       h.store,
		Prices:      h.oracle,
		Matcher:     h.matcher,
		Positions:   h.positions,
		Registry:    h.registry,
		Deps:        strategy.Deps{Klines: &fakeKlines{bars: bars}, State: h.store},
		Bus:         h.bus,
		Metrics:     h.metrics,
		Concurrency: 2,
	})
	h.runner.now = h.now
	h.svc = NewImpl(Config{
		DB:        database,
		Store:     h.store,
		Matcher:   h.matcher,
		Positions: h.positions,
		Runner:    h.runner,
		Bus:       h.bus,
		Version:   "test",
	})
	h.svc.now = h.now
	return h
}

func (h *harness) now() time.Time { return h.clock }

func (h *harness) advance(d time.Duration) { h.clock = h.clock.Add(d) }

func (h *harness) addBot(t *testing.T, id int64, typ string, cfg map[string]any) {
	t.Helper()
	require.NoError(t, h.db.UpsertBot(context.Background(), db.Bot{
		ID:               id,
		Name:             typ,
		StrategyType:     typ,
		StrategyConfig:   cfg,
		Status:           db.BotActive,
		MaxDrawdownLimit: dec("20"),
	}))
}

func (h *harness) price(t *testing.T, pair, p string) {
	t.Helper()
	require.NoError(t, h.oracle.Publish(context.Background(), pair, market.Ticker{LastPrice: dec(p)}))
}

func (h *harness) deposit(t *testing.T, user, asset, amount string) {
	t.Helper()
	_, err := h.svc.Deposit(context.Background(), user, asset, dec(amount))
	require.NoError(t, err)
}

func (h *harness) subscribe(t *testing.T, user string, botID int64, alloc string) db.Subscription {
	t.Helper()
	sub, err := h.svc.Subscribe(context.Background(), user, botID, dec(alloc), nil)
	require.NoError(t, err)
	return sub
}

func (h *harness) wallet(t *testing.T, user, asset string) db.Wallet {
	t.Helper()
	w, _, err := h.db.GetWallet(context.Background(), user, asset)
	require.NoError(t, err)
	return w
}

func (h *harness) balance(t *testing.T, user, asset string) string {
	return h.wallet(t, user, asset).Balance.String()
}

func (h *harness) cycle(t *testing.T) {
	t.Helper()
	require.NoError(t, h.runner.Cycle(context.Background()))
}

type fakeKlines struct {
	mu   sync.Mutex
	bars []market.Bar
}

func (f *fakeKlines) Klines(_ context.Context, _, _ string, limit int) ([]market.Bar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if limit < len(f.bars) {
		return append([]market.Bar(nil), f.bars[len(f.bars)-limit:]...), nil
	}
	return append([]market.Bar(nil), f.bars...), nil
}

// stubStrategy answers with a fixed result and counts its calls.
type stubStrategy struct {
	mu    sync.Mutex
	typ   string
	res   strategy.Result
	calls int
	boom  bool
}

func (s *stubStrategy) Type() string { return s.typ }

func (s *stubStrategy) Generate(context.Context, string) strategy.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.boom {
		panic("strategy exploded")
	}
	return s.res
}

func (s *stubStrategy) set(res strategy.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.res = res
}

func (s *stubStrategy) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (h *harness) register(tag string, s *stubStrategy) {
	h.registry.Register(tag, func(strategy.Params, strategy.Deps) strategy.Strategy { return s })
}

// rsiDipBars is a 200-bar rally followed by a 15-bar pullback to 254:
// RSI 0 above a rising MA200 with ATR 4.
func rsiDipBars() []market.Bar {
	bars := make([]market.Bar, 0, 215)
	add := func(c float64) {
		bars = append(bars, market.Bar{
			OpenTime: int64(len(bars)) * 3_600_000,
			Open:     c, High: c + 1, Low: c - 1, Close: c, Volume: 100,
		})
	}
	for i := 0; i < 200; i++ {
		add(100 + float64(i))
	}
	for i := 200; i < 215; i++ {
		add(299 - 3*float64(i-199))
	}
	return bars
}
