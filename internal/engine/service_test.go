package engine

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bot-trading-core/internal/events"
	"bot-trading-core/internal/order"
	"bot-trading-core/internal/risk"
	"bot-trading-core/internal/strategy"
	"bot-trading-core/pkg/cache"
	"bot-trading-core/pkg/db"
	"bot-trading-core/pkg/exchanges/common"
)

func TestSubscribeEarmarksAllocation(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.addBot(t, 1, strategy.TypeRSITrend, nil)
	h.addBot(t, 2, strategy.TypeBollADX, nil)
	h.deposit(t, "alice", "USDT", "500")

	sub := h.subscribe(t, "alice", 1, "300")
	assert.True(t, sub.IsActive)
	assert.NotZero(t, sub.ID)
	w := h.wallet(t, "alice", "USDT")
	assert.Equal(t, "500", w.Balance.String())
	assert.Equal(t, "300", w.LockedBalance.String())

	_, err := h.svc.Subscribe(ctx, "alice", 1, dec("10"), nil)
	assert.ErrorIs(t, err, ErrAlreadySubscribed)

	_, err = h.svc.Subscribe(ctx, "alice", 2, dec("300"), nil)
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Equal(t, "300", h.wallet(t, "alice", "USDT").LockedBalance.String())

	_, err = h.svc.Subscribe(ctx, "alice", 99, dec("10"), nil)
	assert.ErrorIs(t, err, db.ErrNotFound)

	past := h.clock.Add(-time.Minute)
	_, err = h.svc.Subscribe(ctx, "alice", 2, dec("10"), &past)
	assert.Error(t, err)

	require.NoError(t, h.svc.Unsubscribe(ctx, "alice", 1))
	assert.Equal(t, "0", h.wallet(t, "alice", "USDT").LockedBalance.String())
	assert.ErrorIs(t, h.svc.Unsubscribe(ctx, "alice", 1), ErrNotSubscribed)

	// default allocation when none is given
	sub = h.subscribe(t, "alice", 2, "0")
	assert.Equal(t, "100", sub.AllocatedUSDT.String())
}

func TestReleaseNeverGoesNegative(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.addBot(t, 1, strategy.TypeRSITrend, nil)
	h.deposit(t, "alice", "USDT", "500")
	sub := h.subscribe(t, "alice", 1, "300")

	w := h.wallet(t, "alice", "USDT")
	w.LockedBalance = dec("100")
	require.NoError(t, h.db.SaveWallet(ctx, w))

	require.NoError(t, releaseSubscription(ctx, h.db, h.matcher, sub, h.clock))
	assert.Equal(t, "0", h.wallet(t, "alice", "USDT").LockedBalance.String())
}

func TestUnsubscribeClosesPosition(t *testing.T) {
	h := newHarness(t, rsiDipBars())
	ctx := context.Background()
	h.addBot(t, 1, strategy.TypeRSITrend, nil)
	h.deposit(t, "alice", "USDT", "1000")
	h.subscribe(t, "alice", 1, "1000")
	h.price(t, "BTC_USDT", "254")
	h.cycle(t)
	require.Equal(t, "2.08333", h.balance(t, "alice", "BTC"))

	require.NoError(t, h.svc.Unsubscribe(ctx, "alice", 1))

	assert.Equal(t, "0", h.balance(t, "alice", "BTC"))
	assert.Equal(t, "1000", h.balance(t, "alice", "USDT"))
	_, ok, err := h.svc.Position(ctx, "alice", 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSubscribeRejectsEvictedBot(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.addBot(t, 1, strategy.TypeRSITrend, nil)
	h.deposit(t, "alice", "USDT", "500")
	require.NoError(t, h.svc.EvictBot(ctx, 1, "test"))

	_, err := h.svc.Subscribe(ctx, "alice", 1, dec("100"), nil)
	assert.ErrorIs(t, err, ErrBotInactive)
}

func TestEvictBot(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.addBot(t, 1, strategy.TypeRSITrend, nil)
	h.deposit(t, "alice", "USDT", "1000")
	h.deposit(t, "bob", "USDT", "1000")
	h.subscribe(t, "alice", 1, "400")
	h.subscribe(t, "bob", 1, "600")
	h.price(t, "BTC_USDT", "100")

	resting, _, err := h.matcher.Submit(ctx, db.Order{
		UserID: "alice", BotID: 1, Pair: "BTC_USDT", Side: common.SideBuy,
		Type: common.OrderTypeLimit, Price: decimal.NewNullDecimal(dec("90")), Quantity: dec("0.01"),
	}, order.ModeSimulated)
	require.NoError(t, err)
	require.Equal(t, common.StatusOpen, resting.Status)

	evicted, unsub := h.bus.Subscribe(events.EventBotEvicted, 1)
	defer unsub()

	require.NoError(t, h.svc.EvictBot(ctx, 1, "manual"))

	bot, err := h.db.GetBot(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, db.BotEvicted, bot.Status)
	assert.True(t, bot.EvictedAt.Valid)

	killed, err := killSwitched(ctx, h.store, 1)
	require.NoError(t, err)
	assert.True(t, killed)

	o, err := h.db.GetOrder(ctx, resting.ID)
	require.NoError(t, err)
	assert.Equal(t, common.StatusCancelled, o.Status)

	subs, err := h.db.ListActiveSubscriptions(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, subs)
	assert.Equal(t, "0", h.wallet(t, "alice", "USDT").LockedBalance.String())
	assert.Equal(t, "0", h.wallet(t, "bob", "USDT").LockedBalance.String())

	select {
	case ev := <-evicted:
		assert.Equal(t, "manual", ev.(events.BotEvictedEvent).Reason)
	default:
		t.Fatal("no bot.evicted event")
	}

	// Evicting twice is a no-op.
	require.NoError(t, h.svc.EvictBot(ctx, 1, "again"))
}

func TestMonthlyEvaluation(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	for id := int64(1); id <= 4; id++ {
		h.addBot(t, id, strategy.TypeTrendMA200, nil)
	}
	snap := func(botID int64, win, ret, dd string) {
		require.NoError(t, h.db.UpsertPerformance(ctx, db.Performance{
			BotID: botID, Period: "2026-09",
			WinRate: dec(win), MonthlyReturnPct: dec(ret), MaxDrawdownPct: dec(dd),
			CalculatedAt: sql.NullTime{Time: h.clock, Valid: true},
		}))
	}
	snap(1, "80", "5", "10")
	snap(2, "65", "5", "10")
	snap(3, "80", "-1", "10")
	// bot 4 has no snapshot and stays

	evicted, err := h.svc.MonthlyEvaluation(ctx, "2026-09")
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3}, evicted)

	bots, err := h.db.ListActiveBots(ctx)
	require.NoError(t, err)
	ids := make([]int64, 0, len(bots))
	for _, b := range bots {
		ids = append(ids, b.ID)
	}
	assert.Equal(t, []int64{1, 4}, ids)
}

func TestDailyDrawdownCheck(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.addBot(t, 1, strategy.TypeBollADX, nil)
	h.addBot(t, 2, strategy.TypeBollADX, nil)
	h.addBot(t, 3, strategy.TypeBollADX, nil)
	require.NoError(t, h.store.Set(ctx, cache.DailyDrawdownKey(1), []byte("15.5")))
	require.NoError(t, h.store.Set(ctx, cache.DailyDrawdownKey(2), []byte("15")))

	evicted, err := h.svc.DailyDrawdownCheck(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, evicted)
	assert.True(t, risk.DailyDrawdownBreached(dec("15.01")))
}

func TestSetLiveTradingRefusedWithCapital(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.addBot(t, 1, strategy.TypeRSITrend, nil)
	h.deposit(t, "alice", "USDT", "500")
	h.subscribe(t, "alice", 1, "100")

	flips, unsub := h.bus.Subscribe(events.EventTradingModeFlip, 1)
	defer unsub()

	assert.ErrorIs(t, h.svc.SetLiveTrading(ctx, true), ErrCapitalExposed)
	live, err := h.svc.TradingMode(ctx)
	require.NoError(t, err)
	assert.False(t, live)

	require.NoError(t, h.svc.Unsubscribe(ctx, "alice", 1))
	require.NoError(t, h.svc.SetLiveTrading(ctx, true))
	live, err = h.svc.TradingMode(ctx)
	require.NoError(t, err)
	assert.True(t, live)

	select {
	case ev := <-flips:
		assert.True(t, ev.(events.TradingModeEvent).Live)
	default:
		t.Fatal("no trading mode event")
	}
}

func TestManualOrders(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.deposit(t, "alice", "usdt", "1000")
	h.price(t, "BTC_USDT", "100")

	o, res, err := h.svc.PlaceOrder(ctx, "alice", OrderRequest{Pair: "btc_usdt", Side: "BUY", Quantity: dec("1")})
	require.NoError(t, err)
	assert.True(t, res.Filled)
	assert.Equal(t, common.StatusFilled, o.Status)
	assert.Equal(t, "900", h.balance(t, "alice", "USDT"))

	o, res, err = h.svc.PlaceOrder(ctx, "alice", OrderRequest{
		Pair: "BTC_USDT", Side: "buy", Type: "limit", Quantity: dec("1"), Price: decimal.NewNullDecimal(dec("90")),
	})
	require.NoError(t, err)
	assert.False(t, res.Filled)

	open, err := h.svc.OpenOrders(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, open, 1)

	_, err = h.svc.CancelOrder(ctx, "bob", o.ID)
	assert.ErrorIs(t, err, db.ErrNotFound)
	cancelled, err := h.svc.CancelOrder(ctx, "alice", o.ID)
	require.NoError(t, err)
	assert.Equal(t, common.StatusCancelled, cancelled.Status)

	_, _, err = h.svc.PlaceOrder(ctx, "alice", OrderRequest{Pair: "BTC_USDT", Side: "hold", Quantity: dec("1")})
	assert.Error(t, err)

	wallets, err := h.svc.Wallets(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, wallets, 2)
}

func TestStatusAndListBots(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.addBot(t, 1, strategy.TypeRSITrend, map[string]any{"pair": "ETH_USDT"})
	h.addBot(t, 2, strategy.TypeBollADX, nil)
	h.deposit(t, "alice", "USDT", "500")
	h.subscribe(t, "alice", 1, "100")
	require.NoError(t, h.svc.SetKillSwitch(ctx, 2, true))

	st := h.svc.Status(ctx)
	assert.False(t, st.LiveTrading)
	assert.Equal(t, 2, st.ActiveBots)
	assert.Equal(t, 1, st.ActiveSubscriptions)
	assert.Equal(t, []string{"BTC_USDT", "ETH_USDT"}, st.Pairs)
	assert.Equal(t, "test", st.Version)

	bots, err := h.svc.ListBots(ctx)
	require.NoError(t, err)
	require.Len(t, bots, 2)
	assert.Equal(t, "ETH_USDT", bots[0].Pair)
	assert.Equal(t, 1, bots[0].Subscribers)
	assert.False(t, bots[0].KillSwitch)
	assert.True(t, bots[1].KillSwitch)

	assert.ErrorIs(t, h.svc.SetKillSwitch(ctx, 42, true), db.ErrNotFound)
}

func TestScheduleTimes(t *testing.T) {
	at := func(s string) time.Time {
		tm, err := time.Parse(time.RFC3339, s)
		require.NoError(t, err)
		return tm
	}
	assert.Equal(t, at("2026-10-02T00:00:00Z"), nextDaily(at("2026-10-01T12:00:00Z")))
	assert.Equal(t, at("2026-10-02T00:00:00Z"), nextDaily(at("2026-10-01T00:00:00Z")))
	assert.Equal(t, at("2027-01-01T00:00:00Z"), nextDaily(at("2026-12-31T23:59:59Z")))

	assert.Equal(t, at("2026-10-31T23:59:00Z"), nextMonthEnd(at("2026-10-01T12:00:00Z")))
	assert.Equal(t, at("2026-11-30T23:59:00Z"), nextMonthEnd(at("2026-10-31T23:59:00Z")))
	assert.Equal(t, at("2028-02-29T23:59:00Z"), nextMonthEnd(at("2028-02-10T08:00:00Z")))
}

type recordingService struct {
	Service
	daily   chan struct{}
	monthly chan string
}

func (r *recordingService) DailyDrawdownCheck(context.Context) ([]int64, error) {
	select {
	case r.daily <- struct{}{}:
	default:
	}
	return nil, nil
}

func (r *recordingService) MonthlyEvaluation(_ context.Context, period string) ([]int64, error) {
	select {
	case r.monthly <- period:
	default:
	}
	return nil, nil
}

func TestSchedulerFiresMonthEndJob(t *testing.T) {
	svc := &recordingService{daily: make(chan struct{}, 1), monthly: make(chan string, 1)}
	s := NewScheduler(svc, nil)
	s.now = func() time.Time { return time.Date(2026, 10, 31, 23, 58, 59, 950_000_000, time.UTC) }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	select {
	case period := <-svc.monthly:
		assert.Equal(t, "2026-10", period)
	case <-time.After(time.Second):
		t.Fatal("monthly evaluation not fired")
	}
}

func TestManualOrderRespectsEarmark(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.addBot(t, 1, strategy.TypeRSITrend, nil)
	h.deposit(t, "alice", "USDT", "1000")
	h.subscribe(t, "alice", 1, "1000")
	h.price(t, "BTC_USDT", "100")

	o, res, err := h.svc.PlaceOrder(ctx, "alice", OrderRequest{Pair: "BTC_USDT", Side: "buy", Quantity: dec("10")})
	require.ErrorIs(t, err, ErrInsufficientBalance)
	assert.False(t, res.Filled)
	assert.NotEqual(t, common.StatusFilled, o.Status)

	w := h.wallet(t, "alice", "USDT")
	assert.Equal(t, "1000", w.Balance.String())
	assert.Equal(t, "1000", w.LockedBalance.String())
	assert.Equal(t, "0", h.balance(t, "alice", "BTC"))
}
