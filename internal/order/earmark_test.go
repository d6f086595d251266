package order

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bot-trading-core/pkg/db"
	"bot-trading-core/pkg/exchanges/common"
)

func TestSpendable(t *testing.T) {
	usdt := db.Wallet{Asset: "USDT", Balance: dec("1000"), LockedBalance: dec("700")}

	assert.Equal(t, "300", Spendable(usdt, 0).String())
	assert.Equal(t, "700", Spendable(usdt, 1).String())

	over := db.Wallet{Asset: "USDT", Balance: dec("100"), LockedBalance: dec("300")}
	assert.Equal(t, "0", Spendable(over, 0).String())
	assert.Equal(t, "100", Spendable(over, 1).String())

	btc := db.Wallet{Asset: "BTC", Balance: dec("2")}
	assert.Equal(t, "2", Spendable(btc, 0).String())
	assert.Equal(t, "2", Spendable(btc, 1).String())
}

// earmarked gives user a wallet of deposit USDT with alloc committed to
// an active subscription of bot 1.
func earmarked(t *testing.T, h *harness, user, deposit, alloc string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.db.UpsertBot(ctx, db.Bot{ID: 1, Name: "bot", StrategyType: "rsi_trend"}))
	_, err := h.db.CreateSubscription(ctx, db.Subscription{UserID: user, BotID: 1, AllocatedUSDT: dec(alloc)})
	require.NoError(t, err)
	h.deposit(t, user, "USDT", deposit)
	w, _, err := h.db.GetWallet(ctx, user, "USDT")
	require.NoError(t, err)
	w.LockedBalance = dec(alloc)
	require.NoError(t, h.db.SaveWallet(ctx, w))
}

func (h *harness) wallet(t *testing.T, user, asset string) db.Wallet {
	t.Helper()
	w, _, err := h.db.GetWallet(context.Background(), user, asset)
	require.NoError(t, err)
	return w
}

func TestManualBuyCannotSpendEarmark(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	earmarked(t, h, "alice", "1000", "1000")
	h.price(t, "BTC_USDT", "100")

	o, res, err := h.matcher.Submit(ctx, marketOrder("alice", common.SideBuy, "10"), ModeSimulated)
	require.ErrorIs(t, err, ErrInsufficientBalance)
	assert.False(t, res.Filled)
	assert.NotEqual(t, common.StatusFilled, o.Status)

	w := h.wallet(t, "alice", "USDT")
	assert.Equal(t, "1000", w.Balance.String())
	assert.Equal(t, "1000", w.LockedBalance.String())

	// Only the free part is spendable by hand.
	h.deposit(t, "alice", "USDT", "100")
	_, res, err = h.matcher.Submit(ctx, marketOrder("alice", common.SideBuy, "1"), ModeSimulated)
	require.NoError(t, err)
	require.True(t, res.Filled)
	w = h.wallet(t, "alice", "USDT")
	assert.Equal(t, "1000", w.Balance.String())
	assert.Equal(t, "1000", w.LockedBalance.String())
	assert.True(t, w.Available().IsZero())
}

func TestBotFillsMoveEarmark(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	earmarked(t, h, "alice", "1000", "400")
	h.price(t, "BTC_USDT", "100")

	buy := marketOrder("alice", common.SideBuy, "3")
	buy.BotID = 1
	_, res, err := h.matcher.Submit(ctx, buy, ModeSimulated)
	require.NoError(t, err)
	require.True(t, res.Filled)

	w := h.wallet(t, "alice", "USDT")
	assert.Equal(t, "700", w.Balance.String())
	assert.Equal(t, "100", w.LockedBalance.String())
	assert.Equal(t, "600", w.Available().String())

	// A bot may not dip into the free balance.
	more := marketOrder("alice", common.SideBuy, "2")
	more.BotID = 1
	_, _, err = h.matcher.Submit(ctx, more, ModeSimulated)
	require.ErrorIs(t, err, ErrInsufficientBalance)

	// Proceeds refill the earmark up to the allocation; profit is free.
	h.price(t, "BTC_USDT", "150")
	sell := marketOrder("alice", common.SideSell, "3")
	sell.BotID = 1
	_, res, err = h.matcher.Submit(ctx, sell, ModeSimulated)
	require.NoError(t, err)
	require.True(t, res.Filled)

	w = h.wallet(t, "alice", "USDT")
	assert.Equal(t, "1150", w.Balance.String())
	assert.Equal(t, "400", w.LockedBalance.String())
	assert.Equal(t, "750", w.Available().String())
}
