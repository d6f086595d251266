package order

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"bot-trading-core/internal/events"
	"bot-trading-core/pkg/db"
	"bot-trading-core/pkg/exchanges/common"
)

// TryFillLive executes o as a market order on the venue and reconciles
// the local wallets from the reported average price and executed
// quantity. Any failure cancels the order; nothing is retried.
func (m *Matcher) TryFillLive(ctx context.Context, o db.Order) (Result, error) {
	res := Result{OrderID: o.ID}
	fail := func(err error) (Result, error) {
		m.Log.Warn("live fill failed", append(zapOrder(o), zap.Error(err))...)
		m.cancelWithReason(ctx, o, err)
		return res, err
	}

	if m.Trader == nil {
		return fail(ErrLiveUnavailable)
	}
	if o.Type != common.OrderTypeMarket {
		return fail(ErrLimitUnsupported)
	}
	base, quote, err := common.SplitPair(o.Pair)
	if err != nil {
		return fail(err)
	}

	unlock := m.LockUser(o.UserID)
	defer unlock()

	price, err := m.Prices.Price(ctx, o.Pair)
	if err != nil {
		return fail(err)
	}

	exCtx, cancel := context.WithTimeout(ctx, m.ExchangeTimeout)
	defer cancel()

	symbol := common.PairToSymbol(o.Pair)
	filters, err := m.Trader.SymbolFilters(exCtx, symbol)
	if err != nil {
		return fail(err)
	}
	qty, err := common.ValidateQuantity(symbol, o.Quantity, price, filters)
	if err != nil {
		return fail(err)
	}

	if o.Side == common.SideBuy {
		w, _, err := m.DB.GetWallet(ctx, o.UserID, quote)
		if err != nil {
			return fail(err)
		}
		if need, have := qty.Mul(price), Spendable(w, o.BotID); have.LessThan(need) {
			return fail(fmt.Errorf("%w: need %s %s, have %s", ErrInsufficientBalance, need, quote, have))
		}
	} else {
		w, _, err := m.DB.GetWallet(ctx, o.UserID, base)
		if err != nil {
			return fail(err)
		}
		if have := Spendable(w, o.BotID); have.LessThan(qty) {
			return fail(fmt.Errorf("%w: need %s %s, have %s", ErrInsufficientBalance, qty, base, have))
		}
	}

	fill, err := m.Trader.PlaceMarketOrder(exCtx, symbol, o.Side, qty)
	if err != nil {
		m.alert(o, "live_order_failed", err.Error())
		return fail(err)
	}

	avg := fill.AveragePrice()
	filled := fill.FilledQty()
	cost := avg.Mul(filled)
	var clamped []string

	err = m.DB.WithTx(ctx, func(tx *db.Tx) error {
		clamped = clamped[:0]
		wallets, err := lockWallets(ctx, tx, o.UserID, base, quote)
		if err != nil {
			return err
		}
		b, q := wallets[base], wallets[quote]
		if o.Side == common.SideBuy {
			q.Balance = q.Balance.Sub(cost)
			b.Balance = b.Balance.Add(filled)
		} else {
			b.Balance = b.Balance.Sub(filled)
			q.Balance = q.Balance.Add(cost)
		}
		// The venue already executed; keep the ledger non-negative and
		// flag the drift instead of refusing.
		for _, w := range []*db.Wallet{&b, &q} {
			if w.Balance.IsNegative() {
				clamped = append(clamped, fmt.Sprintf("%s %s", w.Asset, w.Balance))
				w.Balance = decimal.Zero
			}
		}
		b.LockedBalance = clampEarmark(b.LockedBalance, b.Balance)
		if err := moveEarmark(ctx, tx, o, &q, cost); err != nil {
			return err
		}
		return settle(ctx, tx, o, b, q, filled, avg, fill.ExchangeOrderID, m.now())
	})
	if err != nil {
		m.alert(o, "live_settlement_failed",
			fmt.Sprintf("venue order %s executed but local settlement failed: %v", fill.ExchangeOrderID, err))
		return fail(fmt.Errorf("settle venue order %s: %w", fill.ExchangeOrderID, err))
	}
	for _, c := range clamped {
		m.alert(o, "balance_clamped", "wallet would go negative after live fill: "+c)
	}

	o.Status = common.StatusFilled
	o.FilledQuantity = filled
	o.ExchangeOrderID = fill.ExchangeOrderID
	m.publishOrder(events.EventOrderFilled, o, ModeLive, avg, "")
	m.Log.Info("live order filled", append(zapOrder(o),
		zap.String("exchange_order_id", fill.ExchangeOrderID),
		zap.String("avg_price", avg.String()), zap.String("qty", filled.String()))...)

	res.Filled = true
	res.FillPrice = avg
	res.Quantity = filled
	res.ExchangeOrderID = fill.ExchangeOrderID
	return res, nil
}
