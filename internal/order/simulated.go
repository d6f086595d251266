package order

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"bot-trading-core/internal/events"
	"bot-trading-core/pkg/db"
	"bot-trading-core/pkg/exchanges/common"
)

// TryFill settles o against the oracle price. Market orders fill at the
// oracle price; limit orders fill at their own price once the oracle has
// crossed it. Both wallets are locked and both legs computed before
// anything is written; a rejection leaves the order open and no trace.
func (m *Matcher) TryFill(ctx context.Context, o db.Order) (Result, error) {
	res := Result{OrderID: o.ID}
	base, quote, err := common.SplitPair(o.Pair)
	if err != nil {
		return res, err
	}

	unlock := m.LockUser(o.UserID)
	defer unlock()

	price, err := m.Prices.Price(ctx, o.Pair)
	if err != nil {
		return res, err
	}

	fillPrice := price
	if o.Type == common.OrderTypeLimit {
		limit := o.Price.Decimal
		crossed := (o.Side == common.SideBuy && price.LessThanOrEqual(limit)) ||
			(o.Side == common.SideSell && price.GreaterThanOrEqual(limit))
		if !crossed {
			res.FillPrice = limit
			return res, nil
		}
		fillPrice = limit
	}

	qty := o.Quantity
	cost := qty.Mul(fillPrice)
	now := m.now()

	err = m.DB.WithTx(ctx, func(tx *db.Tx) error {
		wallets, err := lockWallets(ctx, tx, o.UserID, base, quote)
		if err != nil {
			return err
		}
		b, q := wallets[base], wallets[quote]

		if o.Side == common.SideBuy {
			if have := Spendable(q, o.BotID); have.LessThan(cost) {
				return fmt.Errorf("%w: need %s %s, have %s", ErrInsufficientBalance, cost, quote, have)
			}
			q.Balance = q.Balance.Sub(cost)
			b.Balance = b.Balance.Add(qty)
		} else {
			if have := Spendable(b, o.BotID); have.LessThan(qty) {
				return fmt.Errorf("%w: need %s %s, have %s", ErrInsufficientBalance, qty, base, have)
			}
			b.Balance = b.Balance.Sub(qty)
			q.Balance = q.Balance.Add(cost)
		}
		b.LockedBalance = clampEarmark(b.LockedBalance, b.Balance)
		if err := moveEarmark(ctx, tx, o, &q, cost); err != nil {
			return err
		}
		return settle(ctx, tx, o, b, q, qty, fillPrice, "", now)
	})
	if err != nil {
		if errors.Is(err, ErrInsufficientBalance) {
			m.publishOrder(events.EventOrderRejected, o, ModeSimulated, fillPrice, err.Error())
		}
		return res, err
	}

	o.Status = common.StatusFilled
	o.FilledQuantity = qty
	m.publishOrder(events.EventOrderFilled, o, ModeSimulated, fillPrice, "")
	m.Log.Info("order filled", append(zapOrder(o),
		zap.String("price", fillPrice.String()), zap.String("qty", qty.String()))...)

	res.Filled = true
	res.FillPrice = fillPrice
	res.Quantity = qty
	return res, nil
}

// lockWallets takes the row locks of both assets in a fixed order so two
// fills of the same user can never wait on each other crosswise.
func lockWallets(ctx context.Context, tx *db.Tx, userID string, assets ...string) (map[string]db.Wallet, error) {
	sorted := append([]string(nil), assets...)
	sort.Strings(sorted)
	out := make(map[string]db.Wallet, len(sorted))
	for _, a := range sorted {
		w, _, err := tx.LockWallet(ctx, userID, a)
		if err != nil {
			return nil, err
		}
		out[a] = w
	}
	return out, nil
}

// settle writes both wallets, the fill and its trade inside tx.
func settle(ctx context.Context, tx *db.Tx, o db.Order, base, quote db.Wallet, qty, price decimal.Decimal, exchangeID string, now time.Time) error {
	if err := tx.SaveWallet(ctx, base); err != nil {
		return err
	}
	if err := tx.SaveWallet(ctx, quote); err != nil {
		return err
	}
	if err := tx.FillOrder(ctx, o.ID, qty, exchangeID, now); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrOrderNotOpen, o.ID)
		}
		return err
	}
	return tx.CreateTrade(ctx, db.Trade{
		ID:        uuid.NewString(),
		OrderID:   o.ID,
		UserID:    o.UserID,
		Pair:      o.Pair,
		Side:      o.Side,
		Price:     price,
		Quantity:  qty,
		CreatedAt: now,
	})
}
