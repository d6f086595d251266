package order

import (
	"context"

	"github.com/shopspring/decimal"

	"bot-trading-core/pkg/db"
	"bot-trading-core/pkg/exchanges/common"
)

// AllocationAsset is the quote asset subscriptions earmark capital in.
const AllocationAsset = "USDT"

// Spendable is the part of a quote wallet an order may draw on. Bot orders
// spend the capital earmarked by subscriptions; manual orders only what is
// left free. Wallets of other assets carry no earmark.
func Spendable(w db.Wallet, botID int64) decimal.Decimal {
	var out decimal.Decimal
	switch {
	case w.Asset != AllocationAsset:
		out = w.Balance
	case botID != 0:
		out = decimal.Min(w.LockedBalance, w.Balance)
	default:
		out = w.Available()
	}
	if out.IsNegative() {
		return decimal.Zero
	}
	return out
}

// moveEarmark keeps the quote wallet's earmark in step with a bot fill: a
// buy draws the cost out of it and a sell puts the proceeds back, up to
// the user's active allocations. The earmark stays within [0, balance].
func moveEarmark(ctx context.Context, tx *db.Tx, o db.Order, q *db.Wallet, amount decimal.Decimal) error {
	if o.BotID != 0 && q.Asset == AllocationAsset {
		if o.Side == common.SideBuy {
			q.LockedBalance = q.LockedBalance.Sub(amount)
		} else {
			subs, err := tx.ListActiveSubscriptionsByUser(ctx, o.UserID)
			if err != nil {
				return err
			}
			allocated := decimal.Zero
			for _, s := range subs {
				allocated = allocated.Add(s.AllocatedUSDT)
			}
			q.LockedBalance = decimal.Min(q.LockedBalance.Add(amount), allocated)
		}
	}
	q.LockedBalance = clampEarmark(q.LockedBalance, q.Balance)
	return nil
}

func clampEarmark(locked, balance decimal.Decimal) decimal.Decimal {
	if locked.GreaterThan(balance) {
		locked = balance
	}
	if locked.IsNegative() {
		return decimal.Zero
	}
	return locked
}
