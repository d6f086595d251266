package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"bot-trading-core/internal/order"
	"bot-trading-core/pkg/db"
)

// AllocationAsset is the quote asset subscriptions earmark capital in.
const AllocationAsset = order.AllocationAsset

// earmark creates an active subscription and locks its allocation on the
// user's quote wallet in one transaction.
func earmark(ctx context.Context, d *db.Database, m *order.Matcher, sub db.Subscription) (db.Subscription, error) {
	unlock := m.LockUser(sub.UserID)
	defer unlock()

	var out db.Subscription
	err := d.WithTx(ctx, func(tx *db.Tx) error {
		if _, err := tx.GetActiveSubscription(ctx, sub.UserID, sub.BotID); err == nil {
			return ErrAlreadySubscribed
		} else if !errors.Is(err, db.ErrNotFound) {
			return err
		}

		w, _, err := tx.LockWallet(ctx, sub.UserID, AllocationAsset)
		if err != nil {
			return err
		}
		if w.Available().LessThan(sub.AllocatedUSDT) {
			return fmt.Errorf("%w: %s available, %s requested", ErrInsufficientBalance, w.Available(), sub.AllocatedUSDT)
		}
		w.LockedBalance = w.LockedBalance.Add(sub.AllocatedUSDT)
		if err := tx.SaveWallet(ctx, w); err != nil {
			return err
		}

		out, err = tx.CreateSubscription(ctx, sub)
		return err
	})
	return out, err
}

// releaseSubscription deactivates sub and returns its allocation to the
// user's free balance. The locked balance never drops below zero nor
// exceeds the allocations still active.
func releaseSubscription(ctx context.Context, d *db.Database, m *order.Matcher, sub db.Subscription, at time.Time) error {
	unlock := m.LockUser(sub.UserID)
	defer unlock()

	return d.WithTx(ctx, func(tx *db.Tx) error {
		if err := tx.DeactivateSubscription(ctx, sub.ID, at); err != nil {
			if errors.Is(err, db.ErrNotFound) {
				return ErrNotSubscribed
			}
			return err
		}
		w, found, err := tx.LockWallet(ctx, sub.UserID, AllocationAsset)
		if err != nil || !found {
			return err
		}
		remaining, err := tx.ListActiveSubscriptionsByUser(ctx, sub.UserID)
		if err != nil {
			return err
		}
		still := decimal.Zero
		for _, r := range remaining {
			still = still.Add(r.AllocatedUSDT)
		}
		w.LockedBalance = decimal.Min(w.LockedBalance.Sub(sub.AllocatedUSDT), still)
		if w.LockedBalance.IsNegative() {
			w.LockedBalance = decimal.Zero
		}
		return tx.SaveWallet(ctx, w)
	})
}
