package db

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// LockWallet reads a wallet with a row lock held until the transaction ends.
// On SQLite the single-connection transaction already excludes other writers.
// A missing row is inserted first so PostgreSQL always has a row to lock;
// found reports whether the wallet existed before this call.
func (t *Tx) LockWallet(ctx context.Context, userID, asset string) (Wallet, bool, error) {
	res, err := t.exec(ctx, `
		INSERT INTO wallets (user_id, asset, balance, locked_balance)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, asset) DO NOTHING`, userID, asset, decimal.Zero, decimal.Zero)
	if err != nil {
		return Wallet{}, false, fmt.Errorf("ensure wallet %s/%s: %w", userID, asset, err)
	}
	created, err := res.RowsAffected()
	if err != nil {
		return Wallet{}, false, err
	}
	w, _, err := t.getWallet(ctx, userID, asset, true)
	return w, created == 0, err
}

// Deposit credits amount to (user, asset), creating the wallet when missing.
func (d *Database) Deposit(ctx context.Context, userID, asset string, amount decimal.Decimal) (Wallet, error) {
	if !amount.IsPositive() {
		return Wallet{}, fmt.Errorf("deposit amount must be positive, got %s", amount)
	}
	var out Wallet
	err := d.WithTx(ctx, func(tx *Tx) error {
		w, _, err := tx.LockWallet(ctx, userID, asset)
		if err != nil {
			return err
		}
		w.Balance = w.Balance.Add(amount)
		if err := tx.SaveWallet(ctx, w); err != nil {
			return err
		}
		out = w
		return nil
	})
	return out, err
}
