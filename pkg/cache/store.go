// Package cache defines the key-value store used for hot trading state:
// tickers, open positions, cooldown stamps, grid progress and runtime flags.
package cache

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrConflict is returned when a compare-and-swap loop keeps losing races.
	ErrConflict = errors.New("cache: too many concurrent updates")
	// ErrSkipWrite lets an Update callback leave the key untouched.
	ErrSkipWrite = errors.New("cache: skip write")
)

// Entry is a stored value and the version it was written at.
// Versions start at 1; version 0 means "absent".
type Entry struct {
	Value   []byte
	Version uint64
}

// Store is the key-value contract. CompareAndSwap succeeds only when the
// key's current version equals version (0 requires the key to be absent).
type Store interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	CompareAndSwap(ctx context.Context, key string, version uint64, value []byte) (bool, error)
}

const maxUpdateAttempts = 16

// Update runs a read-modify-write on key until the swap lands.
// fn receives nil when the key is absent.
func Update(ctx context.Context, s Store, key string, fn func(cur []byte) ([]byte, error)) error {
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		entry, found, err := s.Get(ctx, key)
		if err != nil {
			return fmt.Errorf("get %s: %w", key, err)
		}
		var cur []byte
		var version uint64
		if found {
			cur, version = entry.Value, entry.Version
		}
		next, err := fn(cur)
		if errors.Is(err, ErrSkipWrite) {
			return nil
		}
		if err != nil {
			return err
		}
		ok, err := s.CompareAndSwap(ctx, key, version, next)
		if err != nil {
			return fmt.Errorf("cas %s: %w", key, err)
		}
		if ok {
			return nil
		}
	}
	return ErrConflict
}

// GetString is a convenience for flag-style keys.
func GetString(ctx context.Context, s Store, key string) (string, bool, error) {
	e, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return "", ok, err
	}
	return string(e.Value), true, nil
}
