package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"bot-trading-core/pkg/cache"
)

// ErrNoPrice means no usable price is known for the pair.
var ErrNoPrice = errors.New("no price available")

// Ticker is the JSON document stored under market:{pair}:ticker.
type Ticker struct {
	LastPrice decimal.Decimal `json:"last_price"`
	ChangePct float64         `json:"change_pct"`
	High      float64         `json:"high"`
	Low       float64         `json:"low"`
	Volume    float64         `json:"volume"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Oracle reads and writes the latest ticker per pair in the key-value store.
type Oracle struct {
	store  cache.Store
	maxAge time.Duration
	now    func() time.Time
}

// NewOracle builds an oracle. maxAge > 0 makes older tickers count as missing.
func NewOracle(store cache.Store, maxAge time.Duration) *Oracle {
	return &Oracle{store: store, maxAge: maxAge, now: time.Now}
}

// Publish stores t as the latest ticker for pair.
func (o *Oracle) Publish(ctx context.Context, pair string, t Ticker) error {
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = o.now().UTC()
	}
	raw, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return o.store.Set(ctx, cache.TickerKey(pair), raw)
}

// Ticker returns the stored ticker; ok is false when absent or stale.
func (o *Oracle) Ticker(ctx context.Context, pair string) (Ticker, bool, error) {
	e, found, err := o.store.Get(ctx, cache.TickerKey(pair))
	if err != nil || !found {
		return Ticker{}, false, err
	}
	var t Ticker
	if err := json.Unmarshal(e.Value, &t); err != nil {
		return Ticker{}, false, fmt.Errorf("decode ticker %s: %w", pair, err)
	}
	if o.maxAge > 0 && !t.UpdatedAt.IsZero() && o.now().Sub(t.UpdatedAt) > o.maxAge {
		return t, false, nil
	}
	return t, true, nil
}

// Price returns the latest positive price or ErrNoPrice.
func (o *Oracle) Price(ctx context.Context, pair string) (decimal.Decimal, error) {
	t, ok, err := o.Ticker(ctx, pair)
	if err != nil {
		return decimal.Zero, err
	}
	if !ok || !t.LastPrice.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w for %s", ErrNoPrice, pair)
	}
	return t.LastPrice, nil
}
