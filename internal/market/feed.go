package market

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"bot-trading-core/internal/events"
	"bot-trading-core/pkg/exchanges/common"
	binance "bot-trading-core/pkg/market/binance"
)

// TickerStream is the part of the Binance stream client the feed needs.
type TickerStream interface {
	SubscribeMiniTicker(ctx context.Context, symbol string) (<-chan binance.MiniTicker, func(), error)
}

// Feed streams mini tickers from Binance into the oracle, one goroutine
// per pair, reconnecting with capped exponential backoff.
type Feed struct {
	Stream     TickerStream
	Oracle     *Oracle
	Bus        *events.Bus
	Pairs      []string
	Log        *zap.Logger
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// Start begins streaming every configured pair until ctx ends.
func (f *Feed) Start(ctx context.Context) {
	log := f.Log
	if log == nil {
		log = zap.NewNop()
	}
	if f.Stream == nil || f.Oracle == nil {
		log.Warn("market feed not fully configured; skipping start")
		return
	}
	for _, pair := range f.Pairs {
		go f.run(ctx, pair, log.With(zap.String("pair", pair)))
	}
}

func (f *Feed) run(ctx context.Context, pair string, log *zap.Logger) {
	minBackoff, maxBackoff := f.MinBackoff, f.MaxBackoff
	if minBackoff <= 0 {
		minBackoff = time.Second
	}
	if maxBackoff < minBackoff {
		maxBackoff = 30 * time.Second
	}
	backoff := minBackoff

	for ctx.Err() == nil {
		ch, stop, err := f.Stream.SubscribeMiniTicker(ctx, common.PairToSymbol(pair))
		if err != nil {
			log.Warn("ticker subscribe failed", zap.Error(err), zap.Duration("retry_in", backoff))
		} else {
			received := f.consume(ctx, pair, ch, log)
			stop()
			if received {
				backoff = minBackoff
			}
			if ctx.Err() != nil {
				return
			}
			log.Info("ticker stream closed, reconnecting", zap.Duration("retry_in", backoff))
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (f *Feed) consume(ctx context.Context, pair string, ch <-chan binance.MiniTicker, log *zap.Logger) bool {
	received := false
	for mt := range ch {
		received = true
		t := tickerFromMini(mt)
		if err := f.Oracle.Publish(ctx, pair, t); err != nil {
			log.Warn("ticker publish failed", zap.Error(err))
			continue
		}
		price, _ := t.LastPrice.Float64()
		f.Bus.Publish(events.EventPriceTick, events.TickerEvent{Pair: pair, Price: price, At: t.UpdatedAt})
	}
	return received
}

func tickerFromMini(mt binance.MiniTicker) Ticker {
	change := 0.0
	if mt.Open != 0 {
		change = (mt.Close - mt.Open) / mt.Open * 100
	}
	updated := time.Now().UTC()
	if mt.EventTime > 0 {
		updated = time.UnixMilli(mt.EventTime).UTC()
	}
	return Ticker{
		LastPrice: decimal.NewFromFloat(mt.Close),
		ChangePct: change,
		High:      mt.High,
		Low:       mt.Low,
		Volume:    mt.Volume,
		UpdatedAt: updated,
	}
}
