package market

import (
	"context"

	"bot-trading-core/pkg/exchanges/common"
	binance "bot-trading-core/pkg/market/binance"
)

// BinanceKlines serves bars from the Binance REST API.
type BinanceKlines struct {
	Client *binance.Client
}

var _ KlineProvider = (*BinanceKlines)(nil)

func (b *BinanceKlines) Klines(ctx context.Context, pair, interval string, limit int) ([]Bar, error) {
	klines, err := b.Client.GetKlines(ctx, common.PairToSymbol(pair), interval, limit)
	if err != nil {
		return nil, err
	}
	bars := make([]Bar, len(klines))
	for i, k := range klines {
		bars[i] = Bar{
			OpenTime: k.OpenTime,
			Open:     k.Open,
			High:     k.High,
			Low:      k.Low,
			Close:    k.Close,
			Volume:   k.Volume,
		}
	}
	return bars, nil
}
