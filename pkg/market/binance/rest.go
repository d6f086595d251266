package market

import (
	"context"
	"fmt"
	"strconv"

	"github.com/adshao/go-binance/v2"
)

const testnetBaseURL = "https://testnet.binance.vision"

// Client fetches public spot market data through go-binance.
type Client struct {
	api *binance.Client
}

// NewClient builds a REST client; testnet switches the base URL.
// Klines are public, so empty credentials are fine.
func NewClient(apiKey, apiSecret string, testnet bool) *Client {
	api := binance.NewClient(apiKey, apiSecret)
	if testnet {
		api.BaseURL = testnetBaseURL
	}
	return &Client{api: api}
}

// GetKlines fetches the most recent limit klines, oldest first.
func (c *Client) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	raw, err := c.api.NewKlinesService().
		Symbol(symbol).
		Interval(interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance klines %s %s: %w", symbol, interval, err)
	}

	klines := make([]Kline, 0, len(raw))
	for _, k := range raw {
		klines = append(klines, Kline{
			Symbol:    symbol,
			OpenTime:  k.OpenTime,
			Open:      toFloat(k.Open),
			High:      toFloat(k.High),
			Low:       toFloat(k.Low),
			Close:     toFloat(k.Close),
			Volume:    toFloat(k.Volume),
			CloseTime: k.CloseTime,
		})
	}
	return klines, nil
}

func toFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	case int64:
		return float64(t)
	case int:
		return float64(t)
	default:
		return 0
	}
}

func toInt64(v any) int64 {
	switch t := v.(type) {
	case float64:
		return int64(t)
	case int64:
		return t
	case string:
		i, _ := strconv.ParseInt(t, 10, 64)
		return i
	default:
		return 0
	}
}
