package common

import (
	"context"

	"github.com/shopspring/decimal"
)

// Trader abstracts the live trading venue used by the matching engine.
type Trader interface {
	SymbolFilters(ctx context.Context, symbol string) (Filters, error)
	PlaceMarketOrder(ctx context.Context, symbol string, side Side, qty decimal.Decimal) (MarketOrderResult, error)
}
