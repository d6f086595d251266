package common

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite returns the offsetting side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// ParseSide accepts buy/sell in any case.
func ParseSide(s string) (Side, error) {
	switch Side(strings.ToLower(strings.TrimSpace(s))) {
	case SideBuy:
		return SideBuy, nil
	case SideSell:
		return SideSell, nil
	}
	return "", fmt.Errorf("invalid side %q", s)
}

// OrderType denotes the order types the core fills.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// OrderStatus is the lifecycle of a local order. Filled and cancelled are terminal.
type OrderStatus string

const (
	StatusOpen      OrderStatus = "open"
	StatusFilled    OrderStatus = "filled"
	StatusCancelled OrderStatus = "cancelled"
)

var (
	ErrBelowMinQty      = errors.New("quantity below venue minimum")
	ErrAboveMaxQty      = errors.New("quantity above venue maximum")
	ErrBelowMinNotional = errors.New("notional below venue minimum")
)

// DefaultStepSize applies when a venue reports no LOT_SIZE filter.
var DefaultStepSize = decimal.RequireFromString("0.00001")

// Filters are the venue's quantity constraints for a symbol.
type Filters struct {
	StepSize    decimal.Decimal
	MinQty      decimal.Decimal
	MaxQty      decimal.Decimal
	MinNotional decimal.Decimal
}

// RoundStepSize rounds qty down to a multiple of step.
func RoundStepSize(qty, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return qty
	}
	return qty.Div(step).Floor().Mul(step)
}

// ValidateQuantity rounds qty down to the step size and checks the venue
// minimums. It returns the quantity that may be submitted.
func ValidateQuantity(symbol string, qty, price decimal.Decimal, f Filters) (decimal.Decimal, error) {
	step := f.StepSize
	if !step.IsPositive() {
		step = DefaultStepSize
	}
	adjusted := RoundStepSize(qty, step)

	if !adjusted.IsPositive() || adjusted.LessThan(f.MinQty) {
		return adjusted, fmt.Errorf("%w: %s < %s for %s", ErrBelowMinQty, adjusted, f.MinQty, symbol)
	}
	if f.MaxQty.IsPositive() && adjusted.GreaterThan(f.MaxQty) {
		return adjusted, fmt.Errorf("%w: %s > %s for %s", ErrAboveMaxQty, adjusted, f.MaxQty, symbol)
	}
	if f.MinNotional.IsPositive() && price.IsPositive() {
		notional := adjusted.Mul(price)
		if notional.LessThan(f.MinNotional) {
			return adjusted, fmt.Errorf("%w: %s < %s for %s", ErrBelowMinNotional, notional, f.MinNotional, symbol)
		}
	}
	return adjusted, nil
}

// Fill is one execution reported by the venue for a market order.
type Fill struct {
	Price           decimal.Decimal
	Qty             decimal.Decimal
	Commission      decimal.Decimal
	CommissionAsset string
}

// MarketOrderResult is the venue's answer to a market order.
type MarketOrderResult struct {
	ExchangeOrderID string
	Status          string
	ExecutedQty     decimal.Decimal
	QuoteQty        decimal.Decimal
	Fills           []Fill
}

// AveragePrice is the quantity-weighted fill price. It falls back to
// QuoteQty/ExecutedQty when the venue omitted the fill breakdown.
func (r MarketOrderResult) AveragePrice() decimal.Decimal {
	notional, qty := decimal.Zero, decimal.Zero
	for _, f := range r.Fills {
		notional = notional.Add(f.Price.Mul(f.Qty))
		qty = qty.Add(f.Qty)
	}
	if qty.IsPositive() {
		return notional.Div(qty)
	}
	if r.ExecutedQty.IsPositive() {
		return r.QuoteQty.Div(r.ExecutedQty)
	}
	return decimal.Zero
}

// FilledQty prefers the venue's executed quantity over the fill sum.
func (r MarketOrderResult) FilledQty() decimal.Decimal {
	if r.ExecutedQty.IsPositive() {
		return r.ExecutedQty
	}
	qty := decimal.Zero
	for _, f := range r.Fills {
		qty = qty.Add(f.Qty)
	}
	return qty
}

// SplitPair splits "BTC_USDT" into ("BTC", "USDT").
func SplitPair(pair string) (base, quote string, err error) {
	parts := strings.Split(pair, "_")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid pair %q, want BASE_QUOTE", pair)
	}
	return strings.ToUpper(parts[0]), strings.ToUpper(parts[1]), nil
}

// PairToSymbol converts "BTC_USDT" to the venue symbol "BTCUSDT".
func PairToSymbol(pair string) string {
	return strings.ToUpper(strings.ReplaceAll(pair, "_", ""))
}
