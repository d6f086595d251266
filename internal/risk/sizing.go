package risk

import (
	"github.com/shopspring/decimal"

	"bot-trading-core/pkg/exchanges/common"
)

// QuantityPlaces is the base-asset precision of every bot order.
const QuantityPlaces = 5

var hundred = decimal.NewFromInt(100)

// RiskQuantity sizes an entry so that hitting the stop loses riskPct
// percent of the allocation: (allocation·riskPct/100) / (atr·stopLossATR).
// Without a usable stop distance it spends the risk amount at price.
func RiskQuantity(allocation, price decimal.Decimal, riskPct, atr, stopLossATR float64) decimal.Decimal {
	risk := allocation.Mul(decimal.NewFromFloat(riskPct)).Div(hundred)

	if atr > 0 && stopLossATR > 0 {
		distance := decimal.NewFromFloat(atr * stopLossATR)
		if distance.IsPositive() {
			return risk.Div(distance).RoundBank(QuantityPlaces)
		}
	}
	if price.IsPositive() {
		return risk.Div(price).RoundBank(QuantityPlaces)
	}
	return decimal.Zero
}

// GridQuantity spends pct percent of the allocation at price.
func GridQuantity(allocation, price decimal.Decimal, pct float64) decimal.Decimal {
	if !price.IsPositive() {
		return decimal.Zero
	}
	spend := allocation.Mul(decimal.NewFromFloat(pct)).Div(hundred)
	return spend.Div(price).RoundBank(QuantityPlaces)
}

// CapQuantity clamps qty to what the paying wallet can settle: quote
// balance at price for buys, base balance for sells. Caps round down so
// a capped order never exceeds the balance it was sized against.
func CapQuantity(side common.Side, qty, price, quoteBalance, baseBalance decimal.Decimal) decimal.Decimal {
	var limit decimal.Decimal
	switch side {
	case common.SideBuy:
		if !price.IsPositive() || !quoteBalance.IsPositive() {
			return decimal.Zero
		}
		limit = quoteBalance.Div(price).Truncate(QuantityPlaces)
	default:
		if !baseBalance.IsPositive() {
			return decimal.Zero
		}
		limit = baseBalance.Truncate(QuantityPlaces)
	}
	return decimal.Min(qty, limit)
}

// ExitQuantity is the whole base balance at order precision.
func ExitQuantity(baseBalance decimal.Decimal) decimal.Decimal {
	if !baseBalance.IsPositive() {
		return decimal.Zero
	}
	return baseBalance.Truncate(QuantityPlaces)
}
