package risk

import "github.com/shopspring/decimal"

// Eviction thresholds.
var (
	MinWinRate         = decimal.NewFromInt(70)
	DailyDrawdownLimit = decimal.NewFromInt(15)
)

// Performance is the slice of a bot's monthly record the eviction rule reads.
type Performance struct {
	WinRate          decimal.Decimal
	MonthlyReturnPct decimal.Decimal
	MaxDrawdownPct   decimal.Decimal
}

// ShouldEvict reports whether a bot's month disqualifies it, and why.
func ShouldEvict(p Performance, maxDrawdown decimal.Decimal) (bool, string) {
	switch {
	case p.WinRate.LessThan(MinWinRate):
		return true, "win rate " + p.WinRate.String() + "% below " + MinWinRate.String() + "%"
	case p.MonthlyReturnPct.IsNegative():
		return true, "negative monthly return " + p.MonthlyReturnPct.String() + "%"
	case p.MaxDrawdownPct.GreaterThan(maxDrawdown):
		return true, "drawdown " + p.MaxDrawdownPct.String() + "% above limit " + maxDrawdown.String() + "%"
	}
	return false, ""
}

// DailyDrawdownBreached applies the intraday drawdown rule.
func DailyDrawdownBreached(mdd decimal.Decimal) bool {
	return mdd.GreaterThan(DailyDrawdownLimit)
}
