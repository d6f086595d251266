package cache

import "fmt"

// LiveTradingKey holds the runtime trading-mode override ("true"/"false").
const LiveTradingKey = "system:live_trading"

func TickerKey(pair string) string { return fmt.Sprintf("market:%s:ticker", pair) }

func PositionKey(botID int64, userID string) string {
	return fmt.Sprintf("pos:%d:%s", botID, userID)
}

func LastTradeTimeKey(botID int64) string { return fmt.Sprintf("bot:%d:last_trade_time", botID) }
func LastSideKey(botID int64) string      { return fmt.Sprintf("bot:%d:last_side", botID) }
func KillSwitchKey(botID int64) string    { return fmt.Sprintf("bot:%d:kill_switch", botID) }
func DailyDrawdownKey(botID int64) string { return fmt.Sprintf("bot:%d:daily_mdd", botID) }

func GridStateKey(pair string) string { return fmt.Sprintf("grid:%s:state", pair) }
