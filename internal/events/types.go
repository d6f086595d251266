package events

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event enumerates high-level topics inside the trading core.
type Event string

const (
	EventPriceTick       Event = "price_tick"
	EventOrderSubmitted  Event = "order.submitted"
	EventOrderFilled     Event = "order.filled"
	EventOrderRejected   Event = "order.rejected"
	EventOrderCancelled  Event = "order.cancelled"
	EventPositionOpened  Event = "position.opened"
	EventPositionClosed  Event = "position.closed"
	EventBotEvicted      Event = "bot.evicted"
	EventRiskAlert       Event = "risk_alert"
	EventTradingModeFlip Event = "system.trading_mode"
)

// OrderEvent describes an order transition. Price is the fill price for
// filled orders and the limit price otherwise.
type OrderEvent struct {
	OrderID         string          `json:"order_id"`
	UserID          string          `json:"user_id"`
	BotID           int64           `json:"bot_id,omitempty"`
	Pair            string          `json:"pair"`
	Side            string          `json:"side"`
	Type            string          `json:"type"`
	Quantity        decimal.Decimal `json:"quantity"`
	Price           decimal.Decimal `json:"price"`
	Mode            string          `json:"mode"`
	ExchangeOrderID string          `json:"exchange_order_id,omitempty"`
	Reason          string          `json:"reason,omitempty"`
	At              time.Time       `json:"at"`
}

// PositionEvent is emitted when a tracked position opens or closes.
type PositionEvent struct {
	BotID  int64     `json:"bot_id"`
	UserID string    `json:"user_id"`
	Pair   string    `json:"pair"`
	Side   string    `json:"side"`
	Entry  float64   `json:"entry"`
	Price  float64   `json:"price"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

// BotEvictedEvent is emitted once a bot is taken out of service.
type BotEvictedEvent struct {
	BotID  int64     `json:"bot_id"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// RiskAlert flags a condition an operator should look at.
type RiskAlert struct {
	BotID   int64     `json:"bot_id,omitempty"`
	UserID  string    `json:"user_id,omitempty"`
	Kind    string    `json:"kind"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// TickerEvent carries a fresh price for a pair.
type TickerEvent struct {
	Pair  string    `json:"pair"`
	Price float64   `json:"price"`
	At    time.Time `json:"at"`
}

// TradingModeEvent is emitted when the live/simulated override changes.
type TradingModeEvent struct {
	Live bool      `json:"live"`
	At   time.Time `json:"at"`
}
