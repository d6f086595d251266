package engine

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"bot-trading-core/internal/order"
	"bot-trading-core/internal/risk"
	"bot-trading-core/pkg/db"
)

var (
	ErrAlreadySubscribed = errors.New("already subscribed to this bot")
	ErrNotSubscribed     = errors.New("no active subscription for this bot")
	ErrBotInactive       = errors.New("bot is not accepting subscriptions")
	ErrCapitalExposed    = errors.New("trading mode cannot change while subscriptions are active")
	// ErrInsufficientBalance is shared with the matcher so callers can test
	// one sentinel for both subscribe and fill rejections.
	ErrInsufficientBalance = order.ErrInsufficientBalance
)

const (
	defaultPair           = "BTC_USDT"
	defaultSignalInterval = 300 // seconds
)

var defaultAllocation = decimal.NewFromInt(100)

// SystemStatus summarizes the process for the status endpoint.
type SystemStatus struct {
	LiveTrading         bool      `json:"live_trading"`
	ActiveBots          int       `json:"active_bots"`
	ActiveSubscriptions int       `json:"active_subscriptions"`
	Pairs               []string  `json:"pairs"`
	Version             string    `json:"version"`
	StartedAt           time.Time `json:"started_at"`
	EventsDropped       uint64    `json:"events_dropped"`
}

// BotInfo is a bot row plus its runtime flags.
type BotInfo struct {
	db.Bot
	Pair        string `json:"pair"`
	KillSwitch  bool   `json:"kill_switch"`
	Subscribers int    `json:"subscribers"`
}

// PositionInfo is a tracked position together with where it lives.
type PositionInfo struct {
	BotID  int64  `json:"bot_id"`
	UserID string `json:"user_id"`
	Pair   string `json:"pair"`
	risk.Position
}

// OrderRequest is a manual order from a user.
type OrderRequest struct {
	Pair     string
	Side     string
	Type     string
	Quantity decimal.Decimal
	Price    decimal.NullDecimal
}
