package db

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"

	"bot-trading-core/pkg/exchanges/common"
)

type BotStatus string

const (
	BotActive  BotStatus = "active"
	BotEvicted BotStatus = "evicted"
)

// Bot is a published trading bot. StrategyConfig is the raw parameter map
// handed to the strategy constructor.
type Bot struct {
	ID               int64
	Name             string
	Description      string
	StrategyType     string
	StrategyConfig   map[string]any
	Status           BotStatus
	MaxDrawdownLimit decimal.Decimal
	MonthlyFee       decimal.Decimal
	CreatedAt        time.Time
	EvictedAt        sql.NullTime
}

// Subscription links a user's capital allocation to a bot.
type Subscription struct {
	ID            int64
	UserID        string
	BotID         int64
	IsActive      bool
	AllocatedUSDT decimal.Decimal
	StartedAt     time.Time
	EndedAt       sql.NullTime
	ExpiresAt     sql.NullTime
}

// Expired reports whether the subscription has a past expiry.
func (s Subscription) Expired(now time.Time) bool {
	return s.ExpiresAt.Valid && !now.Before(s.ExpiresAt.Time)
}

// Performance is one monthly evaluation snapshot for a bot.
type Performance struct {
	ID               int64
	BotID            int64
	Period           string // YYYY-MM
	WinRate          decimal.Decimal
	MonthlyReturnPct decimal.Decimal
	MaxDrawdownPct   decimal.Decimal
	SharpeRatio      decimal.Decimal
	TotalTrades      int
	CalculatedAt     sql.NullTime
}

// Wallet is a per-user, per-asset balance. LockedBalance earmarks capital
// allocated to subscriptions.
type Wallet struct {
	ID            int64
	UserID        string
	Asset         string
	Balance       decimal.Decimal
	LockedBalance decimal.Decimal
}

// Available is the balance not earmarked by subscriptions.
func (w Wallet) Available() decimal.Decimal {
	return w.Balance.Sub(w.LockedBalance)
}

// Order represents a trading order stored in the DB. BotID is 0 for manual orders.
type Order struct {
	ID              string
	UserID          string
	BotID           int64
	Pair            string
	Side            common.Side
	Type            common.OrderType
	Price           decimal.NullDecimal
	Quantity        decimal.Decimal
	FilledQuantity  decimal.Decimal
	Status          common.OrderStatus
	ExchangeOrderID string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Trade represents a fill stored in the DB.
type Trade struct {
	ID        string
	OrderID   string
	UserID    string
	Pair      string
	Side      common.Side
	Price     decimal.Decimal
	Quantity  decimal.Decimal
	CreatedAt time.Time
}
