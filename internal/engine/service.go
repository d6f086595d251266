// Package engine runs the bots and exposes the operations the API layer
// may perform on subscriptions, orders and the trading mode.
package engine

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"bot-trading-core/internal/order"
	"bot-trading-core/pkg/db"
)

// Service defines the interface for trading engine operations.
// The API layer should only interact with the engine through this interface.
type Service interface {
	// Subscriptions
	Subscribe(ctx context.Context, userID string, botID int64, allocation decimal.Decimal, expiresAt *time.Time) (db.Subscription, error)
	Unsubscribe(ctx context.Context, userID string, botID int64) error

	// Orders and wallets
	PlaceOrder(ctx context.Context, userID string, req OrderRequest) (db.Order, order.Result, error)
	CancelOrder(ctx context.Context, userID, orderID string) (db.Order, error)
	OpenOrders(ctx context.Context, userID string) ([]db.Order, error)
	Wallets(ctx context.Context, userID string) ([]db.Wallet, error)
	Deposit(ctx context.Context, userID, asset string, amount decimal.Decimal) (db.Wallet, error)
	Position(ctx context.Context, userID string, botID int64) (PositionInfo, bool, error)

	// Bots
	ListBots(ctx context.Context) ([]BotInfo, error)
	SetKillSwitch(ctx context.Context, botID int64, on bool) error
	EvictBot(ctx context.Context, botID int64, reason string) error
	MonthlyEvaluation(ctx context.Context, period string) ([]int64, error)
	DailyDrawdownCheck(ctx context.Context) ([]int64, error)

	// System
	TradingMode(ctx context.Context) (bool, error)
	SetLiveTrading(ctx context.Context, live bool) error
	Status(ctx context.Context) SystemStatus
}
