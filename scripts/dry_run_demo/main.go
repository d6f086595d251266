package main

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"bot-trading-core/internal/events"
	"bot-trading-core/internal/market"
	"bot-trading-core/internal/order"
	"bot-trading-core/pkg/cache"
	"bot-trading-core/pkg/db"
	"bot-trading-core/pkg/exchanges/common"
	"bot-trading-core/pkg/logger"
)

// dry_run_demo walks the simulated matcher through a few order flows on an
// in-memory store. It touches neither the exchange nor a database file.
//
// Usage:
//
//	go run ./scripts/dry_run_demo
//
// It will:
//  1. BUY then SELL the same pair within balance limits.
//  2. Try a BUY that exceeds the balance.
//  3. Rest a limit order below the market and cancel it.
//  4. Print the final wallets.
func main() {
	log, err := logger.New(logger.Options{Level: "info"})
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()
	log.Info("dry-run demo starting")

	ctx := context.Background()
	database, err := db.New(":memory:")
	if err != nil {
		log.Fatal("open db", zap.Error(err))
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatal("migrate", zap.Error(err))
	}

	bus := events.NewBus()
	oracle := market.NewOracle(cache.NewMemoryStore(), 0)
	matcher := order.NewMatcher(database, oracle, nil, bus, log)

	const user, pair = "demo", "BTC_USDT"
	if _, err := database.Deposit(ctx, user, "USDT", decimal.NewFromInt(10000)); err != nil {
		log.Fatal("deposit", zap.Error(err))
	}
	publish := func(p string) {
		if err := oracle.Publish(ctx, pair, market.Ticker{LastPrice: decimal.RequireFromString(p)}); err != nil {
			log.Fatal("publish price", zap.Error(err))
		}
	}
	submit := func(scenario string, o db.Order) db.Order {
		o.UserID, o.Pair = user, pair
		if o.Type == "" {
			o.Type = common.OrderTypeMarket
		}
		stored, res, err := matcher.Submit(ctx, o, order.ModeSimulated)
		log.Info(scenario,
			zap.String("order_id", stored.ID),
			zap.String("side", string(o.Side)),
			zap.Stringer("qty", o.Quantity),
			zap.String("status", string(stored.Status)),
			zap.Bool("filled", res.Filled),
			zap.Stringer("fill_price", res.FillPrice),
			zap.Error(err))
		return stored
	}

	publish("100")
	submit("scenario 1: buy", db.Order{Side: common.SideBuy, Quantity: decimal.RequireFromString("10")})
	publish("105")
	submit("scenario 1: sell", db.Order{Side: common.SideSell, Quantity: decimal.RequireFromString("10")})

	submit("scenario 2: oversized buy", db.Order{Side: common.SideBuy, Quantity: decimal.NewFromInt(1000)})

	resting := submit("scenario 3: resting limit", db.Order{
		Side:     common.SideBuy,
		Type:     common.OrderTypeLimit,
		Quantity: decimal.NewFromInt(1),
		Price:    decimal.NewNullDecimal(decimal.NewFromInt(90)),
	})
	if _, err := matcher.Cancel(ctx, user, resting.ID); err != nil {
		log.Error("cancel", zap.Error(err))
	}

	wallets, err := database.ListWallets(ctx, user)
	if err != nil {
		log.Fatal("list wallets", zap.Error(err))
	}
	for _, w := range wallets {
		log.Info("final wallet", zap.String("asset", w.Asset), zap.Stringer("balance", w.Balance))
	}
	log.Info("dry-run demo finished", zap.Uint64("events_dropped", bus.Dropped()))
}
