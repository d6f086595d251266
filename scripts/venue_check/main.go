package main

import (
	"context"
	"flag"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"bot-trading-core/pkg/config"
	exspot "bot-trading-core/pkg/exchanges/binance/spot"
	"bot-trading-core/pkg/exchanges/common"
	"bot-trading-core/pkg/logger"
)

// venue_check confirms the live spot venue answers with the configured
// credentials: symbol filters for every configured pair, account balances,
// and optionally one minimal market buy.
//
//	BINANCE_TESTNET=true go run ./scripts/venue_check
//	go run ./scripts/venue_check -place -pair BTC_USDT -qty 0.0002
//
// Keep -place off until the read-only checks pass; on mainnet the order
// really fills.
func main() {
	place := flag.Bool("place", false, "submit one market buy")
	pair := flag.String("pair", "BTC_USDT", "pair for the order test")
	qty := flag.String("qty", "0.0002", "order quantity in base asset")
	flag.Parse()

	log, err := logger.New(logger.Options{Level: "info"})
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("load config", zap.Error(err))
	}
	if cfg.BinanceAPIKey == "" || cfg.BinanceAPISecret == "" {
		log.Fatal("BINANCE_API_KEY / BINANCE_API_SECRET are empty")
	}

	client := exspot.New(exspot.Config{
		APIKey:    cfg.BinanceAPIKey,
		APISecret: cfg.BinanceAPISecret,
		Testnet:   cfg.BinanceTestnet,
		RateLimit: cfg.ExchangeRateLimit,
	})
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	log.Info("venue check starting", zap.Bool("testnet", cfg.BinanceTestnet), zap.Bool("place", *place))

	for _, p := range cfg.BinanceSymbols {
		f, err := client.SymbolFilters(ctx, common.PairToSymbol(p))
		if err != nil {
			log.Error("symbol filters", zap.String("pair", p), zap.Error(err))
			continue
		}
		log.Info("symbol filters", zap.String("pair", p),
			zap.Stringer("step_size", f.StepSize),
			zap.Stringer("min_qty", f.MinQty),
			zap.Stringer("min_notional", f.MinNotional))
	}

	balances, err := client.Balances(ctx)
	if err != nil {
		log.Fatal("balances", zap.Error(err))
	}
	for asset, free := range balances {
		log.Info("balance", zap.String("asset", asset), zap.Stringer("free", free))
	}

	if !*place {
		log.Info("venue check done (read only)")
		return
	}
	q, err := decimal.NewFromString(*qty)
	if err != nil {
		log.Fatal("parse qty", zap.Error(err))
	}
	res, err := client.PlaceMarketOrder(ctx, common.PairToSymbol(*pair), common.SideBuy, q)
	if err != nil {
		log.Fatal("market order", zap.Error(err))
	}
	log.Info("market order",
		zap.String("exchange_order_id", res.ExchangeOrderID),
		zap.String("status", res.Status),
		zap.Stringer("executed_qty", res.ExecutedQty),
		zap.Stringer("avg_price", res.AveragePrice()))
}
