package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"bot-trading-core/internal/api"
	"bot-trading-core/internal/engine"
	"bot-trading-core/internal/events"
	"bot-trading-core/internal/market"
	"bot-trading-core/internal/monitor"
	"bot-trading-core/internal/notify"
	"bot-trading-core/internal/order"
	"bot-trading-core/internal/publish"
	"bot-trading-core/internal/risk"
	"bot-trading-core/internal/strategy"
	"bot-trading-core/pkg/cache"
	"bot-trading-core/pkg/config"
	"bot-trading-core/pkg/db"
	exspot "bot-trading-core/pkg/exchanges/binance/spot"
	"bot-trading-core/pkg/exchanges/common"
	"bot-trading-core/pkg/logger"
	marketbinance "bot-trading-core/pkg/market/binance"
)

var version = "dev"

func main() {
	issueFor := flag.String("issue-token", "", "print an API token for this user id and exit")
	issueAdmin := flag.Bool("admin", false, "with -issue-token: grant admin rights")
	issueTTL := flag.Duration("ttl", 72*time.Hour, "with -issue-token: token lifetime")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	if *issueFor != "" {
		tok, err := api.IssueToken(*issueFor, *issueAdmin, cfg.JWTSecret, *issueTTL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "issue token: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(tok)
		return
	}

	log, err := logger.Init(logger.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("trading core stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("starting bot trading core",
		zap.String("version", version),
		zap.String("db_driver", cfg.DBDriver),
		zap.Strings("pairs", cfg.BinanceSymbols),
		zap.Bool("mock_feed", cfg.UseMockFeed))

	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	registry := strategy.DefaultRegistry()
	if err := seedBots(ctx, cfg.BotsFile, database, registry, log); err != nil {
		return err
	}

	store := cache.NewMemoryStore()
	bus := events.NewBus()
	metrics := monitor.NewSystemMetrics()
	oracle := market.NewOracle(store, cfg.PriceMaxAge)

	var wg sync.WaitGroup
	goRun := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error(name+" exited", zap.Error(err))
			}
		}()
	}

	// Market data
	pairs := cfg.BinanceSymbols
	if cfg.UseMockFeed {
		feed := &market.MockFeed{
			Oracle:     oracle,
			Bus:        bus,
			Pairs:      pairs,
			StartPrice: cfg.MockStartPrice,
			Log:        log.Named("mockfeed"),
		}
		feed.Start(ctx)
	} else {
		feed := &market.Feed{
			Stream: marketbinance.NewStreamClient(cfg.BinanceTestnet, log.Named("stream")),
			Oracle: oracle,
			Bus:    bus,
			Pairs:  pairs,
			Log:    log.Named("feed"),
		}
		feed.Start(ctx)
	}
	klines := market.NewKlineCache(&market.BinanceKlines{
		Client: marketbinance.NewClient(cfg.BinanceAPIKey, cfg.BinanceAPISecret, cfg.BinanceTestnet),
	}, cfg.KlinesCacheTTL)

	// Live venue, only with credentials
	var trader common.Trader
	if cfg.BinanceAPIKey != "" && cfg.BinanceAPISecret != "" {
		trader = exspot.New(exspot.Config{
			APIKey:    cfg.BinanceAPIKey,
			APISecret: cfg.BinanceAPISecret,
			Testnet:   cfg.BinanceTestnet,
			RateLimit: cfg.ExchangeRateLimit,
		})
		log.Info("live venue configured", zap.Bool("testnet", cfg.BinanceTestnet))
	} else if cfg.BinanceLive {
		log.Warn("BINANCE_LIVE_TRADING is set without credentials; live orders will be cancelled")
	}

	matcher := order.NewMatcher(database, oracle, trader, bus, log)
	if cfg.ExchangeTimeout > 0 {
		matcher.ExchangeTimeout = cfg.ExchangeTimeout
	}
	positions := risk.NewPositionManager(store)
	runner := engine.NewRunner(engine.RunnerConfig{
		DB:                  database,
		Store:               store,
		Prices:              oracle,
		Matcher:             matcher,
		Positions:           positions,
		Registry:            registry,
		Deps:                strategy.Deps{Klines: klines, State: store},
		Bus:                 bus,
		Metrics:             metrics,
		Log:                 log,
		Interval:            cfg.RunnerInterval,
		SubscriptionTimeout: cfg.SubscriptionTimeout,
		Concurrency:         cfg.BotConcurrency,
		DefaultLive:         cfg.BinanceLive,
	})
	svc := engine.NewImpl(engine.Config{
		DB:          database,
		Store:       store,
		Matcher:     matcher,
		Positions:   positions,
		Runner:      runner,
		Bus:         bus,
		Log:         log,
		DefaultLive: cfg.BinanceLive,
		Version:     version,
	})

	// Operator alerts
	var sink monitor.AlertSink = monitor.LogSink{Log: log.Named("alerts")}
	tg, err := notify.NewTelegram(cfg.TelegramToken, cfg.TelegramChatID, log)
	if err != nil {
		log.Warn("telegram disabled", zap.Error(err))
	} else if tg != nil {
		sink = tg
	}
	waitMonitor := (&monitor.Monitor{Bus: bus, Metrics: metrics, Sink: sink, Log: log}).Start(ctx)

	// Fill stream
	if len(cfg.KafkaBrokers) > 0 {
		writer := publish.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaFillsTopic)
		defer writer.Close()
		goRun("fill stream", publish.NewFillStream(writer, bus, log).Run)
		log.Info("fill stream enabled", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaFillsTopic))
	}

	goRun("runner", runner.Run)
	goRun("scheduler", engine.NewScheduler(svc, log).Run)

	// API and health
	server := api.NewServer(api.Options{
		Engine:    svc,
		Bus:       bus,
		Metrics:   metrics,
		JWTSecret: cfg.JWTSecret,
		Log:       log,
	})
	go func() {
		if err := server.Start(":" + cfg.Port); err != nil {
			log.Error("api server failed", zap.Error(err))
			stop()
		}
	}()

	grpcServer, healthSrv, err := startHealth(":"+cfg.GRPCPort, log)
	if err != nil {
		return err
	}

	<-ctx.Done()
	log.Info("shutting down")
	healthSrv.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("api shutdown", zap.Error(err))
	}
	grpcServer.GracefulStop()
	wg.Wait()
	waitMonitor()
	log.Info("stopped")
	return nil
}

func openDatabase(cfg *config.Config) (*db.Database, error) {
	if cfg.DBDriver != db.DriverPostgres && cfg.DBPath != ":memory:" {
		if dir := filepath.Dir(cfg.DBPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create db dir: %w", err)
			}
		}
	}
	database, err := db.Open(cfg.DBDriver, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return database, nil
}

func seedBots(ctx context.Context, path string, database *db.Database, reg *strategy.Registry, log *zap.Logger) error {
	if path == "" {
		return nil
	}
	bots, err := strategy.LoadConfig(path)
	if errors.Is(err, os.ErrNotExist) {
		log.Warn("bots file not found, skipping seed", zap.String("path", path))
		return nil
	}
	if err != nil {
		return fmt.Errorf("load bots: %w", err)
	}
	if err := strategy.SyncConfigToDB(ctx, database, reg, bots); err != nil {
		return fmt.Errorf("seed bots: %w", err)
	}
	log.Info("bots seeded", zap.String("path", path), zap.Int("count", len(bots)))
	return nil
}

func startHealth(addr string, log *zap.Logger) (*grpc.Server, *health.Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("grpc listen %s: %w", addr, err)
	}
	srv := grpc.NewServer()
	healthSrv := health.NewServer()
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, healthSrv)
	go func() {
		if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.Error("grpc health server failed", zap.Error(err))
		}
	}()
	log.Info("grpc health listening", zap.String("addr", addr))
	return srv, healthSrv, nil
}
