package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"bot-trading-core/internal/events"
	"bot-trading-core/internal/monitor"
	"bot-trading-core/internal/order"
	"bot-trading-core/internal/risk"
	"bot-trading-core/internal/strategy"
	"bot-trading-core/pkg/cache"
	"bot-trading-core/pkg/db"
	"bot-trading-core/pkg/exchanges/common"
)

// RunnerConfig wires a Runner.
type RunnerConfig struct {
	DB        *db.Database
	Store     cache.Store
	Prices    order.PriceSource
	Matcher   *order.Matcher
	Positions *risk.PositionManager
	Registry  *strategy.Registry
	Deps      strategy.Deps
	Bus       *events.Bus
	Metrics   *monitor.SystemMetrics // optional
	Log       *zap.Logger

	Interval            time.Duration // default 10s
	SubscriptionTimeout time.Duration // default 20s
	Concurrency         int           // bots in flight per cycle, default 1
	DefaultLive         bool          // mode when the store holds no override
}

// Runner drives every active bot through one pass per interval.
type Runner struct {
	db        *db.Database
	store     cache.Store
	prices    order.PriceSource
	matcher   *order.Matcher
	positions *risk.PositionManager
	registry  *strategy.Registry
	deps      strategy.Deps
	bus       *events.Bus
	metrics   *monitor.SystemMetrics
	log       *zap.Logger

	interval    time.Duration
	subTimeout  time.Duration
	concurrency int
	defaultLive bool

	now func() time.Time
}

func NewRunner(cfg RunnerConfig) *Runner {
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	r := &Runner{
		db:          cfg.DB,
		store:       cfg.Store,
		prices:      cfg.Prices,
		matcher:     cfg.Matcher,
		positions:   cfg.Positions,
		registry:    cfg.Registry,
		deps:        cfg.Deps,
		bus:         cfg.Bus,
		metrics:     cfg.Metrics,
		log:         log.Named("runner"),
		interval:    cfg.Interval,
		subTimeout:  cfg.SubscriptionTimeout,
		concurrency: cfg.Concurrency,
		defaultLive: cfg.DefaultLive,
		now:         func() time.Time { return time.Now().UTC() },
	}
	if r.interval <= 0 {
		r.interval = 10 * time.Second
	}
	if r.subTimeout <= 0 {
		r.subTimeout = 20 * time.Second
	}
	if r.concurrency < 1 {
		r.concurrency = 1
	}
	if r.registry == nil {
		r.registry = strategy.DefaultRegistry()
	}
	if r.positions == nil {
		r.positions = risk.NewPositionManager(cfg.Store)
	}
	return r
}

// loadedBot is a bot resolved for one cycle: its strategy is built once
// and its signal is generated at most once, then shared by every
// subscription of the bot.
type loadedBot struct {
	bot    db.Bot
	params strategy.Params
	strat  strategy.Strategy
	pair   string

	generated bool
	signal    strategy.Result
}

func (r *Runner) load(b db.Bot) (*loadedBot, error) {
	params := strategy.Params(b.StrategyConfig)
	if params == nil {
		params = strategy.Params{}
	}
	tag := b.StrategyType
	if tag == "" {
		tag = strategy.TypeRSITrend
	}
	s, err := r.registry.Build(tag, params, r.deps)
	if err != nil {
		return nil, err
	}
	return &loadedBot{
		bot:    b,
		params: params,
		strat:  s,
		pair:   params.String("pair", defaultPair),
	}, nil
}

func (lb *loadedBot) isGrid() bool { return lb.strat.Type() == strategy.TypeAdaptiveGrid }

// Run cycles until ctx is cancelled. The first cycle starts immediately.
func (r *Runner) Run(ctx context.Context) error {
	r.log.Info("bot runner started", zap.Duration("interval", r.interval), zap.Int("concurrency", r.concurrency))
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if err := r.Cycle(ctx); err != nil && ctx.Err() == nil {
			r.log.Error("runner cycle failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			r.log.Info("bot runner stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Cycle runs every active bot once. The trading mode is resolved a single
// time and passed to each bot.
func (r *Runner) Cycle(ctx context.Context) error {
	defer monitor.NewTimer(r.metrics.ObserveCycle).Stop()

	live, err := TradingMode(ctx, r.store, r.defaultLive)
	if err != nil {
		return fmt.Errorf("resolve trading mode: %w", err)
	}
	mode := order.ModeFor(live)

	bots, err := r.db.ListActiveBots(ctx)
	if err != nil {
		return fmt.Errorf("list active bots: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for _, b := range bots {
		b := b
		killed, err := killSwitched(gctx, r.store, b.ID)
		if err != nil {
			r.log.Warn("read kill switch", zap.Int64("bot_id", b.ID), zap.Error(err))
			continue
		}
		if killed {
			continue
		}
		g.Go(func() error {
			r.runBotSafe(gctx, b, mode)
			return nil
		})
	}
	return g.Wait()
}

func (r *Runner) runBotSafe(ctx context.Context, b db.Bot, mode order.Mode) {
	defer func() {
		if p := recover(); p != nil {
			r.metrics.IncrementErrors()
			r.log.Error("bot panicked", zap.Int64("bot_id", b.ID), zap.Any("panic", p),
				zap.ByteString("stack", debug.Stack()))
		}
	}()
	if err := r.RunBot(ctx, b, mode); err != nil {
		r.metrics.IncrementErrors()
		r.log.Error("bot cycle failed", zap.Int64("bot_id", b.ID), zap.Error(err))
	}
}

// RunBot processes each active subscription of b. Subscription failures are
// logged and do not stop the others.
func (r *Runner) RunBot(ctx context.Context, b db.Bot, mode order.Mode) error {
	lb, err := r.load(b)
	if err != nil {
		return err
	}
	subs, err := r.db.ListActiveSubscriptions(ctx, b.ID)
	if err != nil {
		return fmt.Errorf("list subscriptions: %w", err)
	}
	for _, sub := range subs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		subCtx, cancel := context.WithTimeout(ctx, r.subTimeout)
		err := r.runSubscription(subCtx, lb, sub, mode)
		cancel()
		if err != nil {
			r.metrics.IncrementErrors()
			r.log.Warn("subscription cycle failed", zap.Int64("bot_id", b.ID),
				zap.String("user_id", sub.UserID), zap.String("pair", lb.pair), zap.Error(err))
		}
	}
	return nil
}

func (r *Runner) runSubscription(ctx context.Context, lb *loadedBot, sub db.Subscription, mode order.Mode) error {
	log := r.log.With(zap.Int64("bot_id", lb.bot.ID), zap.String("user_id", sub.UserID), zap.String("pair", lb.pair))

	if sub.Expired(r.now()) {
		if err := r.closePosition(ctx, lb, sub.UserID, mode, "expired"); err != nil {
			log.Warn("expiry close failed", zap.Error(err))
		}
		if err := r.endSubscription(ctx, sub); err != nil {
			return fmt.Errorf("deactivate expired subscription: %w", err)
		}
		log.Info("subscription expired")
		return nil
	}

	price, err := r.prices.Price(ctx, lb.pair)
	if err != nil {
		if errors.Is(err, order.ErrNoPrice) {
			return nil
		}
		return err
	}
	priceF := price.InexactFloat64()

	reason, err := r.positions.CheckExit(ctx, lb.bot.ID, sub.UserID, priceF)
	if err != nil {
		return fmt.Errorf("check exit: %w", err)
	}
	if reason != risk.NoExit {
		log.Info("exit triggered", zap.String("reason", string(reason)), zap.Float64("price", priceF))
		return r.closePosition(ctx, lb, sub.UserID, mode, string(reason))
	}

	if !lb.isGrid() {
		has, err := r.positions.Has(ctx, lb.bot.ID, sub.UserID)
		if err != nil {
			return err
		}
		if has {
			return nil
		}
	}

	if !lb.generated {
		lb.signal = r.GenerateSignal(ctx, lb)
		lb.generated = true
	}
	if !lb.signal.HasSignal() {
		return nil
	}
	sig := lb.signal.Signal

	if sig.Action == strategy.ActionCloseAll {
		return r.closeAll(ctx, lb, sub.UserID, mode)
	}
	return r.enter(ctx, lb, sub, sig, price, mode, log)
}

func (r *Runner) enter(ctx context.Context, lb *loadedBot, sub db.Subscription, sig strategy.Signal,
	price decimal.Decimal, mode order.Mode, log *zap.Logger) error {
	base, quote, err := common.SplitPair(lb.pair)
	if err != nil {
		return err
	}
	alloc := sub.AllocatedUSDT
	if !alloc.IsPositive() {
		alloc = defaultAllocation
	}

	var qty decimal.Decimal
	if lb.isGrid() {
		qty = risk.GridQuantity(alloc, price, sig.RiskPct)
	} else {
		qty = risk.RiskQuantity(alloc, price, sig.RiskPct, sig.ATR, sig.StopLossATR)
	}
	if !qty.IsPositive() {
		return nil
	}

	quoteBal, err := r.spendable(ctx, sub.UserID, quote, lb.bot.ID)
	if err != nil {
		return err
	}
	baseBal, err := r.balance(ctx, sub.UserID, base)
	if err != nil {
		return err
	}
	qty = risk.CapQuantity(sig.Side, qty, price, quoteBal, baseBal)
	if !qty.IsPositive() {
		return nil
	}

	timer := monitor.NewTimer(r.metrics.ObserveOrder)
	o, res, err := r.matcher.Submit(ctx, db.Order{
		UserID:   sub.UserID,
		BotID:    lb.bot.ID,
		Pair:     lb.pair,
		Side:     sig.Side,
		Type:     common.OrderTypeMarket,
		Quantity: qty,
	}, mode)
	timer.Stop()
	if err != nil {
		return fmt.Errorf("submit %s %s: %w", sig.Side, qty, err)
	}
	if !res.Filled {
		return nil
	}
	log.Info("bot order filled", zap.String("order_id", o.ID), zap.String("side", string(sig.Side)),
		zap.String("quantity", res.Quantity.String()), zap.String("price", res.FillPrice.String()))

	if sig.StopLossATR <= 0 {
		return nil
	}
	pos, err := r.positions.Open(ctx, lb.bot.ID, sub.UserID, risk.OpenParams{
		Side:          sig.Side,
		Entry:         res.FillPrice.InexactFloat64(),
		ATR:           sig.ATR,
		StopLossATR:   sig.StopLossATR,
		TakeProfitATR: sig.TakeProfitATR,
		TrailingATR:   sig.TrailingATR,
	})
	if err != nil {
		return fmt.Errorf("track position: %w", err)
	}
	r.bus.Publish(events.EventPositionOpened, events.PositionEvent{
		BotID:  lb.bot.ID,
		UserID: sub.UserID,
		Pair:   lb.pair,
		Side:   string(pos.Side),
		Entry:  pos.Entry,
		Price:  pos.Entry,
		At:     r.now(),
	})
	return nil
}

// closeAll sells the whole base balance for a grid exit.
func (r *Runner) closeAll(ctx context.Context, lb *loadedBot, userID string, mode order.Mode) error {
	base, _, err := common.SplitPair(lb.pair)
	if err != nil {
		return err
	}
	bal, err := r.balance(ctx, userID, base)
	if err != nil {
		return err
	}
	qty := risk.ExitQuantity(bal)
	if !qty.IsPositive() {
		return nil
	}
	_, _, err = r.matcher.Submit(ctx, db.Order{
		UserID:   userID,
		BotID:    lb.bot.ID,
		Pair:     lb.pair,
		Side:     common.SideSell,
		Type:     common.OrderTypeMarket,
		Quantity: qty,
	}, mode)
	return err
}

// closePosition offsets a tracked position with the user's whole base
// balance and drops the tracking whether or not the order filled.
func (r *Runner) closePosition(ctx context.Context, lb *loadedBot, userID string, mode order.Mode, reason string) error {
	pos, ok, err := r.positions.Get(ctx, lb.bot.ID, userID)
	if err != nil || !ok {
		return err
	}
	defer func() {
		if err := r.positions.Close(context.WithoutCancel(ctx), lb.bot.ID, userID); err != nil {
			r.log.Error("clear position", zap.Int64("bot_id", lb.bot.ID), zap.String("user_id", userID), zap.Error(err))
		}
	}()

	base, _, err := common.SplitPair(lb.pair)
	if err != nil {
		return err
	}
	bal, err := r.balance(ctx, userID, base)
	if err != nil {
		return err
	}
	qty := risk.ExitQuantity(bal)

	var price float64
	if qty.IsPositive() {
		_, res, err := r.matcher.Submit(ctx, db.Order{
			UserID:   userID,
			BotID:    lb.bot.ID,
			Pair:     lb.pair,
			Side:     pos.Side.Opposite(),
			Type:     common.OrderTypeMarket,
			Quantity: qty,
		}, mode)
		if err != nil {
			r.log.Warn("exit order failed", zap.Int64("bot_id", lb.bot.ID), zap.String("user_id", userID),
				zap.String("pair", lb.pair), zap.Error(err))
		}
		if res.Filled {
			price = res.FillPrice.InexactFloat64()
		}
	}
	r.bus.Publish(events.EventPositionClosed, events.PositionEvent{
		BotID:  lb.bot.ID,
		UserID: userID,
		Pair:   lb.pair,
		Side:   string(pos.Side),
		Entry:  pos.Entry,
		Price:  price,
		Reason: reason,
		At:     r.now(),
	})
	return nil
}

// endSubscription deactivates sub and releases its earmark.
func (r *Runner) endSubscription(ctx context.Context, sub db.Subscription) error {
	return releaseSubscription(ctx, r.db, r.matcher, sub, r.now())
}

// spendable is the quote a bot may spend for userID: its earmark, not the
// user's free balance.
func (r *Runner) spendable(ctx context.Context, userID, asset string, botID int64) (decimal.Decimal, error) {
	w, _, err := r.db.GetWallet(ctx, userID, asset)
	if err != nil {
		return decimal.Zero, err
	}
	return order.Spendable(w, botID), nil
}

func (r *Runner) balance(ctx context.Context, userID, asset string) (decimal.Decimal, error) {
	w, ok, err := r.db.GetWallet(ctx, userID, asset)
	if err != nil || !ok {
		return decimal.Zero, err
	}
	return w.Balance, nil
}
