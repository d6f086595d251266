package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"bot-trading-core/internal/events"
	"bot-trading-core/internal/order"
	"bot-trading-core/internal/risk"
	"bot-trading-core/internal/strategy"
	"bot-trading-core/pkg/cache"
	"bot-trading-core/pkg/db"
	"bot-trading-core/pkg/exchanges/common"
)

// Impl implements Service on top of the store, the matcher and the runner.
type Impl struct {
	db        *db.Database
	store     cache.Store
	matcher   *order.Matcher
	positions *risk.PositionManager
	runner    *Runner
	bus       *events.Bus
	log       *zap.Logger

	defaultLive bool
	version     string
	startedAt   time.Time
	now         func() time.Time
}

// Config holds the configuration for creating an engine implementation.
type Config struct {
	DB          *db.Database
	Store       cache.Store
	Matcher     *order.Matcher
	Positions   *risk.PositionManager
	Runner      *Runner
	Bus         *events.Bus
	Log         *zap.Logger
	DefaultLive bool
	Version     string
}

var _ Service = (*Impl)(nil)

// NewImpl creates a new engine implementation.
func NewImpl(cfg Config) *Impl {
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	positions := cfg.Positions
	if positions == nil {
		positions = risk.NewPositionManager(cfg.Store)
	}
	return &Impl{
		db:          cfg.DB,
		store:       cfg.Store,
		matcher:     cfg.Matcher,
		positions:   positions,
		runner:      cfg.Runner,
		bus:         cfg.Bus,
		log:         log.Named("engine"),
		defaultLive: cfg.DefaultLive,
		version:     cfg.Version,
		startedAt:   time.Now().UTC(),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// ----------------------------------------
// Subscriptions
// ----------------------------------------

func (s *Impl) Subscribe(ctx context.Context, userID string, botID int64, allocation decimal.Decimal, expiresAt *time.Time) (db.Subscription, error) {
	if userID == "" {
		return db.Subscription{}, errors.New("subscription needs a user")
	}
	bot, err := s.db.GetBot(ctx, botID)
	if err != nil {
		return db.Subscription{}, err
	}
	if bot.Status != db.BotActive {
		return db.Subscription{}, ErrBotInactive
	}
	if allocation.IsNegative() {
		return db.Subscription{}, fmt.Errorf("allocation must not be negative, got %s", allocation)
	}
	if allocation.IsZero() {
		allocation = defaultAllocation
	}

	sub := db.Subscription{
		UserID:        userID,
		BotID:         botID,
		AllocatedUSDT: allocation,
		StartedAt:     s.now(),
	}
	if expiresAt != nil {
		if !expiresAt.After(s.now()) {
			return db.Subscription{}, errors.New("expiry must be in the future")
		}
		sub.ExpiresAt = sql.NullTime{Time: expiresAt.UTC(), Valid: true}
	}

	out, err := earmark(ctx, s.db, s.matcher, sub)
	if err != nil {
		return db.Subscription{}, err
	}
	s.log.Info("subscribed", zap.Int64("bot_id", botID), zap.String("user_id", userID),
		zap.String("allocation", allocation.String()))
	return out, nil
}

// Unsubscribe closes any tracked position before ending the subscription.
func (s *Impl) Unsubscribe(ctx context.Context, userID string, botID int64) error {
	sub, err := s.db.GetActiveSubscription(ctx, userID, botID)
	if errors.Is(err, db.ErrNotFound) {
		return ErrNotSubscribed
	}
	if err != nil {
		return err
	}

	if s.runner != nil {
		bot, err := s.db.GetBot(ctx, botID)
		if err != nil {
			return err
		}
		lb, err := s.runner.load(bot)
		if err != nil {
			return err
		}
		mode, err := s.mode(ctx)
		if err != nil {
			return err
		}
		if err := s.runner.closePosition(ctx, lb, userID, mode, "unsubscribed"); err != nil {
			s.log.Warn("unsubscribe close failed", zap.Int64("bot_id", botID), zap.String("user_id", userID), zap.Error(err))
		}
	} else if err := s.positions.Close(ctx, botID, userID); err != nil {
		return err
	}

	if err := releaseSubscription(ctx, s.db, s.matcher, sub, s.now()); err != nil {
		return err
	}
	s.log.Info("unsubscribed", zap.Int64("bot_id", botID), zap.String("user_id", userID))
	return nil
}

// ----------------------------------------
// Orders and wallets
// ----------------------------------------

func (s *Impl) PlaceOrder(ctx context.Context, userID string, req OrderRequest) (db.Order, order.Result, error) {
	side, err := common.ParseSide(req.Side)
	if err != nil {
		return db.Order{}, order.Result{}, err
	}
	typ := common.OrderType(strings.ToLower(strings.TrimSpace(req.Type)))
	if typ == "" {
		typ = common.OrderTypeMarket
	}
	mode, err := s.mode(ctx)
	if err != nil {
		return db.Order{}, order.Result{}, err
	}
	return s.matcher.Submit(ctx, db.Order{
		UserID:   userID,
		Pair:     strings.ToUpper(req.Pair),
		Side:     side,
		Type:     typ,
		Price:    req.Price,
		Quantity: req.Quantity,
	}, mode)
}

func (s *Impl) CancelOrder(ctx context.Context, userID, orderID string) (db.Order, error) {
	return s.matcher.Cancel(ctx, userID, orderID)
}

func (s *Impl) OpenOrders(ctx context.Context, userID string) ([]db.Order, error) {
	return s.db.ListOpenOrdersByUser(ctx, userID)
}

func (s *Impl) Wallets(ctx context.Context, userID string) ([]db.Wallet, error) {
	return s.db.ListWallets(ctx, userID)
}

// Deposit credits a wallet under the user's fill lock.
func (s *Impl) Deposit(ctx context.Context, userID, asset string, amount decimal.Decimal) (db.Wallet, error) {
	unlock := s.matcher.LockUser(userID)
	defer unlock()
	return s.db.Deposit(ctx, userID, strings.ToUpper(asset), amount)
}

// ----------------------------------------
// Positions and bots
// ----------------------------------------

func (s *Impl) Position(ctx context.Context, userID string, botID int64) (PositionInfo, bool, error) {
	bot, err := s.db.GetBot(ctx, botID)
	if err != nil {
		return PositionInfo{}, false, err
	}
	pos, ok, err := s.positions.Get(ctx, botID, userID)
	if err != nil || !ok {
		return PositionInfo{}, false, err
	}
	return PositionInfo{
		BotID:    botID,
		UserID:   userID,
		Pair:     botPair(bot),
		Position: pos,
	}, true, nil
}

func (s *Impl) ListBots(ctx context.Context) ([]BotInfo, error) {
	bots, err := s.db.ListBots(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]BotInfo, 0, len(bots))
	for _, b := range bots {
		killed, err := killSwitched(ctx, s.store, b.ID)
		if err != nil {
			return nil, err
		}
		subs, err := s.db.ListActiveSubscriptions(ctx, b.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, BotInfo{Bot: b, Pair: botPair(b), KillSwitch: killed, Subscribers: len(subs)})
	}
	return out, nil
}

func (s *Impl) SetKillSwitch(ctx context.Context, botID int64, on bool) error {
	if _, err := s.db.GetBot(ctx, botID); err != nil {
		return err
	}
	if on {
		return s.store.Set(ctx, cache.KillSwitchKey(botID), []byte("1"))
	}
	return s.store.Delete(ctx, cache.KillSwitchKey(botID))
}

// ----------------------------------------
// Eviction
// ----------------------------------------

// EvictBot takes a bot out of service: kill switch on, open orders
// cancelled, subscriptions ended with their earmarks released.
// Evicting an evicted bot is a no-op.
func (s *Impl) EvictBot(ctx context.Context, botID int64, reason string) error {
	bot, err := s.db.GetBot(ctx, botID)
	if err != nil {
		return err
	}
	if bot.Status == db.BotEvicted {
		return nil
	}
	log := s.log.With(zap.Int64("bot_id", botID))

	if err := s.store.Set(ctx, cache.KillSwitchKey(botID), []byte("1")); err != nil {
		return fmt.Errorf("set kill switch: %w", err)
	}

	open, err := s.db.ListOpenOrdersByBot(ctx, botID)
	if err != nil {
		return err
	}
	for _, o := range open {
		if _, err := s.matcher.Cancel(ctx, o.UserID, o.ID); err != nil && !errors.Is(err, order.ErrOrderNotOpen) {
			log.Warn("cancel order on eviction", zap.String("order_id", o.ID), zap.Error(err))
		}
	}

	subs, err := s.db.ListActiveSubscriptions(ctx, botID)
	if err != nil {
		return err
	}
	at := s.now()
	for _, sub := range subs {
		if err := releaseSubscription(ctx, s.db, s.matcher, sub, at); err != nil && !errors.Is(err, ErrNotSubscribed) {
			return fmt.Errorf("end subscription %d: %w", sub.ID, err)
		}
		if err := s.positions.Close(ctx, botID, sub.UserID); err != nil {
			log.Warn("clear position on eviction", zap.String("user_id", sub.UserID), zap.Error(err))
		}
	}

	if err := s.db.SetBotStatus(ctx, botID, db.BotEvicted, at); err != nil {
		return err
	}
	log.Warn("bot evicted", zap.String("reason", reason), zap.Int("subscriptions", len(subs)))
	s.bus.Publish(events.EventBotEvicted, events.BotEvictedEvent{BotID: botID, Reason: reason, At: at})
	return nil
}

// MonthlyEvaluation evicts every active bot whose snapshot for period
// (YYYY-MM) fails the thresholds. Bots without a snapshot are kept.
func (s *Impl) MonthlyEvaluation(ctx context.Context, period string) ([]int64, error) {
	if period == "" {
		period = s.now().Format("2006-01")
	}
	bots, err := s.db.ListActiveBots(ctx)
	if err != nil {
		return nil, err
	}
	var evicted []int64
	for _, b := range bots {
		p, err := s.db.GetPerformance(ctx, b.ID, period)
		if errors.Is(err, db.ErrNotFound) {
			continue
		}
		if err != nil {
			return evicted, err
		}
		evict, why := risk.ShouldEvict(risk.Performance{
			WinRate:          p.WinRate,
			MonthlyReturnPct: p.MonthlyReturnPct,
			MaxDrawdownPct:   p.MaxDrawdownPct,
		}, b.MaxDrawdownLimit)
		if !evict {
			continue
		}
		if err := s.EvictBot(ctx, b.ID, fmt.Sprintf("monthly performance %s: %s", period, why)); err != nil {
			return evicted, err
		}
		evicted = append(evicted, b.ID)
	}
	return evicted, nil
}

// DailyDrawdownCheck evicts every active bot whose intraday drawdown key
// exceeds the daily limit.
func (s *Impl) DailyDrawdownCheck(ctx context.Context) ([]int64, error) {
	bots, err := s.db.ListActiveBots(ctx)
	if err != nil {
		return nil, err
	}
	var evicted []int64
	for _, b := range bots {
		raw, ok, err := cache.GetString(ctx, s.store, cache.DailyDrawdownKey(b.ID))
		if err != nil {
			return evicted, err
		}
		if !ok {
			continue
		}
		mdd, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil {
			s.log.Warn("bad daily drawdown value", zap.Int64("bot_id", b.ID), zap.String("value", raw))
			continue
		}
		if !risk.DailyDrawdownBreached(mdd) {
			continue
		}
		if err := s.EvictBot(ctx, b.ID, fmt.Sprintf("daily drawdown %s%% above %s%%", mdd, risk.DailyDrawdownLimit)); err != nil {
			return evicted, err
		}
		evicted = append(evicted, b.ID)
	}
	return evicted, nil
}

// ----------------------------------------
// Trading mode and status
// ----------------------------------------

func (s *Impl) TradingMode(ctx context.Context) (bool, error) {
	return TradingMode(ctx, s.store, s.defaultLive)
}

// SetLiveTrading flips the mode override. It is refused while any
// subscription holds allocated capital.
func (s *Impl) SetLiveTrading(ctx context.Context, live bool) error {
	n, err := s.db.CountActiveSubscriptions(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		return fmt.Errorf("%w (%d active)", ErrCapitalExposed, n)
	}
	if err := s.store.Set(ctx, cache.LiveTradingKey, []byte(strconv.FormatBool(live))); err != nil {
		return err
	}
	s.log.Warn("trading mode changed", zap.Bool("live", live))
	s.bus.Publish(events.EventTradingModeFlip, events.TradingModeEvent{Live: live, At: s.now()})
	return nil
}

func (s *Impl) Status(ctx context.Context) SystemStatus {
	st := SystemStatus{Version: s.version, StartedAt: s.startedAt, EventsDropped: s.bus.Dropped()}
	if live, err := s.TradingMode(ctx); err == nil {
		st.LiveTrading = live
	}
	if n, err := s.db.CountActiveSubscriptions(ctx); err == nil {
		st.ActiveSubscriptions = n
	}
	if bots, err := s.db.ListActiveBots(ctx); err == nil {
		st.ActiveBots = len(bots)
		seen := make(map[string]struct{})
		for _, b := range bots {
			p := botPair(b)
			if _, ok := seen[p]; !ok {
				seen[p] = struct{}{}
				st.Pairs = append(st.Pairs, p)
			}
		}
		sort.Strings(st.Pairs)
	}
	return st
}

func (s *Impl) mode(ctx context.Context) (order.Mode, error) {
	live, err := s.TradingMode(ctx)
	if err != nil {
		return order.ModeSimulated, err
	}
	return order.ModeFor(live), nil
}

func botPair(b db.Bot) string {
	return strategy.Params(b.StrategyConfig).String("pair", defaultPair)
}
