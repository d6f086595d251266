package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"bot-trading-core/pkg/exchanges/common"
)

// ----------------------------------------
// Bot Queries
// ----------------------------------------

const botColumns = `id, name, description, strategy_type, strategy_config, status,
	max_drawdown_limit, monthly_fee, created_at, evicted_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBot(s rowScanner) (Bot, error) {
	var (
		b   Bot
		cfg string
	)
	if err := s.Scan(&b.ID, &b.Name, &b.Description, &b.StrategyType, &cfg, &b.Status,
		&b.MaxDrawdownLimit, &b.MonthlyFee, &b.CreatedAt, &b.EvictedAt); err != nil {
		return Bot{}, err
	}
	b.StrategyConfig = map[string]any{}
	if cfg != "" {
		if err := json.Unmarshal([]byte(cfg), &b.StrategyConfig); err != nil {
			return Bot{}, fmt.Errorf("decode strategy_config of bot %d: %w", b.ID, err)
		}
	}
	return b, nil
}

// GetBot returns a bot by id or ErrNotFound.
func (q queries) GetBot(ctx context.Context, id int64) (Bot, error) {
	b, err := scanBot(q.queryRow(ctx, `SELECT `+botColumns+` FROM bots WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Bot{}, ErrNotFound
	}
	if err != nil {
		return Bot{}, fmt.Errorf("query bot: %w", err)
	}
	return b, nil
}

// ListActiveBots returns bots that have not been evicted.
func (q queries) ListActiveBots(ctx context.Context) ([]Bot, error) {
	return q.listBots(ctx, `SELECT `+botColumns+` FROM bots WHERE status = ? ORDER BY id`, BotActive)
}

// ListBots returns every bot.
func (q queries) ListBots(ctx context.Context) ([]Bot, error) {
	return q.listBots(ctx, `SELECT `+botColumns+` FROM bots ORDER BY id`)
}

func (q queries) listBots(ctx context.Context, query string, args ...any) ([]Bot, error) {
	rows, err := q.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query bots: %w", err)
	}
	defer rows.Close()

	var bots []Bot
	for rows.Next() {
		b, err := scanBot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bot: %w", err)
		}
		bots = append(bots, b)
	}
	return bots, rows.Err()
}

// UpsertBot inserts a bot or updates its definition. Status and
// eviction time are left alone on update so seeding never revives an
// evicted bot.
func (q queries) UpsertBot(ctx context.Context, b Bot) error {
	cfg, err := json.Marshal(b.StrategyConfig)
	if err != nil {
		return fmt.Errorf("encode strategy_config: %w", err)
	}
	if b.Status == "" {
		b.Status = BotActive
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	_, err = q.exec(ctx, `
		INSERT INTO bots (id, name, description, strategy_type, strategy_config, status,
			max_drawdown_limit, monthly_fee, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			strategy_type = excluded.strategy_type,
			strategy_config = excluded.strategy_config,
			max_drawdown_limit = excluded.max_drawdown_limit,
			monthly_fee = excluded.monthly_fee
	`, b.ID, b.Name, b.Description, b.StrategyType, string(cfg), b.Status,
		b.MaxDrawdownLimit, b.MonthlyFee, b.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert bot: %w", err)
	}
	return nil
}

// SetBotStatus marks a bot active or evicted.
func (q queries) SetBotStatus(ctx context.Context, id int64, status BotStatus, at time.Time) error {
	var evictedAt sql.NullTime
	if status == BotEvicted {
		evictedAt = sql.NullTime{Time: at, Valid: true}
	}
	res, err := q.exec(ctx, `UPDATE bots SET status = ?, evicted_at = ? WHERE id = ?`, status, evictedAt, id)
	if err != nil {
		return fmt.Errorf("update bot status: %w", err)
	}
	return requireAffected(res)
}

// ----------------------------------------
// Subscription Queries
// ----------------------------------------

const subscriptionColumns = `id, user_id, bot_id, is_active, allocated_usdt, started_at, ended_at, expires_at`

func scanSubscription(s rowScanner) (Subscription, error) {
	var sub Subscription
	err := s.Scan(&sub.ID, &sub.UserID, &sub.BotID, &sub.IsActive, &sub.AllocatedUSDT,
		&sub.StartedAt, &sub.EndedAt, &sub.ExpiresAt)
	return sub, err
}

// ListActiveSubscriptions returns the active subscriptions of a bot.
func (q queries) ListActiveSubscriptions(ctx context.Context, botID int64) ([]Subscription, error) {
	return q.listSubscriptions(ctx, `
		SELECT `+subscriptionColumns+` FROM bot_subscriptions
		WHERE bot_id = ? AND is_active = TRUE ORDER BY id`, botID)
}

// ListActiveSubscriptionsByUser returns every active subscription of a user.
func (q queries) ListActiveSubscriptionsByUser(ctx context.Context, userID string) ([]Subscription, error) {
	return q.listSubscriptions(ctx, `
		SELECT `+subscriptionColumns+` FROM bot_subscriptions
		WHERE user_id = ? AND is_active = TRUE ORDER BY id`, userID)
}

func (q queries) listSubscriptions(ctx context.Context, query string, args ...any) ([]Subscription, error) {
	rows, err := q.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// GetActiveSubscription returns the user's active subscription to a bot or ErrNotFound.
func (q queries) GetActiveSubscription(ctx context.Context, userID string, botID int64) (Subscription, error) {
	sub, err := scanSubscription(q.queryRow(ctx, `
		SELECT `+subscriptionColumns+` FROM bot_subscriptions
		WHERE user_id = ? AND bot_id = ? AND is_active = TRUE
		ORDER BY id DESC LIMIT 1`, userID, botID))
	if errors.Is(err, sql.ErrNoRows) {
		return Subscription{}, ErrNotFound
	}
	if err != nil {
		return Subscription{}, fmt.Errorf("query subscription: %w", err)
	}
	return sub, nil
}

// CreateSubscription inserts an active subscription and returns it with its id.
func (q queries) CreateSubscription(ctx context.Context, sub Subscription) (Subscription, error) {
	if sub.StartedAt.IsZero() {
		sub.StartedAt = time.Now().UTC()
	}
	sub.IsActive = true
	err := q.queryRow(ctx, `
		INSERT INTO bot_subscriptions (user_id, bot_id, is_active, allocated_usdt, started_at, expires_at)
		VALUES (?, ?, TRUE, ?, ?, ?)
		RETURNING id`, sub.UserID, sub.BotID, sub.AllocatedUSDT, sub.StartedAt, sub.ExpiresAt).Scan(&sub.ID)
	if err != nil {
		return Subscription{}, fmt.Errorf("insert subscription: %w", err)
	}
	return sub, nil
}

// DeactivateSubscription ends a subscription.
func (q queries) DeactivateSubscription(ctx context.Context, id int64, at time.Time) error {
	res, err := q.exec(ctx, `
		UPDATE bot_subscriptions SET is_active = FALSE, ended_at = ?
		WHERE id = ? AND is_active = TRUE`, at, id)
	if err != nil {
		return fmt.Errorf("deactivate subscription: %w", err)
	}
	return requireAffected(res)
}

// CountActiveSubscriptions counts active subscriptions across all bots.
func (q queries) CountActiveSubscriptions(ctx context.Context) (int, error) {
	var n int
	if err := q.queryRow(ctx, `SELECT COUNT(*) FROM bot_subscriptions WHERE is_active = TRUE`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count subscriptions: %w", err)
	}
	return n, nil
}

// ----------------------------------------
// Performance Queries
// ----------------------------------------

// GetPerformance returns a bot's snapshot for period (YYYY-MM) or ErrNotFound.
func (q queries) GetPerformance(ctx context.Context, botID int64, period string) (Performance, error) {
	var p Performance
	err := q.queryRow(ctx, `
		SELECT id, bot_id, period, win_rate, monthly_return_pct, max_drawdown_pct,
			sharpe_ratio, total_trades, calculated_at
		FROM bot_performance WHERE bot_id = ? AND period = ?`, botID, period).
		Scan(&p.ID, &p.BotID, &p.Period, &p.WinRate, &p.MonthlyReturnPct, &p.MaxDrawdownPct,
			&p.SharpeRatio, &p.TotalTrades, &p.CalculatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Performance{}, ErrNotFound
	}
	if err != nil {
		return Performance{}, fmt.Errorf("query performance: %w", err)
	}
	return p, nil
}

// UpsertPerformance stores the snapshot for (bot, period).
func (q queries) UpsertPerformance(ctx context.Context, p Performance) error {
	_, err := q.exec(ctx, `
		INSERT INTO bot_performance (bot_id, period, win_rate, monthly_return_pct,
			max_drawdown_pct, sharpe_ratio, total_trades, calculated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(bot_id, period) DO UPDATE SET
			win_rate = excluded.win_rate,
			monthly_return_pct = excluded.monthly_return_pct,
			max_drawdown_pct = excluded.max_drawdown_pct,
			sharpe_ratio = excluded.sharpe_ratio,
			total_trades = excluded.total_trades,
			calculated_at = excluded.calculated_at
	`, p.BotID, p.Period, p.WinRate, p.MonthlyReturnPct, p.MaxDrawdownPct,
		p.SharpeRatio, p.TotalTrades, p.CalculatedAt)
	if err != nil {
		return fmt.Errorf("upsert performance: %w", err)
	}
	return nil
}

// ----------------------------------------
// Wallet Queries
// ----------------------------------------

func (q queries) getWallet(ctx context.Context, userID, asset string, forUpdate bool) (Wallet, bool, error) {
	query := `SELECT id, user_id, asset, balance, locked_balance FROM wallets WHERE user_id = ? AND asset = ?`
	if forUpdate && q.postgres() {
		query += ` FOR UPDATE`
	}
	var w Wallet
	err := q.queryRow(ctx, query, userID, asset).Scan(&w.ID, &w.UserID, &w.Asset, &w.Balance, &w.LockedBalance)
	if errors.Is(err, sql.ErrNoRows) {
		return Wallet{UserID: userID, Asset: asset}, false, nil
	}
	if err != nil {
		return Wallet{}, false, fmt.Errorf("query wallet %s/%s: %w", userID, asset, err)
	}
	return w, true, nil
}

// GetWallet returns the wallet, or a zero wallet and false when none exists.
func (q queries) GetWallet(ctx context.Context, userID, asset string) (Wallet, bool, error) {
	return q.getWallet(ctx, userID, asset, false)
}

// ListWallets returns every wallet of a user.
func (q queries) ListWallets(ctx context.Context, userID string) ([]Wallet, error) {
	rows, err := q.query(ctx, `
		SELECT id, user_id, asset, balance, locked_balance FROM wallets
		WHERE user_id = ? ORDER BY asset`, userID)
	if err != nil {
		return nil, fmt.Errorf("query wallets: %w", err)
	}
	defer rows.Close()

	var out []Wallet
	for rows.Next() {
		var w Wallet
		if err := rows.Scan(&w.ID, &w.UserID, &w.Asset, &w.Balance, &w.LockedBalance); err != nil {
			return nil, fmt.Errorf("scan wallet: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// SaveWallet creates or overwrites the balances of (user, asset).
func (q queries) SaveWallet(ctx context.Context, w Wallet) error {
	_, err := q.exec(ctx, `
		INSERT INTO wallets (user_id, asset, balance, locked_balance)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, asset) DO UPDATE SET
			balance = excluded.balance,
			locked_balance = excluded.locked_balance
	`, w.UserID, w.Asset, w.Balance, w.LockedBalance)
	if err != nil {
		return fmt.Errorf("save wallet %s/%s: %w", w.UserID, w.Asset, err)
	}
	return nil
}

// ----------------------------------------
// Order Queries
// ----------------------------------------

const orderColumns = `id, user_id, bot_id, pair, side, type, price, quantity, filled_quantity,
	status, exchange_order_id, created_at, updated_at`

func scanOrder(s rowScanner) (Order, error) {
	var (
		o     Order
		botID sql.NullInt64
	)
	err := s.Scan(&o.ID, &o.UserID, &botID, &o.Pair, &o.Side, &o.Type, &o.Price, &o.Quantity,
		&o.FilledQuantity, &o.Status, &o.ExchangeOrderID, &o.CreatedAt, &o.UpdatedAt)
	o.BotID = botID.Int64
	return o, err
}

// CreateOrder inserts a new order row.
func (q queries) CreateOrder(ctx context.Context, o Order) error {
	now := time.Now().UTC()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	if o.UpdatedAt.IsZero() {
		o.UpdatedAt = o.CreatedAt
	}
	_, err := q.exec(ctx, `
		INSERT INTO orders (id, user_id, bot_id, pair, side, type, price, quantity,
			filled_quantity, status, exchange_order_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, o.ID, o.UserID, sql.NullInt64{Int64: o.BotID, Valid: o.BotID != 0}, o.Pair, o.Side, o.Type,
		o.Price, o.Quantity, o.FilledQuantity, o.Status, o.ExchangeOrderID, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// GetOrder returns an order by id or ErrNotFound.
func (q queries) GetOrder(ctx context.Context, id string) (Order, error) {
	o, err := scanOrder(q.queryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	if err != nil {
		return Order{}, fmt.Errorf("query order: %w", err)
	}
	return o, nil
}

// ListOpenOrdersByBot returns the bot's orders that are still open.
func (q queries) ListOpenOrdersByBot(ctx context.Context, botID int64) ([]Order, error) {
	return q.listOrders(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE bot_id = ? AND status = ? ORDER BY created_at`, botID, common.StatusOpen)
}

// ListOpenOrdersByUser returns the user's orders that are still open.
func (q queries) ListOpenOrdersByUser(ctx context.Context, userID string) ([]Order, error) {
	return q.listOrders(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE user_id = ? AND status = ? ORDER BY created_at`, userID, common.StatusOpen)
}

func (q queries) listOrders(ctx context.Context, query string, args ...any) ([]Order, error) {
	rows, err := q.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var orders []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// FillOrder records a fill on an open order.
func (q queries) FillOrder(ctx context.Context, id string, filledQty decimal.Decimal, exchangeOrderID string, at time.Time) error {
	res, err := q.exec(ctx, `
		UPDATE orders SET status = ?, filled_quantity = ?, exchange_order_id = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		common.StatusFilled, filledQty, exchangeOrderID, at, id, common.StatusOpen)
	if err != nil {
		return fmt.Errorf("fill order: %w", err)
	}
	return requireAffected(res)
}

// CancelOrder cancels an open order. Terminal orders yield ErrNotFound.
func (q queries) CancelOrder(ctx context.Context, id string, at time.Time) error {
	res, err := q.exec(ctx, `
		UPDATE orders SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?`, common.StatusCancelled, at, id, common.StatusOpen)
	if err != nil {
		return fmt.Errorf("cancel order: %w", err)
	}
	return requireAffected(res)
}

// ----------------------------------------
// Trade Queries
// ----------------------------------------

// CreateTrade inserts a new trade row.
func (q queries) CreateTrade(ctx context.Context, t Trade) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	_, err := q.exec(ctx, `
		INSERT INTO trades (id, order_id, user_id, pair, side, price, quantity, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.OrderID, t.UserID, t.Pair, t.Side, t.Price, t.Quantity, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

// ListTradesByOrder returns the fills of an order.
func (q queries) ListTradesByOrder(ctx context.Context, orderID string) ([]Trade, error) {
	rows, err := q.query(ctx, `
		SELECT id, order_id, user_id, pair, side, price, quantity, created_at
		FROM trades WHERE order_id = ? ORDER BY created_at`, orderID)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var trades []Trade
	for rows.Next() {
		var t Trade
		if err := rows.Scan(&t.ID, &t.OrderID, &t.UserID, &t.Pair, &t.Side, &t.Price, &t.Quantity, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
