// Package order is the matching engine: it settles orders against the
// oracle price (simulated) or a live venue, and keeps wallets consistent.
package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"bot-trading-core/internal/events"
	"bot-trading-core/pkg/db"
	"bot-trading-core/pkg/exchanges/common"
)

// PriceSource is the oracle read the matcher needs.
type PriceSource interface {
	Price(ctx context.Context, pair string) (decimal.Decimal, error)
}

// Matcher persists orders, fills them and emits order events.
type Matcher struct {
	DB     *db.Database
	Prices PriceSource
	Trader common.Trader // nil disables live mode
	Bus    *events.Bus
	Log    *zap.Logger

	// ExchangeTimeout bounds a single venue call, independent of the
	// caller's deadline.
	ExchangeTimeout time.Duration

	locks userLocks
	now   func() time.Time
}

func NewMatcher(database *db.Database, prices PriceSource, trader common.Trader, bus *events.Bus, log *zap.Logger) *Matcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Matcher{
		DB:              database,
		Prices:          prices,
		Trader:          trader,
		Bus:             bus,
		Log:             log.Named("matcher"),
		ExchangeTimeout: 8 * time.Second,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// LockUser serializes wallet mutations of userID with every fill in this
// process. Callers that adjust wallets outside the matcher (allocation
// earmarks) take the same lock.
func (m *Matcher) LockUser(userID string) (unlock func()) {
	mu := m.locks.get(userID)
	mu.Lock()
	return mu.Unlock
}

// Submit stores o as a new open order and tries to fill it in mode.
// The returned order reflects the row after the attempt.
func (m *Matcher) Submit(ctx context.Context, o db.Order, mode Mode) (db.Order, Result, error) {
	if err := validate(o); err != nil {
		return o, Result{}, err
	}
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	o.Status = common.StatusOpen
	o.FilledQuantity = decimal.Zero
	o.CreatedAt = m.now()
	o.UpdatedAt = o.CreatedAt
	if err := m.DB.CreateOrder(ctx, o); err != nil {
		return o, Result{}, err
	}
	m.publishOrder(events.EventOrderSubmitted, o, mode, decimal.Zero, "")

	var (
		res Result
		err error
	)
	if mode == ModeLive {
		res, err = m.TryFillLive(ctx, o)
	} else {
		res, err = m.TryFill(ctx, o)
	}
	if stored, getErr := m.DB.GetOrder(ctx, o.ID); getErr == nil {
		o = stored
	}
	return o, res, err
}

func validate(o db.Order) error {
	if o.UserID == "" {
		return errors.New("order needs a user")
	}
	if _, _, err := common.SplitPair(o.Pair); err != nil {
		return err
	}
	if o.Side != common.SideBuy && o.Side != common.SideSell {
		return fmt.Errorf("invalid side %q", o.Side)
	}
	if !o.Quantity.IsPositive() {
		return fmt.Errorf("quantity must be positive, got %s", o.Quantity)
	}
	switch o.Type {
	case common.OrderTypeMarket:
	case common.OrderTypeLimit:
		if !o.Price.Valid || !o.Price.Decimal.IsPositive() {
			return errors.New("limit order needs a positive price")
		}
	default:
		return fmt.Errorf("invalid order type %q", o.Type)
	}
	return nil
}

// Cancel cancels an open order owned by userID.
func (m *Matcher) Cancel(ctx context.Context, userID, orderID string) (db.Order, error) {
	unlock := m.LockUser(userID)
	defer unlock()

	o, err := m.DB.GetOrder(ctx, orderID)
	if err != nil {
		return db.Order{}, err
	}
	if o.UserID != userID {
		return db.Order{}, db.ErrNotFound
	}
	if o.Status != common.StatusOpen {
		return o, ErrOrderNotOpen
	}
	if err := m.DB.CancelOrder(ctx, o.ID, m.now()); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return o, ErrOrderNotOpen
		}
		return o, err
	}
	o.Status = common.StatusCancelled
	m.publishOrder(events.EventOrderCancelled, o, ModeSimulated, decimal.Zero, "cancelled by user")
	return o, nil
}

// cancelWithReason marks o cancelled after a failed live attempt.
func (m *Matcher) cancelWithReason(ctx context.Context, o db.Order, cause error) {
	if err := m.DB.CancelOrder(context.WithoutCancel(ctx), o.ID, m.now()); err != nil && !errors.Is(err, db.ErrNotFound) {
		m.Log.Error("cancel after live failure", append(zapOrder(o), zap.Error(err))...)
	}
	o.Status = common.StatusCancelled
	m.publishOrder(events.EventOrderCancelled, o, ModeLive, decimal.Zero, cause.Error())
}

func zapOrder(o db.Order) []zap.Field {
	return []zap.Field{
		zap.String("order_id", o.ID),
		zap.String("user_id", o.UserID),
		zap.Int64("bot_id", o.BotID),
		zap.String("pair", o.Pair),
		zap.String("side", string(o.Side)),
	}
}
