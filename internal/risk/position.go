// Package risk tracks open bot positions and sizes bot orders.
package risk

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"bot-trading-core/pkg/cache"
	"bot-trading-core/pkg/exchanges/common"
)

// ExitReason is why CheckExit wants a position closed.
type ExitReason string

const (
	NoExit         ExitReason = ""
	ExitStopLoss   ExitReason = "stop_loss"
	ExitTakeProfit ExitReason = "take_profit"
)

// defaultTrailingMult applies to positions stored without a multiple.
const defaultTrailingMult = 1.5

// Position is the tracked state of one bot's position for one user,
// stored as JSON under pos:{bot}:{user}. Levels are absolute prices.
type Position struct {
	Side           common.Side `json:"side"`
	Entry          float64     `json:"entry"`
	StopLoss       float64     `json:"stop_loss"`
	TakeProfit     *float64    `json:"take_profit"`
	TrailingStop   *float64    `json:"trailing_stop"`
	TrailingActive bool        `json:"trailing_active"`
	TrailingMult   float64     `json:"trailing_atr_mult,omitempty"`
	CurrentATR     float64     `json:"current_atr"`
	OpenedAt       time.Time   `json:"opened_at"`
}

// OpenParams describes a filled entry. TakeProfitATR and TrailingATR are
// optional; zero disables them.
type OpenParams struct {
	Side          common.Side
	Entry         float64
	ATR           float64
	StopLossATR   float64
	TakeProfitATR float64
	TrailingATR   float64
}

// PositionManager owns every pos:* key in the store.
type PositionManager struct {
	store cache.Store
	now   func() time.Time
}

func NewPositionManager(store cache.Store) *PositionManager {
	return &PositionManager{store: store, now: time.Now}
}

// Open computes the protective levels from ATR multiples and stores the
// position, replacing whatever was tracked before.
func (m *PositionManager) Open(ctx context.Context, botID int64, userID string, p OpenParams) (Position, error) {
	dir := 1.0
	if p.Side == common.SideSell {
		dir = -1
	}
	pos := Position{
		Side:       p.Side,
		Entry:      p.Entry,
		StopLoss:   p.Entry - dir*p.StopLossATR*p.ATR,
		CurrentATR: p.ATR,
		OpenedAt:   m.now().UTC(),
	}
	if p.TakeProfitATR > 0 {
		tp := p.Entry + dir*p.TakeProfitATR*p.ATR
		pos.TakeProfit = &tp
	}
	if p.TrailingATR > 0 {
		ts := p.Entry - dir*p.TrailingATR*p.ATR
		pos.TrailingStop = &ts
		pos.TrailingActive = true
		pos.TrailingMult = p.TrailingATR
	}

	raw, err := json.Marshal(pos)
	if err != nil {
		return Position{}, err
	}
	if err := m.store.Set(ctx, cache.PositionKey(botID, userID), raw); err != nil {
		return Position{}, fmt.Errorf("store position: %w", err)
	}
	return pos, nil
}

// CheckExit evaluates price against the stored levels. Stop-loss wins
// over take-profit, which wins over the trailing stop. A favourable move
// ratchets the trailing stop and never exits on the same call.
func (m *PositionManager) CheckExit(ctx context.Context, botID int64, userID string, price float64) (ExitReason, error) {
	reason := NoExit
	err := cache.Update(ctx, m.store, cache.PositionKey(botID, userID), func(cur []byte) ([]byte, error) {
		reason = NoExit
		if cur == nil {
			return nil, cache.ErrSkipWrite
		}
		var pos Position
		if err := json.Unmarshal(cur, &pos); err != nil {
			return nil, fmt.Errorf("decode position: %w", err)
		}
		r, moved := evaluate(&pos, price)
		reason = r
		if !moved {
			return nil, cache.ErrSkipWrite
		}
		return json.Marshal(pos)
	})
	if err != nil {
		return NoExit, err
	}
	return reason, nil
}

// evaluate applies one price to pos. moved reports a trailing ratchet.
func evaluate(pos *Position, price float64) (reason ExitReason, moved bool) {
	long := pos.Side != common.SideSell

	if (long && price <= pos.StopLoss) || (!long && price >= pos.StopLoss) {
		return ExitStopLoss, false
	}
	if tp := pos.TakeProfit; tp != nil {
		if (long && price >= *tp) || (!long && price <= *tp) {
			return ExitTakeProfit, false
		}
	}
	if !pos.TrailingActive || pos.TrailingStop == nil {
		return NoExit, false
	}

	mult := pos.TrailingMult
	if mult == 0 {
		mult = defaultTrailingMult
	}
	trailing := *pos.TrailingStop
	if long {
		candidate := price - mult*pos.CurrentATR
		if candidate > trailing {
			pos.TrailingStop = &candidate
			return NoExit, true
		}
		if price <= trailing {
			return ExitStopLoss, false
		}
		return NoExit, false
	}
	candidate := price + mult*pos.CurrentATR
	if candidate < trailing {
		pos.TrailingStop = &candidate
		return NoExit, true
	}
	if price >= trailing {
		return ExitStopLoss, false
	}
	return NoExit, false
}

// Close forgets the position. Closing an untracked key is a no-op.
func (m *PositionManager) Close(ctx context.Context, botID int64, userID string) error {
	return m.store.Delete(ctx, cache.PositionKey(botID, userID))
}

func (m *PositionManager) Has(ctx context.Context, botID int64, userID string) (bool, error) {
	_, ok, err := m.store.Get(ctx, cache.PositionKey(botID, userID))
	return ok, err
}

func (m *PositionManager) Get(ctx context.Context, botID int64, userID string) (Position, bool, error) {
	e, ok, err := m.store.Get(ctx, cache.PositionKey(botID, userID))
	if err != nil || !ok {
		return Position{}, ok, err
	}
	var pos Position
	if err := json.Unmarshal(e.Value, &pos); err != nil {
		return Position{}, false, fmt.Errorf("decode position: %w", err)
	}
	return pos, true, nil
}
