package order

import (
	"errors"
	"sync"

	"github.com/shopspring/decimal"

	"bot-trading-core/internal/market"
)

// Mode selects where an order is filled. It is resolved once per cycle
// by the caller and passed down explicitly.
type Mode string

const (
	ModeSimulated Mode = "simulated"
	ModeLive      Mode = "live"
)

// ModeFor maps the live-trading flag to a Mode.
func ModeFor(live bool) Mode {
	if live {
		return ModeLive
	}
	return ModeSimulated
}

var (
	// ErrNoPrice means the oracle had no usable price; the order stays open.
	ErrNoPrice = market.ErrNoPrice
	// ErrInsufficientBalance means the paying wallet cannot settle the fill.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrOrderNotOpen is returned when filling or cancelling a terminal order.
	ErrOrderNotOpen = errors.New("order is not open")
	// ErrLiveUnavailable means live mode was requested without a venue.
	ErrLiveUnavailable = errors.New("live trading venue not configured")
	// ErrLimitUnsupported means live mode only takes market orders.
	ErrLimitUnsupported = errors.New("limit orders are not supported in live mode")
)

// Result reports the outcome of a fill attempt. Filled is false with a nil
// error when a limit order has not crossed yet.
type Result struct {
	OrderID         string
	Filled          bool
	FillPrice       decimal.Decimal
	Quantity        decimal.Decimal
	ExchangeOrderID string
}

// userLocks serializes every wallet mutation of one user in this process.
type userLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (l *userLocks) get(userID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.locks == nil {
		l.locks = make(map[string]*sync.Mutex)
	}
	m, ok := l.locks[userID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[userID] = m
	}
	return m
}
