package market

import (
	"context"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"bot-trading-core/internal/events"
)

// MockFeed writes a random-walk ticker per pair into the oracle, for
// simulation without network access.
type MockFeed struct {
	Oracle     *Oracle
	Bus        *events.Bus
	Pairs      []string
	StartPrice float64
	StepPct    float64 // max relative move per tick, in percent
	Interval   time.Duration
	Log        *zap.Logger
	Rand       *rand.Rand
}

func (m *MockFeed) Start(ctx context.Context) {
	log := m.Log
	if log == nil {
		log = zap.NewNop()
	}
	if m.Oracle == nil {
		log.Warn("mock feed: oracle not set")
		return
	}
	if len(m.Pairs) == 0 {
		m.Pairs = []string{"BTC_USDT"}
	}
	if m.StartPrice == 0 {
		m.StartPrice = 100.0
	}
	if m.StepPct == 0 {
		m.StepPct = 0.1
	}
	if m.Interval == 0 {
		m.Interval = time.Second
	}
	if m.Rand == nil {
		m.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	prices := make(map[string]float64, len(m.Pairs))
	for _, p := range m.Pairs {
		prices[p] = m.StartPrice
	}
	m.tick(ctx, prices, log)

	go func() {
		t := time.NewTicker(m.Interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				m.tick(ctx, prices, log)
			}
		}
	}()
}

func (m *MockFeed) tick(ctx context.Context, prices map[string]float64, log *zap.Logger) {
	now := time.Now().UTC()
	for _, pair := range m.Pairs {
		price := prices[pair] * (1 + (m.Rand.Float64()*2-1)*m.StepPct/100)
		if price <= 0 {
			price = m.StartPrice
		}
		prices[pair] = price
		t := Ticker{
			LastPrice: decimal.NewFromFloat(price).Round(2),
			ChangePct: (price - m.StartPrice) / m.StartPrice * 100,
			High:      price,
			Low:       price,
			UpdatedAt: now,
		}
		if err := m.Oracle.Publish(ctx, pair, t); err != nil {
			log.Warn("mock ticker publish failed", zap.String("pair", pair), zap.Error(err))
			continue
		}
		m.Bus.Publish(events.EventPriceTick, events.TickerEvent{Pair: pair, Price: price, At: now})
	}
}
