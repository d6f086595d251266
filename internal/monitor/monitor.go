// Package monitor counts what the trading core does and turns the events
// an operator must see into alert messages.
package monitor

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"bot-trading-core/internal/events"
)

// Monitor watches the bus, feeds the metrics counters and forwards
// operator-facing events to the alert sink.
type Monitor struct {
	Bus     *events.Bus
	Metrics *SystemMetrics
	Sink    AlertSink
	Log     *zap.Logger
}

var watched = []events.Event{
	events.EventOrderFilled,
	events.EventOrderRejected,
	events.EventOrderCancelled,
	events.EventPositionClosed,
	events.EventBotEvicted,
	events.EventRiskAlert,
	events.EventTradingModeFlip,
}

// Start subscribes to the bus and returns once the subscriptions exist.
// The watchers stop when ctx is cancelled; wait blocks until they did.
func (m *Monitor) Start(ctx context.Context) (wait func()) {
	if m.Log == nil {
		m.Log = zap.NewNop()
	}
	if m.Bus == nil {
		m.Log.Warn("monitor not fully configured; skipping")
		return func() {}
	}
	if m.Sink == nil {
		m.Sink = LogSink{Log: m.Log}
	}

	var wg sync.WaitGroup
	for _, e := range watched {
		stream, unsub := m.Bus.Subscribe(e, 64)
		wg.Add(1)
		go func(e events.Event) {
			defer wg.Done()
			defer unsub()
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-stream:
					if !ok {
						return
					}
					m.handle(e, msg)
				}
			}
		}(e)
	}
	return wg.Wait
}

func (m *Monitor) handle(e events.Event, payload any) {
	switch e {
	case events.EventOrderFilled:
		if m.Metrics != nil {
			m.Metrics.ordersFilled.Add(1)
		}
		return
	case events.EventOrderRejected:
		if m.Metrics != nil {
			m.Metrics.ordersRejected.Add(1)
		}
		return
	case events.EventOrderCancelled:
		if m.Metrics != nil {
			m.Metrics.ordersCancelled.Add(1)
		}
		return
	case events.EventPositionClosed:
		if m.Metrics != nil {
			m.Metrics.positionsClosed.Add(1)
		}
	case events.EventRiskAlert:
		if m.Metrics != nil {
			m.Metrics.alerts.Add(1)
		}
	}

	text := formatAlert(payload)
	if text == "" {
		return
	}
	if err := m.Sink.Send(text); err != nil {
		m.Log.Warn("alert delivery failed", zap.String("event", string(e)), zap.Error(err))
	}
}

// formatAlert renders the events an operator reads. Unknown payloads
// yield "".
func formatAlert(msg any) string {
	switch t := msg.(type) {
	case events.PositionEvent:
		return fmt.Sprintf("bot %d user %s: %s %s position closed (%s), entry %.2f exit %.2f",
			t.BotID, t.UserID, t.Pair, t.Side, t.Reason, t.Entry, t.Price)
	case events.BotEvictedEvent:
		return fmt.Sprintf("bot %d evicted: %s", t.BotID, t.Reason)
	case events.RiskAlert:
		if t.BotID != 0 {
			return fmt.Sprintf("[%s] bot %d user %s: %s", t.Kind, t.BotID, t.UserID, t.Message)
		}
		return fmt.Sprintf("[%s] user %s: %s", t.Kind, t.UserID, t.Message)
	case events.TradingModeEvent:
		if t.Live {
			return "trading mode switched to LIVE"
		}
		return "trading mode switched to simulated"
	case string:
		return t
	default:
		return ""
	}
}
