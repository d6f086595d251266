package order

import (
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"bot-trading-core/internal/events"
	"bot-trading-core/pkg/db"
)

func (m *Matcher) publishOrder(e events.Event, o db.Order, mode Mode, price decimal.Decimal, reason string) {
	if m.Bus == nil {
		return
	}
	if price.IsZero() && o.Price.Valid {
		price = o.Price.Decimal
	}
	qty := o.Quantity
	if o.FilledQuantity.IsPositive() {
		qty = o.FilledQuantity
	}
	m.Bus.Publish(e, events.OrderEvent{
		OrderID:         o.ID,
		UserID:          o.UserID,
		BotID:           o.BotID,
		Pair:            o.Pair,
		Side:            string(o.Side),
		Type:            string(o.Type),
		Quantity:        qty,
		Price:           price,
		Mode:            string(mode),
		ExchangeOrderID: o.ExchangeOrderID,
		Reason:          reason,
		At:              time.Now().UTC(),
	})
}

func (m *Matcher) alert(o db.Order, kind, msg string) {
	m.Log.Warn("risk alert", append(zapOrder(o), zap.String("kind", kind), zap.String("message", msg))...)
	if m.Bus == nil {
		return
	}
	m.Bus.Publish(events.EventRiskAlert, events.RiskAlert{
		BotID:   o.BotID,
		UserID:  o.UserID,
		Kind:    kind,
		Message: msg,
		At:      time.Now().UTC(),
	})
}
