// Package publish streams filled orders to Kafka for downstream ledgers
// and analytics.
package publish

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"bot-trading-core/internal/events"
)

// MessageWriter is satisfied by *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Fill is the record written per filled order.
type Fill struct {
	OrderID         string          `json:"order_id"`
	UserID          string          `json:"user_id"`
	BotID           int64           `json:"bot_id,omitempty"`
	Pair            string          `json:"pair"`
	Side            string          `json:"side"`
	Quantity        decimal.Decimal `json:"quantity"`
	Price           decimal.Decimal `json:"price"`
	Notional        decimal.Decimal `json:"notional"`
	Mode            string          `json:"mode"`
	ExchangeOrderID string          `json:"exchange_order_id,omitempty"`
	FilledAt        time.Time       `json:"filled_at"`
}

// NewKafkaWriter builds a writer that keeps every pair on one partition.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchSize:              100,
		BatchTimeout:           10 * time.Millisecond,
		RequiredAcks:           kafka.RequireOne,
		Compression:            kafka.Zstd,
		AllowAutoTopicCreation: true,
	}
}

// FillStream forwards order.filled events to a MessageWriter.
type FillStream struct {
	writer  MessageWriter
	bus     *events.Bus
	log     *zap.Logger
	timeout time.Duration
}

func NewFillStream(w MessageWriter, bus *events.Bus, log *zap.Logger) *FillStream {
	if log == nil {
		log = zap.NewNop()
	}
	return &FillStream{writer: w, bus: bus, log: log.Named("fills"), timeout: 5 * time.Second}
}

// Run forwards fills until ctx is cancelled. A failed write is logged and
// the fill dropped; the store stays the source of truth.
func (s *FillStream) Run(ctx context.Context) error {
	stream, unsub := s.bus.Subscribe(events.EventOrderFilled, 256)
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-stream:
			if !ok {
				return nil
			}
			ev, ok := msg.(events.OrderEvent)
			if !ok {
				continue
			}
			if err := s.Publish(ctx, ev); err != nil {
				s.log.Warn("publish fill failed", zap.String("order_id", ev.OrderID),
					zap.String("pair", ev.Pair), zap.Error(err))
			}
		}
	}
}

// Publish writes one fill keyed by pair.
func (s *FillStream) Publish(ctx context.Context, ev events.OrderEvent) error {
	rec := Fill{
		OrderID:         ev.OrderID,
		UserID:          ev.UserID,
		BotID:           ev.BotID,
		Pair:            ev.Pair,
		Side:            ev.Side,
		Quantity:        ev.Quantity,
		Price:           ev.Price,
		Notional:        ev.Quantity.Mul(ev.Price),
		Mode:            ev.Mode,
		ExchangeOrderID: ev.ExchangeOrderID,
		FilledAt:        ev.At,
	}
	value, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.writer.WriteMessages(writeCtx, kafka.Message{
		Key:   []byte(ev.Pair),
		Value: value,
		Time:  ev.At,
	})
}
