package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"bot-trading-core/internal/events"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// streamTopics are forwarded to websocket clients. Order and position
// events are filtered to the caller's own.
var streamTopics = []events.Event{
	events.EventPriceTick,
	events.EventOrderFilled,
	events.EventOrderRejected,
	events.EventOrderCancelled,
	events.EventPositionOpened,
	events.EventPositionClosed,
}

type streamMessage struct {
	Topic events.Event `json:"topic"`
	Data  any          `json:"data"`
}

func (s *Server) websocket(c *gin.Context) {
	if s.Bus == nil {
		respondError(c, http.StatusServiceUnavailable, "BUS_UNAVAILABLE", "event bus not ready")
		return
	}
	userID := CurrentUserID(c)
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	out := make(chan streamMessage, 128)
	done := make(chan struct{})
	defer close(done)
	for _, topic := range streamTopics {
		stream, unsub := s.Bus.Subscribe(topic, 64)
		defer unsub()
		go func(topic events.Event, stream <-chan any) {
			for msg := range stream {
				if !visibleTo(userID, msg) {
					continue
				}
				select {
				case out <- streamMessage{Topic: topic, Data: msg}:
				case <-done:
					return
				}
			}
		}(topic, stream)
	}

	// The read loop only notices the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case <-c.Request.Context().Done():
			return
		case msg := <-out:
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(msg); err != nil {
				s.log.Debug("ws write failed", zap.String("user_id", userID), zap.Error(err))
				return
			}
		}
	}
}

func visibleTo(userID string, msg any) bool {
	switch ev := msg.(type) {
	case events.OrderEvent:
		return ev.UserID == userID
	case events.PositionEvent:
		return ev.UserID == userID
	default:
		return true
	}
}
