package market

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// StreamClient manages lightweight streaming from Binance public websockets.
type StreamClient struct {
	StreamURL string
	dialer    *websocket.Dialer
	log       *zap.Logger
}

// NewStreamClient builds a websocket client; testnet toggles the host.
func NewStreamClient(testnet bool, log *zap.Logger) *StreamClient {
	host := "stream.binance.com:9443"
	if testnet {
		host = "testnet.binance.vision"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &StreamClient{
		StreamURL: (&url.URL{Scheme: "wss", Host: host, Path: "/ws"}).String(),
		dialer:    websocket.DefaultDialer,
		log:       log.Named("binance_ws"),
	}
}

// SubscribeMiniTicker listens to the 24h mini ticker stream of one symbol.
// It returns the channel and a stop function.
func (c *StreamClient) SubscribeMiniTicker(ctx context.Context, symbol string) (<-chan MiniTicker, func(), error) {
	// Binance requires lowercase symbols for WebSocket streams
	stream := fmt.Sprintf("%s@miniTicker", strings.ToLower(symbol))
	u := fmt.Sprintf("%s/%s", c.StreamURL, stream)

	conn, _, err := c.dialer.DialContext(ctx, u, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("dial binance ws: %w", err)
	}

	out := make(chan MiniTicker, 100)
	var once sync.Once
	stop := func() {
		once.Do(func() {
			// Ignore errors; connection may already be closed.
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			_ = conn.Close()
		})
	}

	go func() {
		<-ctx.Done()
		stop()
	}()

	go func() {
		defer close(out)
		defer stop()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				// If connection already closed by caller/context, just exit quietly.
				if ctx.Err() != nil ||
					websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
					strings.Contains(err.Error(), "use of closed network connection") {
					return
				}
				c.log.Warn("read error", zap.String("symbol", symbol), zap.Error(err))
				return
			}

			parsed, err := parseMiniTickerMessage(msg)
			if err != nil {
				c.log.Warn("parse error", zap.String("symbol", symbol), zap.Error(err))
				continue
			}
			select {
			case out <- parsed:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, stop, nil
}

// parseMiniTickerMessage decodes only the fields we need. encoding/json
// matches keys case-insensitively, so "e" needs its own field or its string
// would land on the event time.
func parseMiniTickerMessage(msg []byte) (MiniTicker, error) {
	var raw struct {
		EventType   string `json:"e"`
		EventTime   any    `json:"E"`
		Symbol      string `json:"s"`
		Close       any    `json:"c"`
		Open        any    `json:"o"`
		High        any    `json:"h"`
		Low         any    `json:"l"`
		Volume      any    `json:"v"`
		QuoteVolume any    `json:"q"`
	}
	if err := json.Unmarshal(msg, &raw); err != nil {
		return MiniTicker{}, err
	}
	if raw.Symbol == "" || (raw.EventType != "" && raw.EventType != "24hrMiniTicker") {
		return MiniTicker{}, fmt.Errorf("not a mini ticker payload")
	}
	return MiniTicker{
		Symbol:      raw.Symbol,
		Close:       toFloat(raw.Close),
		Open:        toFloat(raw.Open),
		High:        toFloat(raw.High),
		Low:         toFloat(raw.Low),
		Volume:      toFloat(raw.Volume),
		QuoteVolume: toFloat(raw.QuoteVolume),
		EventTime:   toInt64(raw.EventTime),
	}, nil
}

// Ping keeps the connection alive; useful if the caller wants manual control.
func (c *StreamClient) Ping(conn *websocket.Conn) error {
	return conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(time.Second))
}
