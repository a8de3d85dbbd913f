package pricefeed

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/your-org/paper-ledger/internal/trading"
)

const (
	initialBackoff = 1 * time.Second
	maxBackoff     = 30 * time.Second
	pingInterval   = 30 * time.Second
)

// tickMessage is the wire format of one price frame.
type tickMessage struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

// WebSocketFeed streams price ticks from an upstream market data endpoint.
// Accepted ticks update the embedded StaticFeed and are forwarded to the
// handler; stale and out-of-order frames are dropped at this boundary.
type WebSocketFeed struct {
	url     string
	feed    *StaticFeed
	handler Handler
	logger  *zap.Logger
}

// NewWebSocketFeed creates a feed reading from url. handler may be nil.
func NewWebSocketFeed(url string, feed *StaticFeed, handler Handler, logger *zap.Logger) *WebSocketFeed {
	return &WebSocketFeed{
		url:     url,
		feed:    feed,
		handler: handler,
		logger:  logger,
	}
}

// Run connects and consumes frames until the context is cancelled,
// reconnecting with exponential backoff on connection loss.
func (w *WebSocketFeed) Run(ctx context.Context) error {
	backoff := initialBackoff
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, w.url, nil)
		if err != nil {
			w.logger.Error("price feed dial failed",
				zap.String("url", w.url),
				zap.Duration("retryIn", backoff),
				zap.Error(err),
			)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			if backoff *= 2; backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		w.logger.Info("price feed connected", zap.String("url", w.url))
		backoff = initialBackoff

		if err := w.readLoop(ctx, conn); err != nil && ctx.Err() == nil {
			w.logger.Error("price feed read loop ended", zap.Error(err))
		}
		conn.Close()
	}
}

func (w *WebSocketFeed) readLoop(ctx context.Context, conn *websocket.Conn) error {
	done := make(chan struct{})
	defer close(done)

	// Keepalive pings plus shutdown on context cancellation.
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					return
				}
			case <-ctx.Done():
				conn.Close()
				return
			case <-done:
				return
			}
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var msg tickMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			w.logger.Debug("skipping malformed price frame", zap.Error(err))
			continue
		}

		tick := trading.Tick{Symbol: msg.Symbol, Price: msg.Price, Time: msg.Timestamp}
		if !w.feed.Update(tick) {
			w.logger.Debug("dropping stale price frame",
				zap.String("symbol", msg.Symbol),
				zap.Time("timestamp", msg.Timestamp),
			)
			continue
		}
		if w.handler != nil {
			w.handler(tick)
		}
	}
}
