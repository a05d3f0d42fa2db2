package realtime

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ConnConfig tunes websocket keepalive.
type ConnConfig struct {
	WriteWait    time.Duration
	PongWait     time.Duration
	PingInterval time.Duration
}

func (c ConnConfig) withDefaults() ConnConfig {
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.PongWait {
		c.PingInterval = c.PongWait * 9 / 10
	}
	return c
}

// Serve pumps sub's events to conn until the client goes away, the subscriber
// is evicted, or ctx ends. It unsubscribes and closes conn before returning.
// Clients only listen; inbound frames other than control frames are discarded.
func Serve(ctx context.Context, hub *Hub, sub *Subscriber, conn *websocket.Conn, cfg ConnConfig, logger *zap.Logger) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	defer func() {
		hub.Unsubscribe(sub)
		_ = conn.Close()
	}()

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					logger.Debug("realtime client read failed", zap.String("subscriber_id", sub.ID), zap.Error(err))
				}
				return
			}
		}
	}()

	ping := time.NewTicker(cfg.PingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			writeClose(conn, cfg, websocket.CloseGoingAway, "server shutting down")
			return
		case <-readDone:
			return
		case <-sub.Done():
			writeClose(conn, cfg, websocket.ClosePolicyViolation, "too slow, reconnect")
			return
		case payload := <-sub.Messages():
			_ = conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				logger.Debug("realtime write failed", zap.String("subscriber_id", sub.ID), zap.Error(err))
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeClose(conn *websocket.Conn, cfg ConnConfig, code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(cfg.WriteWait))
}
