package ws

import (
	"context"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/AgentOS/termmux/internal/shared/id"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 64 * 1024
	sendBufferSize = 256
)

var errRateLimited = errors.New("rate limit exceeded")

// Client is one websocket front end.
type Client struct {
	id      id.ConnectionID
	conn    *websocket.Conn
	hub     *Hub
	send    chan []byte
	limiter *rate.Limiter
	logger  *zap.Logger

	// snapshot carries the first frame; writePump sends nothing before it.
	snapshot chan []byte
	// closeCode and closeText are set by the hub before it closes send.
	closeCode int
	closeText string
}

func newClient(connID id.ConnectionID, conn *websocket.Conn, hub *Hub) *Client {
	return &Client{
		id:      connID,
		conn:    conn,
		hub:     hub,
		send:    make(chan []byte, sendBufferSize),
		limiter: rate.NewLimiter(rate.Limit(hub.limits.MessagesPerSecond), hub.limits.Burst),
		logger:  hub.logger.With(zap.String("conn", connID.String())),

		snapshot: make(chan []byte, 1),
	}
}

// readPump decodes requests and submits them to the multiplexer.
func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.hub.leave(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}

		req, err := DecodeRequest(frame)
		if err != nil {
			c.hub.reply(c, encodeError(req, err))
			continue
		}
		if c.hub.metrics != nil {
			label := string(req.Type)
			if !req.Type.Known() {
				label = "unknown"
			}
			c.hub.metrics.RecordWSMessage("in", label)
		}
		if !c.limiter.Allow() {
			c.hub.reply(c, encodeError(req, errRateLimited))
			continue
		}
		if req.RequestID == "" {
			req.RequestID = id.NewRequestID().String()
		}

		// The hub closes the connection once the multiplexer has drained, so
		// submit failures during shutdown are reported and reading continues.
		if err := c.hub.mux.Submit(ctx, req); err != nil {
			c.hub.reply(c, encodeError(req, err))
		}
	}
}

// writePump writes the snapshot, then queued frames, and keeps the connection
// alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	first, ok := <-c.snapshot
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if !ok {
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "session snapshot unavailable"))
		return
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, first); err != nil {
		c.logger.Debug("websocket write failed", zap.Error(err))
		return
	}

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				code := c.closeCode
				if code == 0 {
					code = websocket.CloseNormalClosure
				}
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(code, c.closeText))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logger.Debug("websocket write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
