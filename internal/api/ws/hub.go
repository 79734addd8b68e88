package ws

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/termmux/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/termmux/internal/shared/id"
	"github.com/GriffinCanCode/AgentOS/termmux/internal/terminal"
)

const snapshotTimeout = 5 * time.Second

// Multiplexer is the part of terminal.Multiplexer the bridge needs.
type Multiplexer interface {
	Submit(ctx context.Context, req terminal.Request) error
	Sessions(ctx context.Context) ([]terminal.Entry, error)
	Notifications() <-chan terminal.Notification
}

// Limits bounds inbound traffic per connection.
type Limits struct {
	MessagesPerSecond float64
	Burst             int
}

// Config configures a Hub.
type Config struct {
	Limits  Limits
	Logger  *zap.Logger
	Metrics *monitoring.Metrics
}

type directMessage struct {
	client *Client
	data   []byte
}

// Hub fans multiplexer notifications out to every connected front end and
// feeds their requests back into the multiplexer.
type Hub struct {
	mux      Multiplexer
	limits   Limits
	logger   *zap.Logger
	metrics  *monitoring.Metrics
	upgrader websocket.Upgrader

	// register is unbuffered: once a send completes the client is in
	// clients, so every notification processed afterwards reaches it.
	register   chan *Client
	unregister chan *Client
	direct     chan directMessage

	// clients is owned by the Run goroutine.
	clients map[*Client]struct{}
	count   atomic.Int64
	started atomic.Bool
	done    chan struct{}
}

// NewHub creates a hub bridging websocket clients to mux.
func NewHub(mux Multiplexer, cfg Config) *Hub {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Limits.MessagesPerSecond <= 0 {
		cfg.Limits.MessagesPerSecond = 200
	}
	if cfg.Limits.Burst <= 0 {
		cfg.Limits.Burst = 400
	}
	return &Hub{
		mux:     mux,
		limits:  cfg.Limits,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true // local front end; CORS middleware guards HTTP
			},
		},
		register:   make(chan *Client),
		unregister: make(chan *Client, 16),
		direct:     make(chan directMessage, 64),
		clients:    make(map[*Client]struct{}),
		done:       make(chan struct{}),
	}
}

// Run forwards notifications until the multiplexer closes its channel. It keeps
// running after ctx is cancelled so the final exit notifications still reach
// clients; ctx only bounds the requests clients submit.
func (h *Hub) Run(ctx context.Context) error {
	if !h.started.CompareAndSwap(false, true) {
		return errors.New("websocket hub already running")
	}
	defer close(h.done)

	notes := h.mux.Notifications()
	for {
		select {
		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.count.Store(int64(len(h.clients)))
			h.recordConnection(1)
			go c.writePump()
			go c.readPump(ctx)
			h.logger.Info("websocket client connected",
				zap.String("conn", c.id.String()),
				zap.Int("clients", len(h.clients)),
			)

		case c := <-h.unregister:
			h.remove(c)

		case m := <-h.direct:
			if _, ok := h.clients[m.client]; ok {
				h.deliver(m.client, m.data)
			}

		case n, ok := <-notes:
			if !ok {
				for c := range h.clients {
					h.remove(c)
				}
				h.logger.Info("websocket hub stopped")
				return nil
			}
			h.broadcast(n)
		}
	}
}

func (h *Hub) remove(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.count.Store(int64(len(h.clients)))
	h.recordConnection(-1)
	h.logger.Info("websocket client disconnected",
		zap.String("conn", c.id.String()),
		zap.Int("clients", len(h.clients)),
	)
}

func (h *Hub) broadcast(n terminal.Notification) {
	data, err := EncodeNotification(n)
	if err != nil {
		h.logger.Error("failed to encode notification", zap.String("type", string(n.Type)), zap.Error(err))
		return
	}
	for c := range h.clients {
		h.deliver(c, data)
	}
	if h.metrics != nil && len(h.clients) > 0 {
		h.metrics.RecordWSMessage("out", string(n.Type))
	}
}

// deliver never blocks the hub. A client whose buffer is full is evicted: it
// reconnects and rebuilds its view from the list snapshot and scrollback.
func (h *Hub) deliver(c *Client, data []byte) {
	select {
	case c.send <- data:
	default:
		h.evict(c)
	}
}

func (h *Hub) evict(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	c.closeCode = websocket.CloseTryAgainLater
	c.closeText = "send buffer full"
	if h.metrics != nil {
		h.metrics.IncWSEvicted()
	}
	h.logger.Warn("client send buffer full, disconnecting", zap.String("conn", c.id.String()))
	h.remove(c)
}

func (h *Hub) recordConnection(delta int) {
	if h.metrics == nil {
		return
	}
	if delta > 0 {
		h.metrics.IncWSConnections()
	} else {
		h.metrics.DecWSConnections()
	}
}

// reply sends a frame to one client through the hub loop.
func (h *Hub) reply(c *Client, data []byte) {
	select {
	case h.direct <- directMessage{client: c, data: data}:
	case <-h.done:
	}
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	return int(h.count.Load())
}

// HandleConnection upgrades the request and registers the client. The first
// frame a client receives is a terminal-list-response with the live sessions.
// The snapshot is taken after registration, so a session change either shows
// in the snapshot or arrives as a notification behind it, possibly both.
func (h *Hub) HandleConnection(c *gin.Context) {
	select {
	case <-h.done:
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "shutting down"})
		return
	default:
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := newClient(id.NewConnectionID(), conn, h)
	select {
	case h.register <- client:
	case <-h.done:
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), snapshotTimeout)
	entries, err := h.mux.Sessions(ctx)
	cancel()
	var initial []byte
	if err == nil {
		initial, err = EncodeNotification(terminal.Notification{Type: terminal.NotifyListResponse, Entries: entries})
	}
	if err != nil {
		h.logger.Warn("session snapshot failed", zap.String("conn", client.id.String()), zap.Error(err))
		close(client.snapshot)
		return
	}
	client.snapshot <- initial
}
