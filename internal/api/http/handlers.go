package http

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/termmux/internal/api/middleware"
	"github.com/GriffinCanCode/AgentOS/termmux/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/termmux/internal/terminal"
)

const (
	defaultQueryTimeout = 5 * time.Second

	// Smaller scrollbacks are sent as is.
	gzipMinSize = 1024
)

// Terminals is the multiplexer surface the HTTP API needs.
type Terminals interface {
	Submit(ctx context.Context, req terminal.Request) error
	Sessions(ctx context.Context) ([]terminal.Entry, error)
	Scrollback(ctx context.Context, id string) ([]byte, error)
}

// ClientCounter reports connected websocket clients.
type ClientCounter interface {
	ClientCount() int
}

// Handlers contains all HTTP handlers
type Handlers struct {
	terminals Terminals
	clients   ClientCounter
	metrics   *monitoring.Metrics
	logger    *zap.Logger
	version   string
	timeout   time.Duration
}

// Options configures Handlers. Clients and Metrics are optional.
type Options struct {
	Clients      ClientCounter
	Metrics      *monitoring.Metrics
	Logger       *zap.Logger
	Version      string
	QueryTimeout time.Duration
}

// NewHandlers creates a new handler set
func NewHandlers(terminals Terminals, opts Options) *Handlers {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = defaultQueryTimeout
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	return &Handlers{
		terminals: terminals,
		clients:   opts.Clients,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		version:   opts.Version,
		timeout:   opts.QueryTimeout,
	}
}

// Register mounts the handlers on r.
func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/", h.Root)
	r.GET("/health", h.Health)
	r.GET("/terminals", h.ListTerminals)
	r.GET("/terminals/:id/scrollback", h.Scrollback)
	r.DELETE("/terminals/:id", h.KillTerminal)
}

// Root identifies the service
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "termmux",
		"version": h.version,
	})
}

// Health reports session and connection counts. It answers 503 once the
// multiplexer has stopped taking queries.
func (h *Handlers) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	entries, err := h.terminals.Sessions(ctx)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"status": "unavailable", "error": err.Error()})
		return
	}

	body := gin.H{
		"status":    "healthy",
		"version":   h.version,
		"terminals": len(entries),
	}
	if h.clients != nil {
		body["clients"] = h.clients.ClientCount()
	}
	if h.metrics != nil {
		body["metrics"] = h.metrics.Snapshot()
	}
	c.JSON(http.StatusOK, body)
}

// ListTerminals returns the live sessions in creation order
func (h *Handlers) ListTerminals(c *gin.Context) {
	timer := monitoring.NewTimer(h.metrics, "sessions")
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	entries, err := h.terminals.Sessions(ctx)
	timer.Stop(monitoring.StatusLabel(err))
	if err != nil {
		h.fail(c, err)
		return
	}
	if entries == nil {
		entries = []terminal.Entry{}
	}
	c.JSON(http.StatusOK, gin.H{
		"terminals": entries,
		"count":     len(entries),
	})
}

// Scrollback returns the retained output of a session as raw bytes, gzipped
// when the client accepts it.
func (h *Handlers) Scrollback(c *gin.Context) {
	timer := monitoring.NewTimer(h.metrics, "scrollback")
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	data, err := h.terminals.Scrollback(ctx, c.Param("id"))
	timer.Stop(monitoring.StatusLabel(err))
	if err != nil {
		h.fail(c, err)
		return
	}

	c.Header("Vary", "Accept-Encoding")
	if len(data) >= gzipMinSize && acceptsGzip(c.Request) {
		compressed, err := gzipBytes(data)
		if err == nil {
			c.Header("Content-Encoding", "gzip")
			c.Data(http.StatusOK, "application/octet-stream", compressed)
			return
		}
		h.logger.Debug("scrollback compression failed", zap.Error(err))
	}
	c.Data(http.StatusOK, "application/octet-stream", data)
}

// KillTerminal requests termination of a session. The outcome arrives on the
// websocket as terminal-killed followed by terminal-exit.
func (h *Handlers) KillTerminal(c *gin.Context) {
	id := c.Param("id")
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	entries, err := h.terminals.Sessions(ctx)
	if err != nil {
		h.fail(c, err)
		return
	}
	if !containsID(entries, id) {
		h.fail(c, terminal.ErrUnknownSession)
		return
	}

	err = h.terminals.Submit(ctx, terminal.Request{
		Type:      terminal.RequestKill,
		ID:        id,
		RequestID: middleware.GetRequestID(c),
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"id":     id,
		"status": "kill requested",
	})
}

func (h *Handlers) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Warn("terminal query failed",
			zap.String("path", c.FullPath()),
			zap.String("request_id", middleware.GetRequestID(c)),
			zap.Error(err),
		)
	}
	_ = c.Error(err)
	c.JSON(status, gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, terminal.ErrUnknownSession):
		return http.StatusNotFound
	case errors.Is(err, terminal.ErrMultiplexerClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func acceptsGzip(r *http.Request) bool {
	for _, enc := range strings.Split(r.Header.Get("Accept-Encoding"), ",") {
		if strings.TrimSpace(strings.SplitN(enc, ";", 2)[0]) == "gzip" {
			return true
		}
	}
	return false
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func containsID(entries []terminal.Entry, id string) bool {
	for _, e := range entries {
		if e.ID == id {
			return true
		}
	}
	return false
}
