package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	apihttp "github.com/GriffinCanCode/AgentOS/termmux/internal/api/http"
	"github.com/GriffinCanCode/AgentOS/termmux/internal/api/middleware"
	"github.com/GriffinCanCode/AgentOS/termmux/internal/api/ws"
	"github.com/GriffinCanCode/AgentOS/termmux/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/termmux/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/termmux/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/termmux/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/AgentOS/termmux/internal/terminal"
)

const (
	readHeaderTimeout   = 10 * time.Second
	httpShutdownTimeout = 5 * time.Second
)

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg        *config.Config
	logger     *logging.Logger
	ownLogger  bool
	version    string
	registry   *prometheus.Registry
	metrics    *monitoring.Metrics
	adapter    *terminal.PTYAdapter
	mux        *terminal.Multiplexer
	hub        *ws.Hub
	router     *gin.Engine
	httpServer *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithLogger supplies the root logger instead of building one from config.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithVersion sets the version reported by / and /health.
func WithVersion(version string) Option {
	return func(s *Server) {
		s.version = version
	}
}

// New wires the multiplexer, websocket hub and HTTP API from cfg.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Server{cfg: cfg}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		logger, err := logging.New(logging.Config{
			Level:       cfg.Logging.Level,
			Development: cfg.Logging.Development,
			Version:     s.version,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create logger: %w", err)
		}
		s.logger = logger
		s.ownLogger = true
	}

	s.logger.Info("Initializing termmux",
		zap.String("addr", cfg.Server.Addr()),
		zap.String("version", s.version),
	)

	// Metrics first; the multiplexer reports into them.
	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.metrics = monitoring.NewMetrics(s.registry)

	breakerLog := s.logger.Component("breaker")
	breaker := resilience.New("pty-spawn", resilience.Settings{
		FailureThreshold: cfg.Terminal.SpawnFailureThreshold,
		Cooldown:         cfg.Terminal.SpawnCooldown.Duration,
		OnStateChange: func(name string, from, to resilience.State) {
			breakerLog.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	s.adapter = terminal.NewPTYAdapter(terminal.PTYAdapterConfig{
		KillGrace: cfg.Terminal.KillGrace.Duration,
		Breaker:   breaker,
		Logger:    s.logger.Component("pty"),
	})
	s.mux = terminal.NewMultiplexer(s.adapter, terminal.Config{
		Shell:           cfg.Terminal.Shell,
		WorkingDir:      cfg.Terminal.WorkingDir,
		Cols:            cfg.Terminal.Cols,
		Rows:            cfg.Terminal.Rows,
		Scrollback:      cfg.Terminal.ScrollbackBytes,
		ShutdownTimeout: cfg.Terminal.ShutdownTimeout.Duration,
	},
		terminal.WithLogger(s.logger.Component("multiplexer")),
		terminal.WithObserver(s.metrics),
	)
	s.hub = ws.NewHub(s.mux, ws.Config{
		Limits: ws.Limits{
			MessagesPerSecond: cfg.WebSocket.MessagesPerSecond,
			Burst:             cfg.WebSocket.MessageBurst,
		},
		Logger:  s.logger.Component("ws"),
		Metrics: s.metrics,
	})

	s.router = s.setupRouter()
	s.httpServer = &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	s.logger.Info("Server initialized successfully")
	return s, nil
}

func (s *Server) setupRouter() *gin.Engine {
	if !s.cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestID(s.logger.Component("http")))
	router.Use(monitoring.Middleware(s.metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if s.cfg.RateLimit.Enabled {
		s.logger.Info("Rate limiting enabled",
			zap.Int("rps", s.cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", s.cfg.RateLimit.Burst),
		)
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: s.cfg.RateLimit.RequestsPerSecond,
			Burst:             s.cfg.RateLimit.Burst,
		}))
	}

	handlers := apihttp.NewHandlers(s.mux, apihttp.Options{
		Clients: s.hub,
		Metrics: s.metrics,
		Logger:  s.logger.Component("api"),
		Version: s.version,
	})
	handlers.Register(router)

	router.GET("/metrics", gin.WrapH(monitoring.Handler(s.registry)))
	router.GET("/ws", s.hub.HandleConnection)

	return router
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run listens on the configured address and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Server.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Server.Addr(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve runs the multiplexer, the websocket hub and the HTTP server on ln.
// When ctx is cancelled, or any of them fails, HTTP stops accepting requests,
// every terminal is killed, and Serve returns after the last exit notification
// has been delivered to websocket clients.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.mux.Run(gctx)
	})
	g.Go(func() error {
		return s.hub.Run(gctx)
	})
	g.Go(func() error {
		s.logger.Info("Starting HTTP server", zap.String("addr", ln.Addr().String()))
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})

	err := g.Wait()
	if live := s.adapter.Live(); live > 0 {
		s.logger.Warn("terminal processes still running after shutdown", zap.Int("count", live))
	}
	s.logger.Info("Server stopped")
	return err
}

// Close flushes the logger if the server created it.
func (s *Server) Close() error {
	if !s.ownLogger {
		return nil
	}
	return s.logger.Close()
}
