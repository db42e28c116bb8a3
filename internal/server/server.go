// Package server assembles the gateway's gin engine and HTTP listener.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/authgw/internal/health"
	"github.com/vyrodovalexey/authgw/internal/observability"
	"github.com/vyrodovalexey/authgw/internal/proxy"
	"github.com/vyrodovalexey/authgw/internal/server/middleware"
)

// ginModeOnce keeps gin.SetMode from racing when several servers start.
var ginModeOnce sync.Once

// Config configures the HTTP server.
type Config struct {
	Address            string
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	IdleTimeout        time.Duration
	MaxHeaderBytes     int
	MaxRequestBodySize int64
	RoutePrefix        string
	MetricsPath        string
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		Address:        ":8080",
		ReadTimeout:    30 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
		RoutePrefix:    proxy.DefaultRoutePrefix,
	}
}

// Server is the gateway HTTP server.
type Server struct {
	config     Config
	engine     *gin.Engine
	httpServer *http.Server
	logger     observability.Logger

	mu      sync.Mutex
	running bool
}

// Option configures a Server.
type Option func(*options)

type options struct {
	logger  observability.Logger
	metrics *observability.Metrics
	health  *health.Handler
}

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics enables request metrics and, when the config names a path,
// the Prometheus endpoint.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithHealth registers the probe routes.
func WithHealth(h *health.Handler) Option {
	return func(o *options) {
		o.health = h
	}
}

// New builds the server and its routes. Every method under
// <prefix>/<service>/ goes to the proxy handler.
func New(cfg Config, handler *proxy.Handler, opts ...Option) *Server {
	o := &options{logger: observability.NopLogger()}
	for _, opt := range opts {
		opt(o)
	}

	ginModeOnce.Do(func() {
		gin.SetMode(gin.ReleaseMode)
	})

	skip := []string{health.LivenessPath, health.ReadinessPath}
	if cfg.MetricsPath != "" {
		skip = append(skip, cfg.MetricsPath)
	}

	engine := gin.New()
	engine.Use(
		middleware.Recovery(o.logger),
		middleware.RequestID(),
		middleware.Tracing(skip...),
		middleware.LoggingWithConfig(middleware.LoggingConfig{Logger: o.logger, SkipPaths: skip}),
		middleware.Metrics(o.metrics, proxy.ServiceContextKey, skip...),
	)

	if o.health != nil {
		o.health.RegisterRoutes(engine)
	}
	if o.metrics != nil && cfg.MetricsPath != "" {
		engine.GET(cfg.MetricsPath, gin.WrapH(o.metrics.Handler()))
	}

	// Authentication runs ahead of the body limit so an unauthenticated
	// caller always gets 401.
	proxied := engine.Group(cfg.RoutePrefix, handler.Authenticate, middleware.BodyLimit(cfg.MaxRequestBodySize))
	proxied.Any("/:service", handler.Handle)
	proxied.Any("/:service/*path", handler.Handle)

	engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"message": "not found"})
	})

	return &Server{
		config: cfg,
		engine: engine,
		logger: o.logger,
	}
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start listens on the configured address and serves until Stop.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Address, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until Stop. It returns nil after a graceful stop.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		_ = ln.Close()
		return fmt.Errorf("server already running")
	}
	s.httpServer = &http.Server{
		Handler:           s.engine,
		ReadTimeout:       s.config.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.config.WriteTimeout,
		IdleTimeout:       s.config.IdleTimeout,
		MaxHeaderBytes:    s.config.MaxHeaderBytes,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.running = true
	srv := s.httpServer
	s.mu.Unlock()

	s.logger.Info("starting HTTP server",
		observability.String("address", ln.Addr().String()),
		observability.String("routePrefix", s.config.RoutePrefix),
	)

	err := srv.Serve(ln)

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Stop drains in-flight requests until ctx ends.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	running := s.running
	s.mu.Unlock()

	if !running || srv == nil {
		return nil
	}

	s.logger.Info("stopping HTTP server")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	s.logger.Info("HTTP server stopped")
	return nil
}

// IsRunning reports whether the server is serving.
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
