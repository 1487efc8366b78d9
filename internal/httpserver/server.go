// Package httpserver serves the read-only status API and the Prometheus
// scrape endpoint of a running stream splitter.
package httpserver

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/tphakala/streamsplit/internal/buildinfo"
	"github.com/tphakala/streamsplit/internal/errors"
	"github.com/tphakala/streamsplit/internal/hal"
	"github.com/tphakala/streamsplit/internal/logger"
	"github.com/tphakala/streamsplit/internal/streamsplit"
)

// Default timeouts for the status server.
const (
	DefaultReadTimeout     = 10 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 5 * time.Second
)

// Server is implemented by HTTP servers that run in the background.
type Server interface {
	// Start begins serving in a background goroutine and returns immediately.
	Start()
	// Shutdown gracefully stops the server.
	Shutdown() error
}

// Config holds the status server configuration.
type Config struct {
	Listen          string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config listening on listen with default timeouts.
func DefaultConfig(listen string) Config {
	return Config{
		Listen:          listen,
		ReadTimeout:     DefaultReadTimeout,
		WriteTimeout:    DefaultWriteTimeout,
		IdleTimeout:     DefaultIdleTimeout,
		ShutdownTimeout: DefaultShutdownTimeout,
	}
}

// StreamSource is the view of the directory the status API needs.
type StreamSource interface {
	Snapshot() []streamsplit.StreamStatus
	Len() int
}

// DeviceSource enumerates capture devices.
type DeviceSource interface {
	CaptureDevices() ([]hal.DeviceInfo, error)
}

// StatusServer is an echo based HTTP server exposing stream status.
type StatusServer struct {
	config  Config
	echo    *echo.Echo
	log     logger.Logger
	streams StreamSource
	devices DeviceSource
	metrics http.Handler
	build   *buildinfo.Context
	started time.Time
	wg      sync.WaitGroup
}

var _ Server = (*StatusServer)(nil)

// Option configures a StatusServer.
type Option func(*StatusServer)

// WithLogger overrides the module logger.
func WithLogger(log logger.Logger) Option {
	return func(s *StatusServer) {
		if log != nil {
			s.log = log
		}
	}
}

// WithMetricsHandler mounts h on GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *StatusServer) { s.metrics = h }
}

// WithBuildInfo reports version metadata on the health endpoint.
func WithBuildInfo(b *buildinfo.Context) Option {
	return func(s *StatusServer) { s.build = b }
}

// WithDevices enables GET /api/v1/devices.
func WithDevices(d DeviceSource) Option {
	return func(s *StatusServer) { s.devices = d }
}

// New creates a status server for streams. The server does not listen until
// Start is called.
func New(cfg Config, streams StreamSource, opts ...Option) (*StatusServer, error) {
	if streams == nil {
		return nil, errors.Newf("status server requires a stream source").
			Component("httpserver").
			Category(errors.CategoryValidation).
			Build()
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}

	s := &StatusServer{
		config:  cfg,
		streams: streams,
		log:     logger.Global().Module("httpserver"),
		started: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.echo = echo.New()
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Server.ReadTimeout = cfg.ReadTimeout
	s.echo.Server.WriteTimeout = cfg.WriteTimeout
	s.echo.Server.IdleTimeout = cfg.IdleTimeout

	s.echo.Use(middleware.Recover())
	s.setupRoutes()

	return s, nil
}

func (s *StatusServer) setupRoutes() {
	if s.metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.metrics))
	}

	v1 := s.echo.Group("/api/v1")
	v1.GET("/health", s.HealthCheck)
	v1.GET("/streams", s.ListStreams)
	v1.GET("/streams/:handle", s.GetStream)
	if s.devices != nil {
		v1.GET("/devices", s.ListDevices)
	}
}

// Handler returns the underlying HTTP handler.
func (s *StatusServer) Handler() http.Handler {
	return s.echo
}

// Start begins serving HTTP requests in a background goroutine.
func (s *StatusServer) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.log.Info("starting status server", logger.String("address", s.config.Listen))
		if err := s.echo.Start(s.config.Listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("status server error", logger.Error(err))
		}
	}()
}

// Shutdown gracefully stops the server and waits for the serve goroutine.
func (s *StatusServer) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	err := s.echo.Shutdown(ctx)
	s.wg.Wait()
	if err != nil {
		return errors.New(err).
			Component("httpserver").
			Category(errors.CategoryNetwork).
			Context("operation", "shutdown").
			Build()
	}
	s.log.Info("status server stopped")
	return nil
}
