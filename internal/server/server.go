package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"

	"github.com/aman-zulfiqar/solana-privacy-benchmark/internal/metrics"
)

// ServerConfig holds configuration for the HTTP server
type ServerConfig struct {
	Addr    string           // Bind address, e.g. ":8080"
	DevMode bool             // Error details in responses
	APIKey  string           // Optional X-API-Key for everything but /metrics and health
	Metrics *metrics.Metrics // Optional request metrics
	// ShutdownTimeout bounds the drain of in-flight requests; default 10s
	ShutdownTimeout time.Duration
}

// ServerDeps contains dependencies required to create a new Server
type ServerDeps struct {
	Handlers *Handlers
	Config   ServerConfig
}

// Server serves the analyzer's read API and the detector flags
type Server struct {
	e      *echo.Echo
	cfg    ServerConfig
	logger *logrus.Logger
}

// NewServer builds the router. An analyzer is required; cache, flag
// store and gate are optional and their routes degrade without them.
func NewServer(deps ServerDeps) (*Server, error) {
	h := deps.Handlers
	if h == nil || h.Analyzer == nil {
		return nil, fmt.Errorf("handlers with an analyzer are required")
	}
	if deps.Config.ShutdownTimeout <= 0 {
		deps.Config.ShutdownTimeout = 10 * time.Second
	}
	h.DevMode = h.DevMode || deps.Config.DevMode
	logger := h.logger()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = jsonErrorHandler(logger, h.DevMode)

	e.Use(middleware.Recover())
	e.Use(requestLogger(logger))

	e.Server.ReadTimeout = 15 * time.Second
	e.Server.WriteTimeout = 30 * time.Second
	e.Server.IdleTimeout = 60 * time.Second

	RegisterRoutes(e, h, deps.Config)

	return &Server{e: e, cfg: deps.Config, logger: logger}, nil
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.e
}

// Run serves until ctx is done, then drains in-flight requests for at
// most ShutdownTimeout. A clean shutdown returns nil.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.e.Start(s.cfg.Addr) }()

	select {
	case err := <-errCh:
		return fmt.Errorf("api server: %w", err)
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.e.Shutdown(sctx); err != nil {
		return fmt.Errorf("api server shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// requestLogger logs one line per request through the analyzer's logger
func requestLogger(logger *logrus.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			entry := logger.WithFields(logrus.Fields{
				"method":  v.Method,
				"uri":     v.URI,
				"status":  v.Status,
				"latency": v.Latency,
			})
			if v.Error != nil {
				entry = entry.WithError(v.Error)
			}
			entry.Debug("request")
			return nil
		},
	})
}

// apiHeaders marks every response as uncacheable JSON
func apiHeaders(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		h := c.Response().Header()
		h.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		h.Set("Cache-Control", "no-store")
		return next(c)
	}
}
