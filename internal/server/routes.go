package server

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/aman-zulfiqar/solana-privacy-benchmark/internal/metrics"
)

// RegisterRoutes configures all API routes, middleware, and error handlers
func RegisterRoutes(e *echo.Echo, h *Handlers, cfg ServerConfig) {
	if cfg.Metrics != nil {
		e.Use(metrics.EchoMiddleware(cfg.Metrics))
	}
	e.Use(apiHeaders)

	// Optional API key authentication; scrapes and health checks stay open
	if cfg.APIKey != "" {
		e.Use(middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
			Skipper: func(c echo.Context) bool {
				p := c.Path()
				return p == "/metrics" || p == "/v1/health"
			},
			KeyLookup: "header:X-API-Key", // Look for API key in X-API-Key header
			Validator: func(key string, c echo.Context) (bool, error) {
				return key == cfg.APIKey, nil
			},
		}))
	}

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// API v1 routes
	v1 := e.Group("/v1")
	v1.GET("/health", h.Health)                   // Health check endpoint
	v1.GET("/matches/recent", h.RecentMatches)    // Recent reported matches
	v1.GET("/protocols", h.Protocols)             // Stats of every protocol
	v1.GET("/protocols/:protocol/stats", h.ProtocolStats)
	v1.GET("/protocols/:protocol/deposits", h.Deposits)

	// Distribution reports walk the whole index, so they are rate limited
	reports := v1.Group("/protocols/:protocol/distribution")
	reports.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
		Rate:      rate.Limit(1), // 1 request per second
		Burst:     5,
		ExpiresIn: 2 * time.Minute,
	})))
	reports.GET("", h.Distribution)

	// Detector flags CRUD endpoints
	if h.Flags != nil {
		flagGroup := v1.Group("/flags")
		flagGroup.GET("", h.FlagsList)           // List all flags
		flagGroup.POST("", h.FlagsUpsert)        // Create new flag
		flagGroup.GET("/:key", h.FlagsGet)       // Get specific flag
		flagGroup.PUT("/:key", h.FlagsUpdate)    // Update existing flag
		flagGroup.DELETE("/:key", h.FlagsDelete) // Delete flag
	}

	// Catch-all route for 404 responses
	e.RouteNotFound("/*", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	})
}
