package metrics

import (
	"time"

	"github.com/labstack/echo/v4"
)

// EchoMiddleware records request count and latency per route template.
func EchoMiddleware(m *Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			// Render errors here so the recorded status is the one the
			// error handler writes
			if err := next(c); err != nil {
				c.Error(err)
			}
			status := c.Response().Status
			m.RecordHTTPRequest(c.Path(), c.Request().Method, status, time.Since(start).Seconds())
			return nil
		}
	}
}
