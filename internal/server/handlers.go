package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/aman-zulfiqar/solana-privacy-benchmark/internal/distribution"
	"github.com/aman-zulfiqar/solana-privacy-benchmark/internal/flags"
	"github.com/aman-zulfiqar/solana-privacy-benchmark/internal/models"
	"github.com/aman-zulfiqar/solana-privacy-benchmark/internal/realtime"
	"github.com/aman-zulfiqar/solana-privacy-benchmark/internal/storage"
)

// Analysis is the read side of the realtime analyzer
type Analysis interface {
	Stats() []realtime.ProtocolStats
	ProtocolStats(protocol string) (realtime.ProtocolStats, bool)
	Report(protocol string) (distribution.Report, bool)
	DepositsByAmount(protocol string, amount uint64) ([]models.Deposit, bool)
}

// FlagStore persists detector flags
type FlagStore interface {
	Upsert(ctx context.Context, key string, enabled bool) (*flags.Flag, error)
	Get(ctx context.Context, key string) (*flags.Flag, error)
	List(ctx context.Context) ([]*flags.Flag, error)
	Delete(ctx context.Context, key string) error
}

// Handlers contains all dependencies for API endpoint handlers
type Handlers struct {
	Analyzer Analysis           // In-memory detector state
	Cache    storage.MatchCache // Redis-backed recent matches (optional)
	Flags    FlagStore          // Redis-backed detector flags (optional)
	Gate     *flags.Gate        // Refreshed after flag writes (optional)
	DevMode  bool               // Enable detailed error responses in development
	Timeout  time.Duration      // Per-request timeout for backend calls
	Logger   *logrus.Logger     // Structured logger
}

// err returns a standardized JSON error response
// In dev mode, includes additional error details for debugging
func (h *Handlers) err(c echo.Context, code int, msg string, details any) error {
	resp := ErrorResponse{Error: msg, Code: code}
	if h.DevMode && details != nil {
		resp.Details = details
	}
	return c.JSON(code, resp)
}

// withTimeout creates a context with timeout, defaulting to the handler timeout
// and then to 10 seconds
func (h *Handlers) withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = h.Timeout
	}
	if d <= 0 {
		d = 10 * time.Second
	}
	return context.WithTimeout(ctx, d)
}

func (h *Handlers) logger() *logrus.Logger {
	if h.Logger == nil {
		h.Logger = logrus.New()
	}
	return h.Logger
}

// Health reports liveness and the reachability of the match cache
func (h *Handlers) Health(c echo.Context) error {
	if h.Cache == nil {
		return c.JSON(http.StatusOK, HealthResponse{OK: true})
	}

	ctx, cancel := h.withTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	if err := h.Cache.Ping(ctx); err != nil {
		return c.JSON(http.StatusServiceUnavailable, HealthResponse{
			OK:     false,
			Checks: map[string]string{"cache": err.Error()},
		})
	}
	return c.JSON(http.StatusOK, HealthResponse{OK: true, Checks: map[string]string{"cache": "ok"}})
}

// RecentMatches returns the most recent matches with optional limit parameter
// Accepts limit query parameter (default: 100, range: 1-200)
func (h *Handlers) RecentMatches(c echo.Context) error {
	if h.Cache == nil {
		return h.err(c, http.StatusServiceUnavailable, "match cache is not configured", nil)
	}

	limitStr := c.QueryParam("limit")
	limit := 100
	if limitStr != "" {
		n, err := strconv.Atoi(limitStr)
		if err != nil {
			return h.err(c, http.StatusBadRequest, "invalid limit", map[string]any{"limit": "must be an integer"})
		}
		limit = n
	}
	if limit < 1 || limit > 200 {
		return h.err(c, http.StatusBadRequest, "invalid limit", map[string]any{"limit": "min 1 max 200"})
	}

	ctx, cancel := h.withTimeout(c.Request().Context(), 0)
	defer cancel()

	items, err := h.Cache.RecentMatches(ctx, int64(limit))
	if err != nil {
		h.logger().WithError(err).Error("failed to get recent matches")
		return h.err(c, http.StatusInternalServerError, "failed to get matches", map[string]any{"err": err.Error()})
	}
	if items == nil {
		items = []*models.Match{}
	}
	return c.JSON(http.StatusOK, MatchesRecentResponse{Items: items})
}

// Protocols returns statistics for every protocol the analyzer has seen
func (h *Handlers) Protocols(c echo.Context) error {
	return c.JSON(http.StatusOK, ProtocolsResponse{Items: h.Analyzer.Stats()})
}

// ProtocolStats returns statistics for one protocol
func (h *Handlers) ProtocolStats(c echo.Context) error {
	protocol := strings.TrimSpace(c.Param("protocol"))
	stats, ok := h.Analyzer.ProtocolStats(protocol)
	if !ok {
		return h.err(c, http.StatusNotFound, "unknown protocol", map[string]any{"protocol": protocol})
	}
	return c.JSON(http.StatusOK, stats)
}

// Distribution returns the amount distribution report of one protocol
func (h *Handlers) Distribution(c echo.Context) error {
	protocol := strings.TrimSpace(c.Param("protocol"))
	report, ok := h.Analyzer.Report(protocol)
	if !ok {
		return h.err(c, http.StatusNotFound, "unknown protocol", map[string]any{"protocol": protocol})
	}
	return c.JSON(http.StatusOK, report)
}

// Deposits returns the indexed deposits of a protocol with an exact amount
// in lamports
func (h *Handlers) Deposits(c echo.Context) error {
	protocol := strings.TrimSpace(c.Param("protocol"))
	amountStr := c.QueryParam("amount")
	if amountStr == "" {
		return h.err(c, http.StatusBadRequest, "amount is required", map[string]any{"amount": "required"})
	}
	amount, err := strconv.ParseUint(amountStr, 10, 64)
	if err != nil {
		return h.err(c, http.StatusBadRequest, "invalid amount", map[string]any{"amount": "must be an unsigned integer"})
	}

	items, ok := h.Analyzer.DepositsByAmount(protocol, amount)
	if !ok {
		return h.err(c, http.StatusNotFound, "unknown protocol", map[string]any{"protocol": protocol})
	}
	if items == nil {
		items = []models.Deposit{}
	}
	return c.JSON(http.StatusOK, DepositsResponse{
		Protocol: protocol,
		Amount:   amount,
		Count:    len(items),
		Items:    items,
	})
}

// refreshGate applies flag writes to the running detectors without waiting
// for the next refresh tick
func (h *Handlers) refreshGate(ctx context.Context) {
	if h.Gate == nil {
		return
	}
	if err := h.Gate.Refresh(ctx); err != nil {
		h.logger().WithError(err).Warn("failed to refresh detector gate")
	}
}

// FlagsUpsert creates or updates a detector flag with the given key and value
func (h *Handlers) FlagsUpsert(c echo.Context) error {
	var req FlagUpsertRequest
	if err := c.Bind(&req); err != nil {
		return h.err(c, http.StatusBadRequest, "invalid json", nil)
	}
	return h.setFlag(c, req.Key, req.Value)
}

// FlagsUpdate sets the detector flag named in the path
func (h *Handlers) FlagsUpdate(c echo.Context) error {
	var req FlagUpdateRequest
	if err := c.Bind(&req); err != nil {
		return h.err(c, http.StatusBadRequest, "invalid json", nil)
	}
	return h.setFlag(c, c.Param("key"), req.Value)
}

// setFlag stores a flag and applies it to the running detectors. Key and
// store errors go to the error handler, which knows the flags sentinels.
func (h *Handlers) setFlag(c echo.Context, key string, enabled bool) error {
	if err := flags.ValidateKey(key); err != nil {
		return err
	}

	ctx, cancel := h.withTimeout(c.Request().Context(), 3*time.Second)
	defer cancel()

	out, err := h.Flags.Upsert(ctx, key, enabled)
	if err != nil {
		return fmt.Errorf("upsert flag: %w", err)
	}
	h.refreshGate(ctx)
	return c.JSON(http.StatusOK, out)
}

// FlagsGet retrieves a detector flag by its key; 404 when unset
func (h *Handlers) FlagsGet(c echo.Context) error {
	key := c.Param("key")
	if err := flags.ValidateKey(key); err != nil {
		return err
	}

	ctx, cancel := h.withTimeout(c.Request().Context(), 3*time.Second)
	defer cancel()

	out, err := h.Flags.Get(ctx, key)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

// FlagsList returns all detector flags
func (h *Handlers) FlagsList(c echo.Context) error {
	ctx, cancel := h.withTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	items, err := h.Flags.List(ctx)
	if err != nil {
		return fmt.Errorf("list flags: %w", err)
	}
	return c.JSON(http.StatusOK, map[string]any{"items": items})
}

// FlagsDelete removes a detector flag, restoring the default. 204 on success
func (h *Handlers) FlagsDelete(c echo.Context) error {
	key := c.Param("key")
	if err := flags.ValidateKey(key); err != nil {
		return err
	}

	ctx, cancel := h.withTimeout(c.Request().Context(), 3*time.Second)
	defer cancel()

	if err := h.Flags.Delete(ctx, key); err != nil {
		return fmt.Errorf("delete flag: %w", err)
	}
	h.refreshGate(ctx)
	return c.NoContent(http.StatusNoContent)
}
