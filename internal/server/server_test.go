package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aman-zulfiqar/solana-privacy-benchmark/internal/events"
	"github.com/aman-zulfiqar/solana-privacy-benchmark/internal/flags"
	"github.com/aman-zulfiqar/solana-privacy-benchmark/internal/models"
	"github.com/aman-zulfiqar/solana-privacy-benchmark/internal/realtime"
)

const testAPIKey = "test-api-key"

type memoryCache struct {
	mu      sync.Mutex
	matches []*models.Match
	pingErr error
}

func (m *memoryCache) Name() string { return "memory" }

func (m *memoryCache) WriteMatch(_ context.Context, match *models.Match) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.matches = append([]*models.Match{match}, m.matches...)
	return nil
}

func (m *memoryCache) RecentMatches(_ context.Context, limit int64) ([]*models.Match, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if int64(len(m.matches)) < limit {
		limit = int64(len(m.matches))
	}
	return m.matches[:limit], nil
}

func (m *memoryCache) Ping(context.Context) error { return m.pingErr }
func (m *memoryCache) Close() error               { return nil }

type memoryFlags struct {
	mu    sync.Mutex
	items map[string]*flags.Flag
}

func (m *memoryFlags) Upsert(_ context.Context, key string, enabled bool) (*flags.Flag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f := &flags.Flag{Key: key, Enabled: enabled, UpdatedAt: time.Now().UTC()}
	m.items[key] = f
	return f, nil
}

func (m *memoryFlags) Get(_ context.Context, key string) (*flags.Flag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.items[key]
	if !ok {
		return nil, flags.ErrNotFound
	}
	return f, nil
}

func (m *memoryFlags) List(context.Context) ([]*flags.Flag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*flags.Flag, 0, len(m.items))
	for _, f := range m.items {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *memoryFlags) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

type testEnv struct {
	srv   *Server
	bus   *events.Bus
	cache *memoryCache
	flags *memoryFlags
	gate  *flags.Gate
}

func setupTestServer(t *testing.T, apiKey string) *testEnv {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	bus := events.NewBus(events.BusConfig{Logger: logger})
	cfg := realtime.DefaultConfig()
	cfg.Logger = logger
	analyzer := realtime.NewAnalyzer(bus, cfg)
	require.NoError(t, analyzer.Start(context.Background()))
	t.Cleanup(analyzer.Stop)

	env := &testEnv{
		bus:   bus,
		cache: &memoryCache{},
		flags: &memoryFlags{items: map[string]*flags.Flag{}},
	}
	env.gate = flags.NewGate(env.flags, logger)

	srv, err := NewServer(ServerDeps{
		Handlers: &Handlers{
			Analyzer: analyzer,
			Cache:    env.cache,
			Flags:    env.flags,
			Gate:     env.gate,
			Logger:   logger,
		},
		Config: ServerConfig{Addr: ":0", DevMode: true, APIKey: apiKey},
	})
	require.NoError(t, err)
	env.srv = srv
	return env
}

func (env *testEnv) do(t *testing.T, method, path string, body any, key string) *httptest.ResponseRecorder {
	t.Helper()
	var buf io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		buf = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, buf)
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	rec := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func (env *testEnv) deposit(sig string, amount uint64) {
	env.bus.Publish(events.DepositEvent{
		Protocol: "privacy-cash",
		Deposit: models.Deposit{
			Signature: sig,
			Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
			Amount:    amount,
			Depositor: "depositor-" + sig,
		},
	})
}

func TestHealth(t *testing.T) {
	env := setupTestServer(t, testAPIKey)

	rec := env.do(t, http.MethodGet, "/v1/health", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.OK)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	env.cache.pingErr = errors.New("connection refused")
	rec = env.do(t, http.MethodGet, "/v1/health", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAuthRequired(t *testing.T) {
	env := setupTestServer(t, testAPIKey)

	rec := env.do(t, http.MethodGet, "/v1/protocols", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code, "missing key header")

	rec = env.do(t, http.MethodGet, "/v1/protocols", nil, "wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/protocols", nil, testAPIKey)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRecentMatches(t *testing.T) {
	env := setupTestServer(t, "")
	for _, sig := range []string{"a", "b", "c"} {
		require.NoError(t, env.cache.WriteMatch(context.Background(), &models.Match{
			Type:     models.MatchAddressLink,
			Protocol: "shadowwire",
			Link:     &models.LinkMatch{TransferSignature: sig},
		}))
	}

	rec := env.do(t, http.MethodGet, "/v1/matches/recent?limit=2", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp MatchesRecentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Items, 2)
	assert.Equal(t, "c", resp.Items[0].Link.TransferSignature)

	for _, bad := range []string{"0", "201", "abc"} {
		rec = env.do(t, http.MethodGet, "/v1/matches/recent?limit="+bad, nil, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, bad)
	}
}

func TestProtocolEndpoints(t *testing.T) {
	env := setupTestServer(t, "")
	env.deposit("d1", 1_000_000_000)
	env.deposit("d2", 1_000_000_000)
	env.deposit("d3", 2_500_000_000)

	rec := env.do(t, http.MethodGet, "/v1/protocols", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list ProtocolsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Items, 1)
	assert.Equal(t, "privacy-cash", list.Items[0].Protocol)
	assert.Equal(t, 3, list.Items[0].IndexedDeposits)

	rec = env.do(t, http.MethodGet, "/v1/protocols/privacy-cash/stats", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/protocols/tornado/stats", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/protocols/privacy-cash/distribution", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var report map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, "privacy-cash", report["protocol"])

	rec = env.do(t, http.MethodGet, "/v1/protocols/privacy-cash/deposits?amount=1000000000", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var deposits DepositsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &deposits))
	assert.Equal(t, 2, deposits.Count)

	rec = env.do(t, http.MethodGet, "/v1/protocols/privacy-cash/deposits?amount=-1", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.do(t, http.MethodGet, "/v1/protocols/privacy-cash/deposits", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFlagsCRUD(t *testing.T) {
	env := setupTestServer(t, "")
	key := flags.DetectorKey("privacy-cash", models.MatchTimingAttack)

	rec := env.do(t, http.MethodPost, "/v1/flags", FlagUpsertRequest{Key: key, Value: false}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, env.gate.Enabled("privacy-cash", models.MatchTimingAttack), "write refreshes the gate")

	rec = env.do(t, http.MethodGet, "/v1/flags/"+key, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var f flags.Flag
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &f))
	assert.Equal(t, key, f.Key)
	assert.False(t, f.Enabled)

	rec = env.do(t, http.MethodPut, "/v1/flags/"+key, FlagUpdateRequest{Value: true}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.gate.Enabled("privacy-cash", models.MatchTimingAttack))

	rec = env.do(t, http.MethodGet, "/v1/flags", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodDelete, "/v1/flags/"+key, nil, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/flags/"+key, nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/flags", FlagUpsertRequest{Key: "bad key!", Value: true}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNotFound(t *testing.T) {
	env := setupTestServer(t, "")
	rec := env.do(t, http.MethodGet, "/v1/nope", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestFlagsRejectUnknownMatchType(t *testing.T) {
	env := setupTestServer(t, "")

	rec := env.do(t, http.MethodPost, "/v1/flags", FlagUpsertRequest{Key: "privacy-cash.front_running", Value: true}, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "invalid key", resp.Error)
	details, ok := resp.Details.(map[string]any)
	require.True(t, ok)
	assert.Contains(t, details["key"], "unknown match type")

	rec = env.do(t, http.MethodGet, "/v1/flags/Privacy-Cash", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestErrorResponse(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
		msg  string
	}{
		{"echo error with message", echo.NewHTTPError(http.StatusNotFound, "not found"), http.StatusNotFound, "not found"},
		{"echo error without message", &echo.HTTPError{Code: http.StatusMethodNotAllowed}, http.StatusMethodNotAllowed, "Method Not Allowed"},
		{"invalid flag key", fmt.Errorf("upsert flag: %w", flags.ErrInvalidKey), http.StatusBadRequest, "invalid key"},
		{"missing flag", flags.ErrNotFound, http.StatusNotFound, "flag not found"},
		{"backend timeout", fmt.Errorf("list flags: %w", context.DeadlineExceeded), http.StatusGatewayTimeout, "backend timeout"},
		{"anything else", errors.New("redis down"), http.StatusInternalServerError, "internal server error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := errorResponse(tt.err)
			assert.Equal(t, tt.code, resp.Code)
			assert.Equal(t, tt.msg, resp.Error)
		})
	}
}

func TestErrorHandler_DetailsOnlyInDevMode(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	for _, dev := range []bool{false, true} {
		e := echo.New()
		e.HTTPErrorHandler = jsonErrorHandler(logger, dev)
		e.GET("/boom", func(echo.Context) error { return errors.New("redis down") })

		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
		require.Equal(t, http.StatusInternalServerError, rec.Code)

		var resp ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		if dev {
			assert.Equal(t, "redis down", resp.Details)
		} else {
			assert.Nil(t, resp.Details)
		}
	}
}

func TestServer_RunStopsWithContext(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	bus := events.NewBus(events.BusConfig{Logger: logger})
	cfg := realtime.DefaultConfig()
	cfg.Logger = logger

	srv, err := NewServer(ServerDeps{
		Handlers: &Handlers{Analyzer: realtime.NewAnalyzer(bus, cfg), Logger: logger},
		Config:   ServerConfig{Addr: "127.0.0.1:0", ShutdownTimeout: time.Second},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestNewServer_RequiresAnalyzer(t *testing.T) {
	_, err := NewServer(ServerDeps{Handlers: &Handlers{}})
	assert.Error(t, err)
}
