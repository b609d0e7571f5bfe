package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/autotrader/internal/domain"
	"github.com/alanyoungcy/autotrader/internal/orchestrator"
	"github.com/alanyoungcy/autotrader/internal/queue"
	"github.com/alanyoungcy/autotrader/internal/server/handler"
	"github.com/alanyoungcy/autotrader/internal/store/memory"
)

// stubEngine serves canned data for one account, "default".
type stubEngine struct {
	queue     *queue.Queue
	submitted []domain.Signal
	submitErr error
}

func (e *stubEngine) Status() orchestrator.SystemStatus {
	return orchestrator.SystemStatus{Running: true, MaxConcurrent: 3, EntryRule: "immediate", Queue: e.queue.Status()}
}

func (e *stubEngine) Accounts() []domain.Account {
	return []domain.Account{{ID: "default", Wallet: "W", InitialBalance: 50}}
}

func (e *stubEngine) known(id string) error {
	if id != "default" {
		return fmt.Errorf("stub: %s: %w", id, domain.ErrUnknownAccount)
	}
	return nil
}

func (e *stubEngine) Sessions(id string) ([]domain.Session, error) {
	if err := e.known(id); err != nil {
		return nil, err
	}
	return []domain.Session{{ID: "live-1", AccountID: id, Token: "TOK", Status: domain.SessionActive}}, nil
}

func (e *stubEngine) Session(id string) (domain.Session, error) {
	if id == "live-1" {
		return domain.Session{ID: id, AccountID: "default", Token: "TOK", Status: domain.SessionActive}, nil
	}
	return domain.Session{}, fmt.Errorf("stub: session %s: %w", id, domain.ErrNotFound)
}

func (e *stubEngine) Positions(id string) ([]domain.Position, error) {
	if err := e.known(id); err != nil {
		return nil, err
	}
	return []domain.Position{{AccountID: id, Token: "TOK", Quantity: 50, CostBasis: 0.1}}, nil
}

func (e *stubEngine) Snapshot(id string) (domain.PortfolioSnapshot, error) {
	if err := e.known(id); err != nil {
		return domain.PortfolioSnapshot{}, err
	}
	return domain.PortfolioSnapshot{AccountID: id, Capital: 45, TotalValue: 50}, nil
}

func (e *stubEngine) Submit(_ context.Context, sig domain.Signal) (domain.Signal, error) {
	if e.submitErr != nil {
		return sig, e.submitErr
	}
	if sig.ID == "" {
		sig.ID = "generated"
	}
	e.submitted = append(e.submitted, sig)
	return sig, nil
}

func (e *stubEngine) Queue() *queue.Queue { return e.queue }

type denyAll struct{}

func (denyAll) Allow(context.Context, string, int, time.Duration) (bool, error) { return false, nil }
func (denyAll) Wait(context.Context, string) error                               { return domain.ErrRateLimited }

type fixture struct {
	engine   *stubEngine
	trades   *memory.TradeStore
	sessions *memory.SessionStore
	handler  http.Handler
}

func newFixture(t *testing.T, cfg Config, limiter domain.RateLimiter, checks map[string]handler.HealthCheck) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &fixture{
		engine:   &stubEngine{queue: queue.New(10)},
		trades:   memory.NewTradeStore(),
		sessions: memory.NewSessionStore(),
	}
	audit := memory.NewAuditStore()
	require.NoError(t, audit.Log(context.Background(), "session.finished", map[string]any{"session": "old-1"}))

	srv := NewServer(cfg, Handlers{
		Health:   handler.NewHealthHandler(checks, logger),
		Status:   handler.NewStatusHandler(f.engine, "paper"),
		Accounts: handler.NewAccountHandler(f.engine, f.trades, memory.NewSnapshotStore(), logger),
		Sessions: handler.NewSessionHandler(f.engine, f.sessions, logger),
		Signals:  handler.NewSignalHandler(f.engine, logger),
		Audit:    handler.NewAuditHandler(audit, logger),
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			io.WriteString(w, "autotrader_sessions_started_total 1\n")
		}),
	}, nil, limiter, logger)
	f.handler = srv.Handler()
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string, header map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	var out map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

func TestHealth(t *testing.T) {
	f := newFixture(t, Config{}, nil, map[string]handler.HealthCheck{
		"postgres": func(context.Context) error { return nil },
	})
	rec, body := f.do(t, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])

	f = newFixture(t, Config{}, nil, map[string]handler.HealthCheck{
		"redis": func(context.Context) error { return errors.New("connection refused") },
	})
	rec, body = f.do(t, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, "connection refused", body["dependencies"].(map[string]any)["redis"])
}

func TestStatusAndQueue(t *testing.T) {
	f := newFixture(t, Config{}, nil, nil)
	rec, body := f.do(t, http.MethodGet, "/api/status", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "paper", body["mode"])
	assert.Equal(t, true, body["system"].(map[string]any)["running"])

	f.engine.queue.Enqueue(domain.Signal{ID: "s1", AccountID: "default", Token: "A"})
	f.engine.queue.Dequeue()
	rec, body = f.do(t, http.MethodGet, "/api/queue?limit=5", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["processed"], 1)
}

func TestAccountRoutes(t *testing.T) {
	f := newFixture(t, Config{}, nil, nil)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, f.trades.Insert(ctx, domain.Trade{
			ID: fmt.Sprintf("t%d", i), AccountID: "default", Token: "TOK",
			Side: domain.SideBuy, ExecutedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	tests := []struct {
		path string
		code int
		key  string
		n    int
	}{
		{"/api/accounts", 200, "accounts", 1},
		{"/api/accounts/default/positions", 200, "positions", 1},
		{"/api/accounts/default/sessions", 200, "sessions", 1},
		{"/api/accounts/default/trades?limit=2", 200, "trades", 2},
		{"/api/accounts/default/trades?since=2026-03-01T00:01:30Z", 200, "trades", 1},
		{"/api/accounts/default/snapshots", 200, "snapshots", 0},
		{"/api/accounts/default/history", 200, "sessions", 0},
		{"/api/accounts/nobody/positions", 404, "", 0},
		{"/api/accounts/nobody/portfolio", 404, "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec, body := f.do(t, http.MethodGet, tt.path, "", nil)
			require.Equal(t, tt.code, rec.Code, rec.Body.String())
			if tt.key != "" {
				assert.Len(t, body[tt.key], tt.n)
			}
		})
	}

	rec, body := f.do(t, http.MethodGet, "/api/accounts/default/portfolio", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 50.0, body["total_value"])
}

func TestGetSession_FallsBackToStore(t *testing.T) {
	f := newFixture(t, Config{}, nil, nil)
	require.NoError(t, f.sessions.Upsert(context.Background(), domain.Session{
		ID: "old-1", AccountID: "default", Token: "OLD", Status: domain.SessionFinished,
	}))

	rec, body := f.do(t, http.MethodGet, "/api/sessions/live-1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "active", body["status"])

	rec, body = f.do(t, http.MethodGet, "/api/sessions/old-1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "finished", body["status"])

	rec, _ = f.do(t, http.MethodGet, "/api/sessions/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSubmitSignal(t *testing.T) {
	f := newFixture(t, Config{}, nil, nil)

	rec, body := f.do(t, http.MethodPost, "/api/signals", `{"token":"TOK","kind":"bullish","priority":2}`, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "generated", body["id"])
	require.Len(t, f.engine.submitted, 1)
	assert.Equal(t, domain.SignalKindBullish, f.engine.submitted[0].Kind)

	rec, _ = f.do(t, http.MethodPost, "/api/signals", `{"kind":"BULLISH"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = f.do(t, http.MethodPost, "/api/signals", `{"token":"TOK","bogus":1}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	for _, tt := range []struct {
		err  error
		code int
	}{
		{domain.ErrDuplicateToken, http.StatusConflict},
		{domain.ErrAlreadyExists, http.StatusConflict},
		{domain.ErrUnknownAccount, http.StatusNotFound},
		{domain.ErrQueueRejected, http.StatusServiceUnavailable},
	} {
		f.engine.submitErr = fmt.Errorf("stub: %w", tt.err)
		rec, _ = f.do(t, http.MethodPost, "/api/signals", `{"token":"TOK"}`, nil)
		assert.Equal(t, tt.code, rec.Code, tt.err.Error())
	}
}

func TestAuth(t *testing.T) {
	f := newFixture(t, Config{APIKey: "secret"}, nil, nil)

	rec, _ := f.do(t, http.MethodGet, "/api/status", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = f.do(t, http.MethodGet, "/api/status", "", map[string]string{"Authorization": "Bearer secret"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = f.do(t, http.MethodGet, "/api/status", "", map[string]string{"X-API-Key": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = f.do(t, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = f.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "sessions_started_total")
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, Config{RateLimit: 5, RateLimitWindow: 10 * time.Second}, denyAll{}, nil)
	rec, _ := f.do(t, http.MethodGet, "/api/status", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "10", rec.Header().Get("Retry-After"))
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t, Config{CORSOrigins: []string{"https://dash.example"}}, nil, nil)
	rec, _ := f.do(t, http.MethodOptions, "/api/status", "", map[string]string{
		"Origin":                        "https://dash.example",
		"Access-Control-Request-Method": "POST",
	})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://dash.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, POST, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))

	rec, _ = f.do(t, http.MethodGet, "/api/status", "", map[string]string{"Origin": "https://evil.example"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
