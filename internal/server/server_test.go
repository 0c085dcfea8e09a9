package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/profitfloor/internal/domain"
	"github.com/alanyoungcy/profitfloor/internal/marketdata"
	"github.com/alanyoungcy/profitfloor/internal/server/handler"
	"github.com/alanyoungcy/profitfloor/internal/service"
)

type fakeTrades struct {
	mu      sync.Mutex
	buys    []service.BuyRequest
	buyErr  error
	sellErr error
	open    []domain.Position
}

func (f *fakeTrades) Buy(_ context.Context, req service.BuyRequest) (service.BuyResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buys = append(f.buys, req)
	if f.buyErr != nil {
		return service.BuyResult{}, f.buyErr
	}
	return service.BuyResult{PositionID: "pos-1", TxRef: "0xbuy"}, nil
}

func (f *fakeTrades) Sell(_ context.Context, id string, _ int) (service.SellResult, error) {
	if f.sellErr != nil {
		return service.SellResult{}, f.sellErr
	}
	return service.SellResult{TxRef: "0xsell", PnL: decimal.NewFromInt(8), Position: domain.Position{ID: id}}, nil
}

func (f *fakeTrades) SellByToken(ctx context.Context, _ string, _ int64, bps int) (service.SellResult, error) {
	return f.Sell(ctx, "by-token", bps)
}

func (f *fakeTrades) GetPosition(_ context.Context, id string) (domain.Position, error) {
	if id != "pos-1" {
		return domain.Position{}, fmt.Errorf("get %s: %w", id, domain.ErrPositionNotFound)
	}
	return domain.Position{ID: id, Status: domain.PositionStatusOpen}, nil
}

func (f *fakeTrades) GetOpenPositions(_ context.Context, chainID *int64) ([]domain.Position, error) {
	var out []domain.Position
	for _, p := range f.open {
		if chainID == nil || p.ChainID == *chainID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeTrades) ListHistory(context.Context, domain.ListOpts) ([]domain.Position, error) {
	return nil, nil
}

func (f *fakeTrades) AuditTrail(ctx context.Context, id string, _ domain.ListOpts) ([]domain.AuditEntry, error) {
	if _, err := f.GetPosition(ctx, id); err != nil {
		return nil, err
	}
	return []domain.AuditEntry{{ID: 1, Event: domain.EventPositionOpened, Detail: map[string]any{"position_id": id}}}, nil
}

type fakeRefresher struct{ err error }

func (f fakeRefresher) RefreshAll(context.Context, *int64) (service.CycleReport, error) {
	return service.CycleReport{}, f.err
}

func (f fakeRefresher) RefreshOne(_ context.Context, id string) (service.Outcome, error) {
	return service.Outcome{PositionID: id, Status: service.OutcomeUpdated}, f.err
}

type fakeWallets struct{}

func (fakeWallets) WalletBalance(_ context.Context, chainID int64) (service.WalletBalance, error) {
	if chainID != 56 {
		return service.WalletBalance{}, domain.ErrUnsupportedChain
	}
	return service.WalletBalance{ChainID: 56, NativeSymbol: "BNB"}, nil
}

type fakePrices struct{}

func (fakePrices) LastObserved(context.Context, int64, string) (marketdata.PriceQuote, error) {
	return marketdata.PriceQuote{}, domain.ErrNotFound
}

type denyAfter struct {
	mu    sync.Mutex
	limit int
	seen  map[string]int
}

func (d *denyAfter) Allow(_ context.Context, key string, _ int, _ time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen[key]++
	return d.seen[key] <= d.limit, nil
}

func (d *denyAfter) Wait(context.Context, string, int, time.Duration) error { return nil }

func newTestHandler(t *testing.T, cfg Config, trades *fakeTrades, refresher fakeRefresher, limiter domain.RateLimiter) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewHandler(cfg, Handlers{
		Health:    handler.NewHealthHandler("trade", time.Now()),
		Positions: handler.NewPositionHandler(trades, logger),
		Refresh:   handler.NewRefreshHandler(refresher, logger),
		Wallet:    handler.NewWalletHandler(fakeWallets{}, logger),
		Prices:    handler.NewPriceHandler(fakePrices{}, logger),
	}, limiter, logger)
}

func do(h http.Handler, method, path, body string, header ...string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func errorBody(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["error"]
}

func TestAuth(t *testing.T) {
	h := newTestHandler(t, Config{APIKey: "secret"}, &fakeTrades{}, fakeRefresher{}, nil)

	assert.Equal(t, http.StatusOK, do(h, "GET", "/api/health", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(h, "GET", "/api/positions", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(h, "GET", "/api/positions", "", "X-API-Key", "wrong").Code)
	assert.Equal(t, http.StatusOK, do(h, "GET", "/api/positions", "", "X-API-Key", "secret").Code)
	assert.Equal(t, http.StatusOK, do(h, "GET", "/api/positions", "", "Authorization", "Bearer secret").Code)
}

func TestBuy(t *testing.T) {
	trades := &fakeTrades{}
	h := newTestHandler(t, Config{}, trades, fakeRefresher{}, nil)

	rec := do(h, "POST", "/api/positions", `{"token_address":"0xabc","chain_id":56,"amount_usd":"25.5","slippage_bps":300}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var res service.BuyResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "pos-1", res.PositionID)

	require.Len(t, trades.buys, 1)
	assert.True(t, trades.buys[0].AmountUSD.Equal(decimal.RequireFromString("25.5")))
	assert.Equal(t, 300, trades.buys[0].SlippageBps)
	assert.Equal(t, int64(56), trades.buys[0].ChainID)
}

func TestBuy_BadRequests(t *testing.T) {
	trades := &fakeTrades{}
	h := newTestHandler(t, Config{}, trades, fakeRefresher{}, nil)

	for name, body := range map[string]string{
		"malformed":     `{"token_address":`,
		"unknown field": `{"token_address":"0xabc","amount":"1"}`,
		"no token":      `{"amount_usd":"5"}`,
		"negative":      `{"token_address":"0xabc","amount_usd":"-5"}`,
	} {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, http.StatusBadRequest, do(h, "POST", "/api/positions", body).Code)
		})
	}
	assert.Empty(t, trades.buys)
}

func TestServiceErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("buy: %w", domain.ErrAlreadyOpen), http.StatusConflict},
		{fmt.Errorf("buy: %w", domain.ErrNoPrice), http.StatusUnprocessableEntity},
		{fmt.Errorf("buy: %w", domain.ErrNoRoute), http.StatusUnprocessableEntity},
		{fmt.Errorf("buy: %w", domain.ErrInsufficientFunds), http.StatusUnprocessableEntity},
		{fmt.Errorf("buy: %w", domain.ErrSwapReverted), http.StatusBadGateway},
		{fmt.Errorf("buy: %w", domain.ErrTimeout), http.StatusGatewayTimeout},
		{fmt.Errorf("buy: %w", domain.ErrUnsupportedChain), http.StatusBadRequest},
		{fmt.Errorf("buy: %w", domain.ErrStoreWriteFailed), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			h := newTestHandler(t, Config{}, &fakeTrades{buyErr: tt.err}, fakeRefresher{}, nil)
			rec := do(h, "POST", "/api/positions", `{"token_address":"0xabc"}`)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestInternalErrorsAreNotLeaked(t *testing.T) {
	h := newTestHandler(t, Config{}, &fakeTrades{buyErr: fmt.Errorf("pgx: password authentication failed: %w", domain.ErrStoreWriteFailed)}, fakeRefresher{}, nil)
	rec := do(h, "POST", "/api/positions", `{"token_address":"0xabc"}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "buy failed", errorBody(t, rec))
}

func TestPositionRoutes(t *testing.T) {
	trades := &fakeTrades{open: []domain.Position{{ID: "a", ChainID: 56}, {ID: "b", ChainID: 999}}}
	h := newTestHandler(t, Config{}, trades, fakeRefresher{}, nil)

	rec := do(h, "GET", "/api/positions?chain_id=999", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Positions []domain.Position `json:"positions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Positions, 1)
	assert.Equal(t, "b", list.Positions[0].ID)

	assert.Equal(t, http.StatusBadRequest, do(h, "GET", "/api/positions?chain_id=bsc", "").Code)

	rec = do(h, "GET", "/api/positions/history", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"positions":[]}`, rec.Body.String())

	assert.Equal(t, http.StatusOK, do(h, "GET", "/api/positions/pos-1", "").Code)
	assert.Equal(t, http.StatusNotFound, do(h, "GET", "/api/positions/missing", "").Code)

	rec = do(h, "GET", "/api/positions/pos-1/audit", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"event":"position_opened"`)
	assert.Equal(t, http.StatusNotFound, do(h, "GET", "/api/positions/missing/audit", "").Code)

	assert.Equal(t, http.StatusOK, do(h, "POST", "/api/positions/pos-1/sell", "").Code)
	assert.Equal(t, http.StatusOK, do(h, "POST", "/api/positions/pos-1/sell", `{"slippage_bps":100}`).Code)
	assert.Equal(t, http.StatusOK, do(h, "POST", "/api/positions/sell-by-token", `{"token_address":"0xabc","chain_id":56}`).Code)
}

func TestSell_AlreadyClosed(t *testing.T) {
	h := newTestHandler(t, Config{}, &fakeTrades{sellErr: domain.ErrAlreadyClosed}, fakeRefresher{}, nil)
	assert.Equal(t, http.StatusConflict, do(h, "POST", "/api/positions/pos-1/sell", "").Code)
}

func TestRefreshRoutes(t *testing.T) {
	h := newTestHandler(t, Config{}, &fakeTrades{}, fakeRefresher{}, nil)
	rec := do(h, "POST", "/api/refresh", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"outcomes":[]`)
	assert.Equal(t, http.StatusOK, do(h, "POST", "/api/positions/pos-1/refresh", "").Code)

	busy := newTestHandler(t, Config{}, &fakeTrades{}, fakeRefresher{err: domain.ErrRefreshInProgress}, nil)
	assert.Equal(t, http.StatusConflict, do(busy, "POST", "/api/refresh", "").Code)
}

func TestWalletAndPrices(t *testing.T) {
	h := newTestHandler(t, Config{}, &fakeTrades{}, fakeRefresher{}, nil)
	assert.Equal(t, http.StatusOK, do(h, "GET", "/api/wallet/56", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(h, "GET", "/api/wallet/1", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(h, "GET", "/api/wallet/bsc", "").Code)
	assert.Equal(t, http.StatusNotFound, do(h, "GET", "/api/prices/56/0xabc", "").Code)
}

func TestRateLimit(t *testing.T) {
	limiter := &denyAfter{limit: 2, seen: map[string]int{}}
	h := newTestHandler(t, Config{RateLimit: 2, RateWindow: time.Minute}, &fakeTrades{}, fakeRefresher{}, limiter)

	for range 2 {
		assert.Equal(t, http.StatusOK, do(h, "GET", "/api/health", "", "X-Forwarded-For", "203.0.113.7").Code)
	}
	rec := do(h, "GET", "/api/health", "", "X-Forwarded-For", "203.0.113.7")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, do(h, "GET", "/api/health", "", "X-Forwarded-For", "198.51.100.1").Code)
}

func TestCORSAndRequestID(t *testing.T) {
	h := newTestHandler(t, Config{CORSOrigins: []string{"https://dash.example"}, APIKey: "secret"}, &fakeTrades{}, fakeRefresher{}, nil)

	rec := do(h, "OPTIONS", "/api/positions", "", "Origin", "https://dash.example")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://dash.example", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = do(h, "GET", "/api/health", "", "Origin", "https://evil.example", "X-Request-ID", "req-42")
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))

	rec = do(h, "GET", "/api/health", "")
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestHealth_DegradedWhenCheckFails(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(Config{}, Handlers{
		Health: handler.NewHealthHandler("monitor", time.Now(),
			handler.HealthCheck{Name: "postgres", Check: func(context.Context) error { return nil }},
			handler.HealthCheck{Name: "redis", Check: func(context.Context) error { return fmt.Errorf("dial tcp: refused") }},
		),
		Positions: handler.NewPositionHandler(&fakeTrades{}, logger),
		Wallet:    handler.NewWalletHandler(fakeWallets{}, logger),
	}, nil, logger)

	rec := do(h, "GET", "/api/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body struct {
		Status string            `json:"status"`
		Mode   string            `json:"mode"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, "monitor", body.Mode)
	assert.Equal(t, "ok", body.Checks["postgres"])
	assert.Contains(t, body.Checks["redis"], "refused")
}
