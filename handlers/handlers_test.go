package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/domwhitecode/polymarket-copy-trading-bot/api"
	"github.com/domwhitecode/polymarket-copy-trading-bot/models"
	"github.com/domwhitecode/polymarket-copy-trading-bot/storage"
	"github.com/domwhitecode/polymarket-copy-trading-bot/syncer"
)

type stubPositions struct {
	positions []models.Position
}

func (s *stubPositions) GetPositions(context.Context, string) ([]models.Position, error) {
	return s.positions, nil
}

func (s *stubPositions) InvalidatePositions(string) {}

type stubBooks struct{}

func (stubBooks) GetOrderBook(context.Context, string) (*models.OrderBook, error) {
	return &models.OrderBook{Bids: []models.OrderBookLevel{{Price: "0.50", Size: "1000"}}}, nil
}

type stubOrders struct{}

func (stubOrders) SellFOK(context.Context, string, float64, float64, bool) error { return nil }
func (stubOrders) UpdateBalanceAllowance(context.Context, string) error          { return nil }

type stubChain struct{}

func (stubChain) RedeemCondition(context.Context, string) (string, error) { return "0xtx", nil }

type stubFeed struct {
	onTrade  api.TradeHandler
	onStatus api.StatusHandler
}

func (f *stubFeed) SetHandlers(onTrade api.TradeHandler, onStatus api.StatusHandler) {
	f.onTrade = onTrade
	f.onStatus = onStatus
}
func (f *stubFeed) Watch([]string)                {}
func (f *stubFeed) Connect(context.Context) error { return nil }
func (f *stubFeed) Disconnect()                   {}
func (f *stubFeed) Close()                        {}

func newTestRouter(t *testing.T) (*gin.Engine, *storage.MockStore, *syncer.Gate) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := storage.NewMockStore()
	gate := syncer.NewGate()
	positions := &stubPositions{positions: []models.Position{
		{Asset: "tok", ConditionID: "A", Size: 100, Redeemable: false},
	}}

	liquidator := syncer.NewLiquidator(positions, stubBooks{}, stubOrders{}, gate, "0xwallet",
		syncer.LiquidatorConfig{MaxRetries: 3, DustThreshold: 0.01}, nil)
	redeemer := syncer.NewRedeemer(positions, stubChain{}, gate, "0xwallet",
		syncer.RedeemerConfig{ZeroDustThreshold: 0.0001}, nil)
	monitor := syncer.NewMonitor(&stubFeed{}, store, syncer.MonitorConfig{
		ReconnectBase:        time.Millisecond,
		MaxReconnectAttempts: 3,
		Freshness:            24 * time.Hour,
	}, nil)

	h := NewHandler(store, liquidator, redeemer, monitor, nil, gate, "0xwallet", nil)
	r := gin.New()
	h.RegisterRoutes(r)
	return r, store, gate
}

func do(r *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestGetActivity(t *testing.T) {
	r, store, _ := newTestRouter(t)

	_, err := store.SaveTradeIfNew(context.Background(), models.Trade{
		TransactionHash: "0x1",
		Wallet:          "0xabc",
		Timestamp:       100,
	})
	require.NoError(t, err)

	w := do(r, http.MethodGet, "/api/activity/0xabc", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Count  int            `json:"count"`
		Trades []models.Trade `json:"trades"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)
	assert.Equal(t, "0x1", resp.Trades[0].TransactionHash)
}

func TestGetActivityBadParams(t *testing.T) {
	r, _, _ := newTestRouter(t)

	w := do(r, http.MethodGet, "/api/activity/0xabc?since=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodGet, "/api/activity/0xabc?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSellPosition(t *testing.T) {
	r, _, _ := newTestRouter(t)

	w := do(r, http.MethodPost, "/api/positions/sell", gin.H{"asset": "tok", "percent": 50})
	require.Equal(t, http.StatusOK, w.Code)

	var result models.LiquidationResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.True(t, result.Success)
	assert.Equal(t, 50.0, result.Sold)
	assert.Equal(t, 25.0, result.Proceeds)
}

func TestSellPositionErrors(t *testing.T) {
	r, _, _ := newTestRouter(t)

	w := do(r, http.MethodPost, "/api/positions/sell", gin.H{"percent": 50})
	assert.Equal(t, http.StatusBadRequest, w.Code, "missing asset")

	w = do(r, http.MethodPost, "/api/positions/sell", gin.H{"asset": "tok", "percent": 150})
	assert.Equal(t, http.StatusBadRequest, w.Code, "percent out of range")

	w = do(r, http.MethodPost, "/api/positions/sell", gin.H{"asset": "unknown"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSellPositionWhilePaused(t *testing.T) {
	r, _, gate := newTestRouter(t)

	gate.Pause()
	w := do(r, http.MethodPost, "/api/positions/sell", gin.H{"asset": "tok"})
	assert.Equal(t, http.StatusConflict, w.Code)

	gate.Resume()
	w = do(r, http.MethodPost, "/api/positions/sell", gin.H{"asset": "tok"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestPauseResumeEndpoints(t *testing.T) {
	r, _, gate := newTestRouter(t)

	w := do(r, http.MethodPost, "/api/bot/pause", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, gate.Paused())

	w = do(r, http.MethodPost, "/api/bot/resume", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.False(t, gate.Paused())
}

func TestMonitorStatusEndpoint(t *testing.T) {
	r, _, _ := newTestRouter(t)

	w := do(r, http.MethodGet, "/api/monitor/status", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var status syncer.MonitorStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, "disconnected", status.State)
}

func TestResetFallbackWhenNotActive(t *testing.T) {
	r, _, _ := newTestRouter(t)

	w := do(r, http.MethodPost, "/api/monitor/reset-fallback", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestRedeemAllEndpoint(t *testing.T) {
	r, _, _ := newTestRouter(t)

	w := do(r, http.MethodPost, "/api/positions/redeem-all", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var summary models.RedeemAllSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summary))
	assert.True(t, summary.Success)
}
