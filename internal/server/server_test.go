package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/tradequote/internal/book"
	"github.com/sawpanic/tradequote/internal/feed"
	"github.com/sawpanic/tradequote/internal/fees"
	"github.com/sawpanic/tradequote/internal/latency"
	"github.com/sawpanic/tradequote/internal/metrics"
	"github.com/sawpanic/tradequote/internal/quote"
)

func newTestServer(t *testing.T) (*Server, *book.Engine) {
	t.Helper()

	engine := book.NewEngine(100)
	reg := metrics.NewRegistry()
	orch := quote.New(quote.Deps{
		Feed:    feed.NewClient(feed.Config{URL: "ws://127.0.0.1:1/ws"}),
		Engine:  engine,
		Fees:    fees.DefaultSchedule(),
		Latency: latency.NewTracker(),
		Metrics: reg,
		Symbols: []string{"BTC-USDT-SWAP"},
	})

	srv := New(DefaultConfig(), NewHandlers(orch, reg.Handler()))
	return srv, engine
}

func seedEngine(engine *book.Engine, symbol string) {
	asks := make([]book.Delta, 10)
	bids := make([]book.Delta, 10)
	for i := range asks {
		asks[i] = book.Delta{Price: 50000 + float64(i)*0.5, Qty: 10}
		bids[i] = book.Delta{Price: 49999.5 - float64(i)*0.5, Qty: 10}
	}
	engine.Update(symbol, asks, bids, time.Now())
}

func doRequest(t *testing.T, srv *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, "GET", "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, false, body["feed_connected"])
	assert.Equal(t, "BTC-USDT-SWAP", body["active_symbol"])
}

func TestSymbolsAndFeeTiers(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, "GET", "/api/symbols")
	require.Equal(t, http.StatusOK, rec.Code)
	var symbols []string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &symbols))
	assert.Equal(t, []string{"BTC-USDT-SWAP"}, symbols)

	rec = doRequest(t, srv, "GET", "/api/fee_tiers")
	require.Equal(t, http.StatusOK, rec.Code)
	var tiers []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tiers))
	require.Len(t, tiers, 6)
	assert.Equal(t, "VIP 0", tiers[0]["tier"])
}

func TestEstimateEndpoint(t *testing.T) {
	srv, engine := newTestServer(t)
	seedEngine(engine, "BTC-USDT-SWAP")

	rec := doRequest(t, srv, "GET", "/api/estimate?quantity=100&volatility=2.5&fee_tier=VIP+0")
	require.Equal(t, http.StatusOK, rec.Code)

	var res quote.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.InDelta(t, 1.0, res.MakerProportion+res.TakerProportion, 1e-9)
	assert.InDelta(t, res.ExpectedSlippage+res.ExpectedFees+res.ExpectedMarketImpact, res.NetCost, 1e-9)
}

func TestEstimateEndpointValidation(t *testing.T) {
	srv, engine := newTestServer(t)
	seedEngine(engine, "BTC-USDT-SWAP")

	tests := []struct {
		name string
		path string
	}{
		{name: "missing quantity", path: "/api/estimate?volatility=2"},
		{name: "bad quantity", path: "/api/estimate?quantity=abc&volatility=2"},
		{name: "missing volatility", path: "/api/estimate?quantity=100"},
		{name: "negative quantity", path: "/api/estimate?quantity=-1&volatility=2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, srv, "GET", tt.path)
			assert.Equal(t, http.StatusBadRequest, rec.Code)

			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestEstimateEndpointBookUnavailable(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, "GET", "/api/estimate?quantity=100&volatility=2.5")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBookEndpoint(t *testing.T) {
	srv, engine := newTestServer(t)

	rec := doRequest(t, srv, "GET", "/api/book/BTC-USDT-SWAP")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	seedEngine(engine, "BTC-USDT-SWAP")

	rec = doRequest(t, srv, "GET", "/api/book/BTC-USDT-SWAP")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Summary   book.Summary `json:"summary"`
		Liquidity book.Profile `json:"liquidity"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "BTC-USDT-SWAP", body.Summary.Symbol)
	assert.Equal(t, 10, body.Summary.AskLevels)
	assert.Len(t, body.Liquidity.Asks, 10)
}

func TestSwitchSymbolEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, "POST", "/api/switch_symbol/ETH-USDT-SWAP")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, "ETH-USDT-SWAP", body["symbol"])

	rec = doRequest(t, srv, "GET", "/health")
	var health map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "ETH-USDT-SWAP", health["active_symbol"])

	// GET on a POST-only route is rejected by the router.
	rec = doRequest(t, srv, "GET", "/api/switch_symbol/BTC-USDT-SWAP")
	assert.NotEqual(t, http.StatusOK, rec.Code)
}

func TestPerformanceEndpoint(t *testing.T) {
	srv, engine := newTestServer(t)
	seedEngine(engine, "BTC-USDT-SWAP")

	doRequest(t, srv, "GET", "/api/estimate?quantity=100&volatility=2.5")

	rec := doRequest(t, srv, "GET", "/api/performance")
	require.Equal(t, http.StatusOK, rec.Code)

	var perf map[string]latency.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &perf))
	assert.Equal(t, 1, perf[latency.SeriesRequest].Count)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, "GET", "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, "GET", "/nope")
	require.Equal(t, http.StatusNotFound, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "not found", body["error"])
}
