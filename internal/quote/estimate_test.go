package quote

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/tradequote/internal/book"
	"github.com/sawpanic/tradequote/internal/feed"
	"github.com/sawpanic/tradequote/internal/fees"
	"github.com/sawpanic/tradequote/internal/latency"
	"github.com/sawpanic/tradequote/internal/metrics"
)

func newTestOrchestrator(t *testing.T, symbols ...string) *Orchestrator {
	t.Helper()
	if len(symbols) == 0 {
		symbols = []string{"BTC-USDT-SWAP"}
	}
	return New(Deps{
		Feed:    feed.NewClient(feed.Config{URL: "ws://127.0.0.1:1/ws"}),
		Engine:  book.NewEngine(100),
		Fees:    fees.DefaultSchedule(),
		Latency: latency.NewTracker(),
		Metrics: metrics.NewRegistry(),
		Symbols: symbols,
	})
}

func seedBook(o *Orchestrator, symbol string) {
	asks := make([]book.Delta, 20)
	bids := make([]book.Delta, 20)
	for i := range asks {
		asks[i] = book.Delta{Price: 50000 + float64(i)*0.5, Qty: 10}
		bids[i] = book.Delta{Price: 49999.5 - float64(i)*0.5, Qty: 10}
	}
	o.engine.Update(symbol, asks, bids, time.Now())
}

func TestEstimateValidation(t *testing.T) {
	o := newTestOrchestrator(t)
	seedBook(o, "BTC-USDT-SWAP")

	_, err := o.Estimate(Request{Symbol: "BTC-USDT-SWAP", Quantity: 0, Volatility: 2})
	assert.Error(t, err)

	_, err = o.Estimate(Request{Symbol: "BTC-USDT-SWAP", Quantity: -5, Volatility: 2})
	assert.Error(t, err)

	_, err = o.Estimate(Request{Symbol: "BTC-USDT-SWAP", Quantity: 100, Volatility: -1})
	assert.Error(t, err)

	assert.Equal(t, 2.0, metrics.CounterValue(o.metrics.EstimateErrors.WithLabelValues("bad_quantity")))
	assert.Equal(t, 1.0, metrics.CounterValue(o.metrics.EstimateErrors.WithLabelValues("bad_volatility")))
}

func TestEstimateBookUnavailable(t *testing.T) {
	o := newTestOrchestrator(t)

	_, err := o.Estimate(Request{Symbol: "BTC-USDT-SWAP", Quantity: 100, Volatility: 2})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBookUnavailable)

	_, err = o.Estimate(Request{Symbol: "NEVER-SEEN", Quantity: 100, Volatility: 2})
	assert.ErrorIs(t, err, ErrBookUnavailable)

	assert.Equal(t, 2.0, metrics.CounterValue(o.metrics.EstimateErrors.WithLabelValues("book_unavailable")))
}

func TestEstimateComposition(t *testing.T) {
	o := newTestOrchestrator(t)
	seedBook(o, "BTC-USDT-SWAP")

	res, err := o.Estimate(Request{
		Symbol:     "BTC-USDT-SWAP",
		OrderType:  "market",
		Quantity:   100,
		Volatility: 2.5,
		FeeTier:    "VIP 0",
	})
	require.NoError(t, err)

	assert.InDelta(t, 1.0, res.MakerProportion+res.TakerProportion, 1e-9)
	assert.GreaterOrEqual(t, res.ExpectedMarketImpact, 0.0)
	assert.LessOrEqual(t, res.ExpectedMarketImpact, 0.1)
	assert.GreaterOrEqual(t, res.ExpectedFees, 0.0)
	assert.InDelta(t, res.ExpectedSlippage+res.ExpectedFees+res.ExpectedMarketImpact, res.NetCost, 1e-9)

	// Fees match the schedule applied to the predicted split.
	wantFees := o.fees.Fee("VIP 0", res.MakerProportion, res.TakerProportion, 100)
	assert.InDelta(t, wantFees, res.ExpectedFees, 1e-9)

	assert.GreaterOrEqual(t, res.Latency.CurrentRequest, 0.0)
	assert.NotNil(t, res.Latency.Detailed)
}

func TestEstimateRecordsRequestLatency(t *testing.T) {
	o := newTestOrchestrator(t)
	seedBook(o, "BTC-USDT-SWAP")

	_, err := o.Estimate(Request{Symbol: "BTC-USDT-SWAP", Quantity: 50, Volatility: 1})
	require.NoError(t, err)

	stats := o.latency.Stats(latency.SeriesRequest)
	assert.Equal(t, 1, stats.Count)
}
