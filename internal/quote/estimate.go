package quote

import (
	"fmt"
	"time"

	"github.com/sawpanic/tradequote/internal/latency"
)

// Request describes one hypothetical order to price.
type Request struct {
	Symbol     string  `json:"symbol"`
	OrderType  string  `json:"order_type"`
	Quantity   float64 `json:"quantity"`   // notional units
	Volatility float64 `json:"volatility"` // percentage
	FeeTier    string  `json:"fee_tier"`
}

// Result is the composed quote.
type Result struct {
	ExpectedSlippage     float64 `json:"expected_slippage"`
	ExpectedFees         float64 `json:"expected_fees"`
	ExpectedMarketImpact float64 `json:"expected_market_impact"`
	NetCost              float64 `json:"net_cost"`
	MakerProportion      float64 `json:"maker_proportion"`
	TakerProportion      float64 `json:"taker_proportion"`
	Latency              Timings `json:"latency"`
}

// Timings reports pipeline latency alongside the quote, in milliseconds.
type Timings struct {
	DataProcessing float64                  `json:"data_processing"`
	FeedToUpdate   float64                  `json:"feed_to_update"`
	EndToEnd       float64                  `json:"end_to_end"`
	CurrentRequest float64                  `json:"current_request"`
	Detailed       map[string]latency.Stats `json:"detailed_stats"`
}

// Estimate prices the request against the current book snapshot. The three
// estimators run sequentially on the same snapshot so they see a consistent
// view of the market.
func (o *Orchestrator) Estimate(req Request) (*Result, error) {
	start := time.Now()

	if req.Quantity <= 0 {
		o.countEstimateError("bad_quantity")
		return nil, fmt.Errorf("quantity must be positive, got %v", req.Quantity)
	}
	if req.Volatility < 0 {
		o.countEstimateError("bad_volatility")
		return nil, fmt.Errorf("volatility must be non-negative, got %v", req.Volatility)
	}

	snap, ok := o.engine.Snapshot(req.Symbol)
	if !ok || snap.UpdateCount == 0 {
		o.countEstimateError("book_unavailable")
		return nil, fmt.Errorf("%w: %s", ErrBookUnavailable, req.Symbol)
	}

	mtStart := time.Now()
	makerTaker := o.makerTaker.Predict(snap, req.Quantity, req.Volatility)
	o.observeComponent("maker_taker", mtStart)

	slipStart := time.Now()
	slippage := o.slippage.Predict(snap, req.Quantity, req.OrderType)
	o.observeComponent("slippage", slipStart)

	impactStart := time.Now()
	impact := o.impact.Estimate(snap, req.Quantity, req.Volatility)
	o.observeComponent("market_impact", impactStart)

	feeCost := o.fees.Fee(req.FeeTier, makerTaker.MakerProportion, makerTaker.TakerProportion, req.Quantity)

	requestMs := float64(time.Since(start).Microseconds()) / 1000
	o.latency.Observe(latency.SeriesRequest, requestMs)

	detailed := o.latency.Snapshot()
	res := &Result{
		ExpectedSlippage:     slippage,
		ExpectedFees:         feeCost,
		ExpectedMarketImpact: impact,
		NetCost:              slippage + feeCost + impact,
		MakerProportion:      makerTaker.MakerProportion,
		TakerProportion:      makerTaker.TakerProportion,
		Latency: Timings{
			DataProcessing: detailed[latency.SeriesProcessing].Avg,
			FeedToUpdate:   detailed[latency.SeriesFeedToBook].Avg,
			EndToEnd:       detailed[latency.SeriesRequest].Avg,
			CurrentRequest: requestMs,
			Detailed:       detailed,
		},
	}
	return res, nil
}

func (o *Orchestrator) observeComponent(component string, start time.Time) {
	if o.metrics != nil {
		ms := float64(time.Since(start).Microseconds()) / 1000
		o.metrics.EstimateDuration.WithLabelValues(component).Observe(ms)
	}
}

func (o *Orchestrator) countEstimateError(reason string) {
	if o.metrics != nil {
		o.metrics.EstimateErrors.WithLabelValues(reason).Inc()
	}
}
