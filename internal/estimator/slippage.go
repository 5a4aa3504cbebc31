package estimator

import (
	"math"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/tradequote/internal/book"
)

// slippageMinSamples is the history size required before the regression
// contributes to the estimate.
const slippageMinSamples = 30

// SlippageEstimator blends a deterministic book-walk baseline with an online
// linear regression retrained from the full training history on every call.
// Prediction and training are coupled: each call appends its own baseline as
// a training observation.
type SlippageEstimator struct {
	mu      sync.Mutex
	history *history
	model   *linearModel
}

// NewSlippageEstimator creates an untrained estimator.
func NewSlippageEstimator() *SlippageEstimator {
	return &SlippageEstimator{history: newHistory(historyCapacity)}
}

// Predict estimates signed slippage (quote currency per unit, positive =
// adverse) for a market buy of quantity against the snapshot. Unsupported
// order types degrade to market semantics with a logged warning.
func (e *SlippageEstimator) Predict(snap *book.Snapshot, quantity float64, orderType string) float64 {
	if orderType != "market" {
		log.Warn().Str("order_type", orderType).Msg("Unsupported order type, using market order semantics")
	}

	baseline := walkSlippage(snap, quantity, book.SideAsk)
	features := slippageFeatures(snap, quantity)

	e.mu.Lock()
	defer e.mu.Unlock()

	predicted := baseline
	if e.model != nil && e.history.len() >= slippageMinSamples {
		predicted = 0.7*e.model.predict(features) + 0.3*baseline
	}

	e.history.append(features, baseline)
	if e.history.len() >= slippageMinSamples {
		x, y := e.history.matrix()
		model, err := fitLinear(x, y)
		if err != nil {
			log.Error().Err(err).Msg("Slippage regression refit failed")
		} else {
			e.model = model
			log.Debug().Int("samples", e.history.len()).Msg("Slippage regression retrained")
		}
	}

	return predicted
}

// SampleCount reports the training history size.
func (e *SlippageEstimator) SampleCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.history.len()
}

// walkSlippage walks the matching side of the book for quantity and returns
// direction*(avgFillPrice - mid). Quantity the book cannot supply is priced
// at the deepest available level, or at mid when the side is empty.
func walkSlippage(snap *book.Snapshot, quantity float64, side book.Side) float64 {
	if quantity <= 0 {
		return 0
	}
	mid, ok := snap.MidPrice()
	if !ok {
		// Without a two-sided book there is no reference price; the whole
		// order is treated as filling at mid.
		return 0
	}

	levels := snap.Asks
	direction := 1.0
	if side == book.SideBid {
		levels = snap.Bids
		direction = -1.0
	}

	remaining := quantity
	executedValue := 0.0
	for _, lvl := range levels {
		if lvl.Qty >= remaining {
			executedValue += remaining * lvl.Price
			remaining = 0
			break
		}
		executedValue += lvl.Qty * lvl.Price
		remaining -= lvl.Qty
	}

	if remaining > 0 {
		if len(levels) > 0 {
			executedValue += remaining * levels[len(levels)-1].Price
		} else {
			executedValue += remaining * mid
		}
	}

	avgPrice := executedValue / quantity
	return direction * (avgPrice - mid)
}

func slippageFeatures(snap *book.Snapshot, quantity float64) []float64 {
	spreadBps, _ := snap.SpreadBps()
	bookDepth := math.Min(float64(len(snap.Asks)), float64(len(snap.Bids)))

	relativeSize := 1.0
	if top5 := snap.AskLiquidity(5); top5 > 0 {
		relativeSize = quantity / top5
	}

	return []float64{
		spreadBps,
		bookDepth,
		snap.Imbalance(),
		relativeSize,
		quantity,
	}
}
