package estimator

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/tradequote/internal/book"
)

const (
	makerTakerMinSamples = 50
	// syntheticDraws is how many Bernoulli labels each call contributes to
	// the training history.
	syntheticDraws = 10
)

// MakerTakerSplit is the predicted fill split; the proportions always sum
// to 1.
type MakerTakerSplit struct {
	MakerProportion float64 `json:"maker_proportion"`
	TakerProportion float64 `json:"taker_proportion"`
}

// MakerTakerEstimator blends a liquidity heuristic with a logistic
// classifier retrained from synthetic execution labels on every call.
type MakerTakerEstimator struct {
	mu      sync.Mutex
	history *history
	model   *logisticModel
	rng     *rand.Rand
}

// NewMakerTakerEstimator creates an untrained estimator.
func NewMakerTakerEstimator() *MakerTakerEstimator {
	return &MakerTakerEstimator{
		history: newHistory(historyCapacity),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Predict estimates the maker/taker split for an order of quantity notional
// units given volatility (percentage).
func (e *MakerTakerEstimator) Predict(snap *book.Snapshot, quantity, volatility float64) MakerTakerSplit {
	features := makerTakerFeatures(snap, quantity, volatility)
	heuristic := heuristicMakerShare(snap, quantity, volatility)

	e.mu.Lock()
	defer e.mu.Unlock()

	maker := heuristic
	if e.model != nil && e.history.len() >= makerTakerMinSamples {
		maker = 0.7*e.model.predictProba(features) + 0.3*heuristic
	}

	// Synthetic Bernoulli labels stand in for real execution outcomes.
	for i := 0; i < syntheticDraws; i++ {
		label := 0.0
		if e.rng.Float64() < heuristic {
			label = 1.0
		}
		e.history.append(features, label)
	}

	if e.history.len() >= makerTakerMinSamples {
		x, y := e.history.matrix()
		model, err := fitLogistic(x, y)
		if err != nil {
			log.Error().Err(err).Msg("Maker/taker classifier refit failed")
		} else {
			e.model = model
			log.Debug().Int("samples", e.history.len()).Msg("Maker/taker classifier retrained")
		}
	}

	maker = clamp(maker, 0, 1)
	return MakerTakerSplit{
		MakerProportion: maker,
		TakerProportion: 1 - maker,
	}
}

// SampleCount reports the training history size.
func (e *MakerTakerEstimator) SampleCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.history.len()
}

// heuristicMakerShare estimates the maker share from volatility, relative
// order size and spread. Higher volatility pushes toward taker fills, wider
// spreads and small orders toward maker fills.
func heuristicMakerShare(snap *book.Snapshot, quantity, volatility float64) float64 {
	baseMaker := clamp(1-volatility/15, 0, 0.9)

	relativeSize := 1.0
	if depth := snap.AskDepthWithin(0.0005); depth > 0 {
		relativeSize = quantity / depth
	}
	sizeAdj := clamp(0.5*(1-relativeSize), 0, 0.5)

	spreadAdj := 0.0
	if mid, ok := snap.MidPrice(); ok {
		spreadBps, _ := snap.SpreadBps()
		spreadAdj = math.Min(0.2, spreadBps/mid*100)
	}

	return clamp(baseMaker+sizeAdj+spreadAdj, 0.05, 0.95)
}

func makerTakerFeatures(snap *book.Snapshot, quantity, volatility float64) []float64 {
	spreadBps, _ := snap.SpreadBps()
	depth5bps := snap.AskDepthWithin(0.0005)
	depth10bps := snap.AskDepthWithin(0.001)

	relativeSize := 1.0
	if depth5bps > 0 {
		relativeSize = quantity / depth5bps
	}

	return []float64{
		spreadBps,
		depth5bps,
		depth10bps,
		relativeSize,
		math.Min(volatility/10, 1),
	}
}
