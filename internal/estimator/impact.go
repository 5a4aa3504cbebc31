package estimator

import (
	"math"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/tradequote/internal/book"
)

// ImpactConfig parameterizes the Almgren-Chriss execution model.
type ImpactConfig struct {
	TimeSteps    int     // discrete execution slices
	TimeStepSize float64 // slice duration
	RiskAversion float64
}

// DefaultImpactConfig matches the model's calibrated production settings.
func DefaultImpactConfig() ImpactConfig {
	return ImpactConfig{
		TimeSteps:    10,
		TimeStepSize: 0.5,
		RiskAversion: 0.01,
	}
}

// ImpactEstimator computes expected market impact of optimally executing an
// order via the Almgren-Chriss dynamic program. Impact coefficients are
// recalibrated from the book snapshot on every call, so the estimator itself
// is stateless and safe for concurrent use.
type ImpactEstimator struct {
	cfg ImpactConfig
}

// NewImpactEstimator creates an estimator with the given configuration.
func NewImpactEstimator(cfg ImpactConfig) *ImpactEstimator {
	if cfg.TimeSteps <= 1 {
		cfg = DefaultImpactConfig()
	}
	return &ImpactEstimator{cfg: cfg}
}

// Estimate returns expected total impact as a fraction of notional, in
// [0, 0.1]. Quantity is notional units, volatility a percentage.
func (e *ImpactEstimator) Estimate(snap *book.Snapshot, quantity, volatility float64) float64 {
	eta, gamma, relativeSize, ok := calibrateImpact(snap, quantity)
	if !ok {
		return impactFallback(relativeSize)
	}

	// Rescale into a bounded working range so the DP state space stays
	// tractable; the result is rescaled against true quantity below.
	normalized := math.Min(1000, math.Max(10, quantity/10))

	trajectory, ok := optimalTrajectory(normalized, volatility, eta, gamma, e.cfg)
	if !ok {
		log.Warn().
			Float64("quantity", quantity).
			Msg("Impact DP failed, using square-root fallback")
		return impactFallback(relativeSize)
	}

	totalImpact := 0.0
	for _, n := range trajectory {
		if n > 0 {
			totalImpact += float64(n) * eta * float64(n)
		}
	}
	remaining := 0
	for _, n := range trajectory {
		remaining += n
	}
	for _, n := range trajectory {
		totalImpact += float64(remaining) * gamma * float64(n)
		remaining -= n
	}

	impact := (totalImpact / normalized) * (quantity / 10000)
	if math.IsNaN(impact) || math.IsInf(impact, 0) {
		return impactFallback(relativeSize)
	}
	return math.Max(0, math.Min(0.1, impact))
}

// calibrateImpact derives the temporary (eta) and permanent (gamma) impact
// coefficients from current book state. ok == false when the book cannot
// support calibration.
func calibrateImpact(snap *book.Snapshot, quantity float64) (eta, gamma, relativeSize float64, ok bool) {
	relativeSize = 1.0
	if snap == nil {
		return 0, 0, relativeSize, false
	}

	mid, haveMid := snap.MidPrice()
	if !haveMid {
		return 0, 0, relativeSize, false
	}

	// Liquidity within 0.5% of mid on the ask side.
	depth := snap.AskDepthWithin(0.005)
	if depth > 0 {
		relativeSize = quantity / depth
	}
	eta = clamp(0.05*(1+2*relativeSize), 0.01, 0.1)

	spreadBps, _ := snap.SpreadBps()
	spreadRatio := spreadBps / mid
	gamma = clamp(0.05*(1+10*spreadRatio), 0.01, 0.1)

	log.Debug().
		Float64("eta", eta).
		Float64("gamma", gamma).
		Float64("relative_size", relativeSize).
		Msg("Calibrated impact coefficients")
	return eta, gamma, relativeSize, true
}

// optimalTrajectory runs the backward-induction DP over (time slice,
// remaining inventory) and forward-replays the minimizing trade sizes.
// Ties break toward the smallest trade size.
func optimalTrajectory(quantity, volatility, eta, gamma float64, cfg ImpactConfig) ([]int, bool) {
	steps := cfg.TimeSteps
	dt := cfg.TimeStepSize
	maxInv := int(quantity)
	if maxInv <= 0 || steps < 2 || dt <= 0 {
		return nil, false
	}

	volDecimal := volatility / 100
	riskTerm := 0.5 * (cfg.RiskAversion * volDecimal) * (cfg.RiskAversion * volDecimal) * dt

	tempImpact := func(rate float64) float64 { return eta * rate }
	permImpact := func(rate float64) float64 { return gamma * rate }

	value := make([][]float64, steps)
	bestMove := make([][]int, steps)
	for t := range value {
		value[t] = make([]float64, maxInv+1)
		bestMove[t] = make([]int, maxInv+1)
	}

	// Terminal slice: liquidate whatever remains.
	for s := 0; s <= maxInv; s++ {
		value[steps-1][s] = float64(s) * tempImpact(float64(s)/dt)
		bestMove[steps-1][s] = s
	}

	for t := steps - 2; t >= 0; t-- {
		for s := 0; s <= maxInv; s++ {
			bestCost := math.Inf(1)
			bestN := 0
			for n := 0; n <= s; n++ {
				rate := float64(n) / dt
				held := float64(s - n)
				cost := float64(n)*tempImpact(rate) +
					held*permImpact(rate) +
					riskTerm*held*held +
					value[t+1][s-n]
				if cost < bestCost {
					bestCost = cost
					bestN = n
				}
			}
			value[t][s] = bestCost
			bestMove[t][s] = bestN
		}
	}

	trajectory := make([]int, 0, steps-1)
	inventory := maxInv
	for t := 0; t < steps-1; t++ {
		move := bestMove[t][inventory]
		trajectory = append(trajectory, move)
		inventory -= move
	}

	for _, v := range value[0] {
		if math.IsNaN(v) {
			return nil, false
		}
	}
	return trajectory, true
}

// impactFallback is the square-root-of-size estimate used when the DP cannot
// run against the current book.
func impactFallback(relativeSize float64) float64 {
	return math.Min(0.1, 0.02*math.Sqrt(relativeSize))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
