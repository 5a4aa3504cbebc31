package book

import "sync"

// statsCapacity bounds every rolling series. Oldest entries are evicted first.
const statsCapacity = 1000

// DepthPoint is one (askDepth, bidDepth) observation within 1% of mid.
type DepthPoint struct {
	AskDepth float64 `json:"ask_depth"`
	BidDepth float64 `json:"bid_depth"`
}

// RollingStats keeps bounded FIFO series of mid price, spread and depth,
// appended once per successful book update.
type RollingStats struct {
	mu sync.RWMutex

	capacity  int
	midPrices []float64
	spreadBps []float64
	depths    []DepthPoint
}

// NewRollingStats creates series bounded at capacity entries.
func NewRollingStats(capacity int) *RollingStats {
	if capacity <= 0 {
		capacity = statsCapacity
	}
	return &RollingStats{capacity: capacity}
}

// Append records one observation, evicting the oldest entry at capacity.
func (r *RollingStats) Append(mid, spreadBps, askDepth, bidDepth float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.midPrices = append(r.midPrices, mid)
	r.spreadBps = append(r.spreadBps, spreadBps)
	r.depths = append(r.depths, DepthPoint{AskDepth: askDepth, BidDepth: bidDepth})

	if len(r.midPrices) > r.capacity {
		r.midPrices = r.midPrices[len(r.midPrices)-r.capacity:]
		r.spreadBps = r.spreadBps[len(r.spreadBps)-r.capacity:]
		r.depths = r.depths[len(r.depths)-r.capacity:]
	}
}

// Len returns the number of buffered observations.
func (r *RollingStats) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.midPrices)
}

// MidPrices returns a copy of the mid price series, oldest first.
func (r *RollingStats) MidPrices() []float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]float64, len(r.midPrices))
	copy(out, r.midPrices)
	return out
}

// SpreadBps returns a copy of the spread series, oldest first.
func (r *RollingStats) SpreadBps() []float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]float64, len(r.spreadBps))
	copy(out, r.spreadBps)
	return out
}

// Depths returns a copy of the depth series, oldest first.
func (r *RollingStats) Depths() []DepthPoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]DepthPoint, len(r.depths))
	copy(out, r.depths)
	return out
}
