// Package latency keeps bounded rolling samples of the pipeline's hot-path
// timings for the performance endpoints.
package latency

import (
	"math"
	"sort"
	"sync"
)

// Series names tracked by the quote pipeline.
const (
	SeriesProcessing = "processing"        // delta apply + stats recompute
	SeriesFeedToBook = "feed_to_update"    // feed receive to book publish
	SeriesRequest    = "request_to_response"
)

// windowSize bounds each series; oldest samples are evicted first.
const windowSize = 100

// Stats summarizes one series in milliseconds.
type Stats struct {
	Avg   float64 `json:"avg"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	P95   float64 `json:"p95"`
	Count int     `json:"count"`
}

// Tracker records samples per named series.
type Tracker struct {
	mu     sync.Mutex
	window int
	series map[string][]float64
}

// NewTracker creates a tracker with the default window.
func NewTracker() *Tracker {
	return &Tracker{
		window: windowSize,
		series: make(map[string][]float64),
	}
}

// Observe appends one sample (milliseconds) to a series.
func (t *Tracker) Observe(series string, ms float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	samples := append(t.series[series], ms)
	if len(samples) > t.window {
		samples = samples[len(samples)-t.window:]
	}
	t.series[series] = samples
}

// Stats summarizes one series; zero-valued when no samples exist.
func (t *Tracker) Stats(series string) Stats {
	t.mu.Lock()
	samples := make([]float64, len(t.series[series]))
	copy(samples, t.series[series])
	t.mu.Unlock()

	if len(samples) == 0 {
		return Stats{}
	}

	s := Stats{Min: math.Inf(1), Max: math.Inf(-1), Count: len(samples)}
	total := 0.0
	for _, v := range samples {
		total += v
		s.Min = math.Min(s.Min, v)
		s.Max = math.Max(s.Max, v)
	}
	s.Avg = total / float64(len(samples))

	sort.Float64s(samples)
	idx := int(math.Ceil(0.95*float64(len(samples)))) - 1
	if idx < 0 {
		idx = 0
	}
	s.P95 = samples[idx]
	return s
}

// Snapshot summarizes every tracked series.
func (t *Tracker) Snapshot() map[string]Stats {
	t.mu.Lock()
	names := make([]string, 0, len(t.series))
	for name := range t.series {
		names = append(names, name)
	}
	t.mu.Unlock()

	out := make(map[string]Stats, len(names))
	for _, name := range names {
		out[name] = t.Stats(name)
	}
	return out
}
