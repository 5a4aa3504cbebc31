package estimator

// historyCapacity bounds each estimator's training history; oldest samples
// are evicted first.
const historyCapacity = 1000

type sample struct {
	features []float64
	label    float64
}

// history is a bounded FIFO of (feature vector, label) training pairs. It is
// not safe for concurrent use; owning estimators serialize access.
type history struct {
	capacity int
	samples  []sample
}

func newHistory(capacity int) *history {
	if capacity <= 0 {
		capacity = historyCapacity
	}
	return &history{capacity: capacity}
}

func (h *history) append(features []float64, label float64) {
	h.samples = append(h.samples, sample{features: features, label: label})
	if len(h.samples) > h.capacity {
		h.samples = h.samples[len(h.samples)-h.capacity:]
	}
}

func (h *history) len() int {
	return len(h.samples)
}

// matrix unpacks the history into a design matrix and label vector for a
// full refit.
func (h *history) matrix() ([][]float64, []float64) {
	x := make([][]float64, len(h.samples))
	y := make([]float64, len(h.samples))
	for i, s := range h.samples {
		x[i] = s.features
		y[i] = s.label
	}
	return x, y
}
