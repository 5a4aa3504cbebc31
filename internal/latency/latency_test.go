package latency

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackerStats(t *testing.T) {
	tr := NewTracker()
	for _, v := range []float64{1, 2, 3, 4, 5} {
		tr.Observe(SeriesProcessing, v)
	}

	s := tr.Stats(SeriesProcessing)
	assert.Equal(t, 5, s.Count)
	assert.InDelta(t, 3.0, s.Avg, 1e-9)
	assert.Equal(t, 1.0, s.Min)
	assert.Equal(t, 5.0, s.Max)
	// ceil(0.95*5) - 1 = 4
	assert.Equal(t, 5.0, s.P95)
}

func TestTrackerP95(t *testing.T) {
	tr := NewTracker()
	for i := 1; i <= 100; i++ {
		tr.Observe(SeriesRequest, float64(i))
	}

	s := tr.Stats(SeriesRequest)
	assert.Equal(t, 95.0, s.P95)
	assert.Equal(t, 100, s.Count)
}

func TestTrackerEmptySeries(t *testing.T) {
	tr := NewTracker()
	s := tr.Stats("never-observed")
	assert.Equal(t, Stats{}, s)
}

func TestTrackerWindowEviction(t *testing.T) {
	tr := NewTracker()
	for i := 0; i < windowSize+50; i++ {
		tr.Observe(SeriesFeedToBook, float64(i))
	}

	s := tr.Stats(SeriesFeedToBook)
	require.Equal(t, windowSize, s.Count)
	// The first 50 samples were evicted.
	assert.Equal(t, 50.0, s.Min)
	assert.Equal(t, float64(windowSize+49), s.Max)
}

func TestTrackerSnapshot(t *testing.T) {
	tr := NewTracker()
	tr.Observe(SeriesProcessing, 1)
	tr.Observe(SeriesRequest, 2)

	snap := tr.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, 1, snap[SeriesProcessing].Count)
	assert.Equal(t, 1, snap[SeriesRequest].Count)
}
