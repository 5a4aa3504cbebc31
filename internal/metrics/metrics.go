// Package metrics exposes the Prometheus instrumentation for the quote
// pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

// Registry holds every metric the service emits, backed by its own
// Prometheus registry so tests can create isolated instances.
type Registry struct {
	registry *prometheus.Registry

	// Feed transport metrics, incremented via the feed client callback.
	FeedEvents *prometheus.CounterVec

	// Book pipeline metrics.
	BookUpdates       *prometheus.CounterVec
	FeedToBookLatency prometheus.Histogram

	// Estimation metrics.
	EstimateDuration *prometheus.HistogramVec
	EstimateErrors   *prometheus.CounterVec
}

// NewRegistry creates and registers all service metrics.
func NewRegistry() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),

		FeedEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradequote_feed_events_total",
				Help: "Feed client events (connects, reconnects, drops, malformed frames) by kind",
			},
			[]string{"kind"},
		),

		BookUpdates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradequote_book_updates_total",
				Help: "Order book updates applied per symbol",
			},
			[]string{"symbol"},
		),

		FeedToBookLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tradequote_feed_to_book_latency_ms",
				Help:    "Latency from feed frame receive to book publish in milliseconds",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25, 50, 100, 250},
			},
		),

		EstimateDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tradequote_estimate_duration_ms",
				Help:    "Duration of each estimator component in milliseconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 25, 50, 100, 250, 500, 1000},
			},
			[]string{"component"},
		),

		EstimateErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradequote_estimate_errors_total",
				Help: "Estimate requests rejected by reason",
			},
			[]string{"reason"},
		),
	}

	r.registry.MustRegister(
		r.FeedEvents,
		r.BookUpdates,
		r.FeedToBookLatency,
		r.EstimateDuration,
		r.EstimateErrors,
	)
	return r
}

// Handler serves the registry in Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// FeedCallback adapts the registry to the feed client's metrics hook. The
// feed metric name maps onto the "kind" label.
func (r *Registry) FeedCallback() func(metric string, value float64, tags map[string]string) {
	return func(metric string, value float64, tags map[string]string) {
		r.FeedEvents.WithLabelValues(metric).Add(value)
	}
}

// CounterValue reads a counter's current value. Test helper.
func CounterValue(c prometheus.Counter) float64 {
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}

// HistogramCount reads a histogram's sample count. Test helper.
func HistogramCount(h prometheus.Histogram) uint64 {
	var m dto.Metric
	if err := h.Write(&m); err != nil {
		return 0
	}
	return m.GetHistogram().GetSampleCount()
}
