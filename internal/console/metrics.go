package console

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks store refreshes.
type Metrics struct {
	// refreshes counts store refresh attempts.
	// Labels: store, result (ok, error)
	refreshes *prometheus.CounterVec

	// refreshDuration records the latency of one store refresh.
	// Labels: store
	refreshDuration *prometheus.HistogramVec
}

// NewMetrics registers the console collectors with reg. A nil reg gets a
// private registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		refreshes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pilotdeck",
			Subsystem: "console",
			Name:      "refreshes_total",
			Help:      "Store refresh attempts by store and result",
		}, []string{"store", "result"}),
		refreshDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pilotdeck",
			Subsystem: "console",
			Name:      "refresh_duration_seconds",
			Help:      "Latency of a single store refresh",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"store"}),
	}
}

func (m *Metrics) observe(store string, seconds float64, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.refreshes.WithLabelValues(store, result).Inc()
	m.refreshDuration.WithLabelValues(store).Observe(seconds)
}
