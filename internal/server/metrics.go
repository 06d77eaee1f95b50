package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the server-side collectors. Each handler owns its registry so
// several servers can live in one process.
type Metrics struct {
	registry *prometheus.Registry

	// approvalsResolved counts resolve calls.
	// Labels: action (approve, reject), applied (true, false)
	approvalsResolved *prometheus.CounterVec

	// modeChanges counts mode writes that changed the stored value.
	// Labels: mode
	modeChanges *prometheus.CounterVec

	// webhookDeliveries counts webhook POST attempts.
	// Labels: result (ok, error)
	webhookDeliveries *prometheus.CounterVec
}

func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		approvalsResolved: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pilotdeck",
			Name:      "approvals_resolved_total",
			Help:      "Approval resolve calls by action and whether the call applied the change",
		}, []string{"action", "applied"}),
		modeChanges: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pilotdeck",
			Name:      "mode_changes_total",
			Help:      "Automation mode changes by target mode",
		}, []string{"mode"}),
		webhookDeliveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pilotdeck",
			Name:      "webhook_deliveries_total",
			Help:      "Webhook delivery attempts by result",
		}, []string{"result"}),
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) resolved(action string, applied bool) {
	a := "false"
	if applied {
		a = "true"
	}
	m.approvalsResolved.WithLabelValues(action, a).Inc()
}

func (m *Metrics) delivery(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.webhookDeliveries.WithLabelValues(result).Inc()
}
