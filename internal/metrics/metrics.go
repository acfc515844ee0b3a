// Package metrics exposes Prometheus instrumentation for the sync engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's counters and gauges. A nil *Metrics is valid
// and records nothing, so library consumers can opt out.
type Metrics struct {
	EnqueueTotal   *prometheus.CounterVec
	DeliveryTotal  *prometheus.CounterVec
	DrainTotal     prometheus.Counter
	QueueDepth     *prometheus.GaugeVec
	ReconcileTotal prometheus.Counter
}

// New creates and registers the engine metrics on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EnqueueTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulsefeed_sync_enqueue_total",
				Help: "Total number of queue items enqueued",
			},
			[]string{"action"},
		),
		DeliveryTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulsefeed_sync_delivery_total",
				Help: "Total delivery attempts by action and outcome",
			},
			[]string{"action", "outcome"},
		),
		DrainTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pulsefeed_sync_drain_total",
				Help: "Total number of drain passes",
			},
		),
		QueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pulsefeed_sync_queue_depth",
				Help: "Number of queue items per status",
			},
			[]string{"status"},
		),
		ReconcileTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pulsefeed_sync_reconcile_total",
				Help: "Total number of local-to-canonical id reconciliations",
			},
		),
	}
	reg.MustRegister(m.EnqueueTotal, m.DeliveryTotal, m.DrainTotal, m.QueueDepth, m.ReconcileTotal)
	return m
}

// IncEnqueue records one enqueued item.
func (m *Metrics) IncEnqueue(action string) {
	if m == nil {
		return
	}
	m.EnqueueTotal.WithLabelValues(action).Inc()
}

// IncDelivery records one delivery attempt outcome ("success", "failure",
// "skipped").
func (m *Metrics) IncDelivery(action, outcome string) {
	if m == nil {
		return
	}
	m.DeliveryTotal.WithLabelValues(action, outcome).Inc()
}

// IncDrain records one drain pass.
func (m *Metrics) IncDrain() {
	if m == nil {
		return
	}
	m.DrainTotal.Inc()
}

// IncReconcile records one id reconciliation.
func (m *Metrics) IncReconcile() {
	if m == nil {
		return
	}
	m.ReconcileTotal.Inc()
}

// SetQueueDepth records per-status queue depths.
func (m *Metrics) SetQueueDepth(counts map[string]int) {
	if m == nil {
		return
	}
	for status, n := range counts {
		if status == "total" {
			continue
		}
		m.QueueDepth.WithLabelValues(status).Set(float64(n))
	}
}
