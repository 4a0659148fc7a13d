package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
)

// Metrics captures escrow and fulfillment health signals.
type Metrics struct {
	holdsCreated     prometheus.Counter
	holdsReleased    *prometheus.CounterVec
	refundsProcessed prometheus.Counter
	sweepProcessed   prometheus.Counter
	sweepFailures    prometheus.Counter
	transitions      *prometheus.CounterVec
	partialFailures  *prometheus.CounterVec
}

// New registers the escrow instruments on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		holdsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "craftlane_escrow_holds_created_total",
			Help: "Escrow holds created.",
		}),
		holdsReleased: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "craftlane_escrow_holds_released_total",
			Help: "Escrow holds released, by trigger (manual or expiry).",
		}, []string{"trigger"}),
		refundsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "craftlane_escrow_refunds_processed_total",
			Help: "Refund requests processed to completion.",
		}),
		sweepProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "craftlane_escrow_sweep_processed_total",
			Help: "Holds processed by the expiry sweep.",
		}),
		sweepFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "craftlane_escrow_sweep_failures_total",
			Help: "Holds the expiry sweep failed to process.",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "craftlane_order_transitions_total",
			Help: "Successful production order transitions, by event type.",
		}, []string{"event_type"}),
		partialFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "craftlane_partial_failures_total",
			Help: "Dependent writes that failed after a primary write succeeded.",
		}, []string{"operation"}),
	}

	reg.MustRegister(
		m.holdsCreated,
		m.holdsReleased,
		m.refundsProcessed,
		m.sweepProcessed,
		m.sweepFailures,
		m.transitions,
		m.partialFailures,
	)
	return m
}

func (m *Metrics) RecordHoldCreated() {
	if m == nil {
		return
	}
	m.holdsCreated.Inc()
}

func (m *Metrics) RecordHoldReleased(trigger string) {
	if m == nil {
		return
	}
	m.holdsReleased.WithLabelValues(trigger).Inc()
}

func (m *Metrics) RecordRefundProcessed() {
	if m == nil {
		return
	}
	m.refundsProcessed.Inc()
}

func (m *Metrics) RecordSweep(processed, failed int) {
	if m == nil {
		return
	}
	m.sweepProcessed.Add(float64(processed))
	m.sweepFailures.Add(float64(failed))
}

func (m *Metrics) RecordTransition(eventType string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(eventType).Inc()
}

func (m *Metrics) RecordPartialFailure(operation string) {
	if m == nil {
		return
	}
	m.partialFailures.WithLabelValues(operation).Inc()
}

func provide() (prometheus.Registerer, *prometheus.Registry, *Metrics) {
	registry := prometheus.NewRegistry()
	return registry, registry, New(registry)
}

// Module provides the prometheus registry and escrow instruments.
var Module = fx.Module("observability.metrics",
	fx.Provide(provide),
)
