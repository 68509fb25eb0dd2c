package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for the engine.
//
// A nil *Metrics is valid and records nothing, so an engine built without
// WithMetrics pays no cost.
type Metrics struct {
	rulesActive          prometheus.Gauge
	registrationsTotal   *prometheus.CounterVec
	disposalsTotal       *prometheus.CounterVec
	satisfactionsTotal   prometheus.Counter
	conditionsSatisfied  *prometheus.CounterVec
	unknownConditions    *prometheus.CounterVec
	invariantViolations  prometheus.Counter
	staleDeliveriesTotal prometheus.Counter
	listenerPanicsTotal  prometheus.Counter
}

// NewMetrics creates and registers engine metrics with reg.
// Returns nil if reg is nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		rulesActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "satisfy",
			Subsystem: "engine",
			Name:      "rules_active",
			Help:      "Number of rules currently registered",
		}),

		registrationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "satisfy",
			Subsystem: "engine",
			Name:      "registrations_total",
			Help:      "Rule registrations by outcome",
		}, []string{"result"}),

		disposalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "satisfy",
			Subsystem: "engine",
			Name:      "disposals_total",
			Help:      "Rule handler trees torn down, by reason",
		}, []string{"reason"}),

		// Not labelled by rule: ids are host-chosen and unbounded.
		satisfactionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "satisfy",
			Subsystem: "engine",
			Name:      "satisfactions_total",
			Help:      "Rule satisfactions delivered to listeners",
		}),

		conditionsSatisfied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "satisfy",
			Subsystem: "engine",
			Name:      "conditions_satisfied_total",
			Help:      "Individual conditions satisfied, by type",
		}, []string{"type"}),

		unknownConditions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "satisfy",
			Subsystem: "engine",
			Name:      "unknown_condition_types_total",
			Help:      "Conditions whose type has no registered handler",
		}, []string{"type"}),

		invariantViolations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "satisfy",
			Subsystem: "engine",
			Name:      "invariant_violations_total",
			Help:      "Condition handlers that signalled twice or after disposal",
		}),

		staleDeliveriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "satisfy",
			Subsystem: "engine",
			Name:      "stale_deliveries_total",
			Help:      "Satisfactions dropped because their rule was replaced before delivery",
		}),

		listenerPanicsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "satisfy",
			Subsystem: "engine",
			Name:      "listener_panics_total",
			Help:      "Satisfaction listeners that panicked",
		}),
	}

	reg.MustRegister(
		m.rulesActive,
		m.registrationsTotal,
		m.disposalsTotal,
		m.satisfactionsTotal,
		m.conditionsSatisfied,
		m.unknownConditions,
		m.invariantViolations,
		m.staleDeliveriesTotal,
		m.listenerPanicsTotal,
	)

	return m
}

func (m *Metrics) setRulesActive(n int) {
	if m == nil {
		return
	}
	m.rulesActive.Set(float64(n))
}

func (m *Metrics) recordRegistration(result string) {
	if m == nil {
		return
	}
	m.registrationsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) recordDisposal(reason string) {
	if m == nil {
		return
	}
	m.disposalsTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) recordSatisfaction() {
	if m == nil {
		return
	}
	m.satisfactionsTotal.Inc()
}

func (m *Metrics) recordConditionSatisfied(condType string) {
	if m == nil {
		return
	}
	m.conditionsSatisfied.WithLabelValues(condType).Inc()
}

func (m *Metrics) recordUnknownCondition(condType string) {
	if m == nil {
		return
	}
	m.unknownConditions.WithLabelValues(condType).Inc()
}

func (m *Metrics) recordInvariantViolation() {
	if m == nil {
		return
	}
	m.invariantViolations.Inc()
}

func (m *Metrics) recordStaleDelivery() {
	if m == nil {
		return
	}
	m.staleDeliveriesTotal.Inc()
}

func (m *Metrics) recordListenerPanic() {
	if m == nil {
		return
	}
	m.listenerPanicsTotal.Inc()
}
