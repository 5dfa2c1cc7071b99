package orcatrace

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the tracing core's self-observation counters. A nil
// *Metrics disables collection; every increment is nil-safe.
type Metrics struct {
	SpansStarted    prometheus.Counter
	SpansFinished   prometheus.Counter
	OuterReported   prometheus.Counter
	SpansDiscarded  prometheus.Counter
	SpansRetained   prometheus.Counter
	OrphansRetained prometheus.Counter
	Flushes         prometheus.Counter
}

// NewMetrics registers the tracing counters with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SpansStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "orcadb",
			Subsystem: "tracing",
			Name:      "spans_started_total",
			Help:      "Spans created by the client.",
		}),
		SpansFinished: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "orcadb",
			Subsystem: "tracing",
			Name:      "spans_finished_total",
			Help:      "Spans finished by the client.",
		}),
		OuterReported: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "orcadb",
			Subsystem: "tracing",
			Name:      "outer_spans_reported_total",
			Help:      "Outer spans handed to the active tracer.",
		}),
		SpansDiscarded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "orcadb",
			Subsystem: "tracing",
			Name:      "spans_discarded_total",
			Help:      "Reported spans below threshold and not orphaned.",
		}),
		SpansRetained: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "orcadb",
			Subsystem: "tracing",
			Name:      "spans_retained_total",
			Help:      "Reported spans retained in a service bucket.",
		}),
		OrphansRetained: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "orcadb",
			Subsystem: "tracing",
			Name:      "orphans_retained_total",
			Help:      "Reported spans retained in the orphan list.",
		}),
		Flushes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "orcadb",
			Subsystem: "tracing",
			Name:      "flushes_total",
			Help:      "Threshold tracer flush cycles that emitted a summary.",
		}),
	}
}

func (m *Metrics) incSpansStarted() {
	if m != nil {
		m.SpansStarted.Inc()
	}
}

func (m *Metrics) incSpansFinished() {
	if m != nil {
		m.SpansFinished.Inc()
	}
}

func (m *Metrics) incOuterReported() {
	if m != nil {
		m.OuterReported.Inc()
	}
}

func (m *Metrics) incSpansDiscarded() {
	if m != nil {
		m.SpansDiscarded.Inc()
	}
}

func (m *Metrics) incSpansRetained() {
	if m != nil {
		m.SpansRetained.Inc()
	}
}

func (m *Metrics) incOrphansRetained() {
	if m != nil {
		m.OrphansRetained.Inc()
	}
}

func (m *Metrics) incFlushes() {
	if m != nil {
		m.Flushes.Inc()
	}
}
