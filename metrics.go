package txprop

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts physical transaction outcomes and logical begin decisions.
// A nil *Metrics records nothing.
type Metrics struct {
	PhysicalBegins      prometheus.Counter
	PhysicalCommits     prometheus.Counter
	PhysicalRollbacks   prometheus.Counter
	UnexpectedRollbacks prometheus.Counter
	Failures            *prometheus.CounterVec
	Decisions           *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg. A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		PhysicalBegins: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "txprop",
			Name:      "physical_begins_total",
			Help:      "Physical transactions started.",
		}),
		PhysicalCommits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "txprop",
			Name:      "physical_commits_total",
			Help:      "Physical transactions committed.",
		}),
		PhysicalRollbacks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "txprop",
			Name:      "physical_rollbacks_total",
			Help:      "Physical transactions rolled back.",
		}),
		UnexpectedRollbacks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "txprop",
			Name:      "unexpected_rollbacks_total",
			Help:      "Outermost commits downgraded to rollback by a rollback-only mark.",
		}),
		Failures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "txprop",
			Name:      "failures_total",
			Help:      "Resource calls that returned an error.",
		}, []string{"op"}),
		Decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "txprop",
			Name:      "begin_decisions_total",
			Help:      "Begin requests by propagation and chosen action.",
		}, []string{"propagation", "action"}),
	}
}

func (m *Metrics) begin() {
	if m != nil {
		m.PhysicalBegins.Inc()
	}
}

func (m *Metrics) commit() {
	if m != nil {
		m.PhysicalCommits.Inc()
	}
}

func (m *Metrics) rollback() {
	if m != nil {
		m.PhysicalRollbacks.Inc()
	}
}

func (m *Metrics) unexpectedRollback() {
	if m != nil {
		m.UnexpectedRollbacks.Inc()
	}
}

func (m *Metrics) failure(op string) {
	if m != nil {
		m.Failures.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) decision(p PropagationType, a Action) {
	if m != nil {
		m.Decisions.WithLabelValues(p.String(), a.String()).Inc()
	}
}
