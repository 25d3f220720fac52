package bot

import (
	"github.com/ksred/klear-repo/internal/command"
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	Cycles          *prometheus.CounterVec
	BatchesAccepted *prometheus.CounterVec
	BatchesRejected *prometheus.CounterVec
}

func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		Cycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "repo_bot_cycles_total",
				Help: "Snapshots processed by a party's reactor.",
			},
			[]string{"party"},
		),
		BatchesAccepted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "repo_bot_batches_accepted_total",
				Help: "Batches accepted by the ledger.",
			},
			[]string{"party", "workflow"},
		),
		BatchesRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "repo_bot_batches_rejected_total",
				Help: "Batches rejected by the ledger.",
			},
			[]string{"party", "workflow"},
		),
	}

	registry.MustRegister(m.Cycles, m.BatchesAccepted, m.BatchesRejected)
	return m
}

func (m *Metrics) ObserveCycle(party string) {
	if m == nil {
		return
	}
	m.Cycles.WithLabelValues(party).Inc()
}

func (m *Metrics) ObserveSubmitted(party string, wf command.Workflow) {
	if m == nil {
		return
	}
	m.BatchesAccepted.WithLabelValues(party, string(wf)).Inc()
}

func (m *Metrics) ObserveRejected(party string, wf command.Workflow) {
	if m == nil {
		return
	}
	m.BatchesRejected.WithLabelValues(party, string(wf)).Inc()
}
