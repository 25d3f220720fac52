package clearing

import (
	"time"

	"github.com/ksred/klear-repo/internal/command"
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	CyclesStarted   prometheus.Counter
	CyclesCompleted prometheus.Counter
	CycleDuration   prometheus.Histogram
	Novations       prometheus.Counter
	NettingGroups   prometheus.Counter
	Allocations     *prometheus.CounterVec
	Requests        *prometheus.CounterVec
	CycleState      prometheus.Gauge
}

func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		CyclesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clearing_settlement_cycles_started_total",
			Help: "Settlement cycles started.",
		}),
		CyclesCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clearing_settlement_cycles_completed_total",
			Help: "Settlement cycles completed.",
		}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "clearing_settlement_cycle_duration_seconds",
			Help:    "Time from novation to completion of a settlement cycle.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		Novations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clearing_novations_total",
			Help: "Trade novations requested.",
		}),
		NettingGroups: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clearing_netting_groups_total",
			Help: "Netting groups formed.",
		}),
		Allocations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clearing_collateral_allocations_total",
				Help: "Collateral allocations requested by cusip.",
			},
			[]string{"cusip"},
		),
		Requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clearing_requests_total",
				Help: "Transition requests emitted by workflow.",
			},
			[]string{"workflow"},
		),
		CycleState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "clearing_cycle_state",
			Help: "Settlement cycle state: 0 idle, 1 novation pending, 2 netting formed.",
		}),
	}

	registry.MustRegister(
		m.CyclesStarted, m.CyclesCompleted, m.CycleDuration, m.Novations,
		m.NettingGroups, m.Allocations, m.Requests, m.CycleState,
	)
	return m
}

func (m *Metrics) ObserveCycleStarted() {
	if m == nil {
		return
	}
	m.CyclesStarted.Inc()
}

func (m *Metrics) ObserveCycleCompleted(d time.Duration) {
	if m == nil {
		return
	}
	m.CyclesCompleted.Inc()
	m.CycleDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveNovations(n int) {
	if m == nil {
		return
	}
	m.Novations.Add(float64(n))
}

func (m *Metrics) ObserveNettingGroups(n int) {
	if m == nil {
		return
	}
	m.NettingGroups.Add(float64(n))
}

func (m *Metrics) ObserveAllocation(cusip string) {
	if m == nil {
		return
	}
	m.Allocations.WithLabelValues(cusip).Inc()
}

func (m *Metrics) ObserveRequest(wf command.Workflow) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(string(wf)).Inc()
}

func (m *Metrics) SetState(s State) {
	if m == nil {
		return
	}
	m.CycleState.Set(float64(s))
}
