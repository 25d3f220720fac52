package participant

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	TradesInjected prometheus.Counter
}

func NewMetrics(registry *prometheus.Registry, party string) *Metrics {
	m := &Metrics{
		TradesInjected: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "participant_trades_injected_total",
			Help:        "Trade registrations requested from trade files.",
			ConstLabels: prometheus.Labels{"party": party},
		}),
	}
	registry.MustRegister(m.TradesInjected)
	return m
}

func (m *Metrics) ObserveInjected() {
	if m == nil {
		return
	}
	m.TradesInjected.Inc()
}
