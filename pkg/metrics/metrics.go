package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "hyperflash"

// Metrics groups the collectors of the execution pipeline. A nil *Metrics
// is valid and records nothing, which keeps tests free of registries.
type Metrics struct {
	JobsInFlight   prometheus.Gauge
	JobsTotal      *prometheus.CounterVec
	Transitions    *prometheus.CounterVec
	QuotesTotal    *prometheus.CounterVec
	QuoteLatency   *prometheus.HistogramVec
	QueueDepth     prometheus.Gauge
	EventsDropped  *prometheus.CounterVec
	GatewayClients prometheus.Gauge
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		JobsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_in_flight",
			Help:      "Execution jobs currently held by a worker.",
		}),
		JobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Execution job attempts by result.",
		}, []string{"result"}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_transitions_total",
			Help:      "Order lifecycle transitions by target state.",
		}, []string{"state"}),
		QuotesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quotes_total",
			Help:      "Quote requests by source and result.",
		}, []string{"source", "result"}),
		QuoteLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "quote_latency_seconds",
			Help:      "Quote request latency by source.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"source"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Jobs waiting in the work queue, including delayed retries.",
		}),
		EventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Status events not delivered, by stage.",
		}, []string{"stage"}),
		GatewayClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "gateway_clients",
			Help:      "Live status stream connections.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.JobsInFlight, m.JobsTotal, m.Transitions, m.QuotesTotal,
			m.QuoteLatency, m.QueueDepth, m.EventsDropped, m.GatewayClients,
		)
	}
	return m
}

func (m *Metrics) JobStarted() {
	if m == nil {
		return
	}
	m.JobsInFlight.Inc()
}

func (m *Metrics) JobFinished(result string) {
	if m == nil {
		return
	}
	m.JobsInFlight.Dec()
	m.JobsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) Transition(state string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(state).Inc()
}

func (m *Metrics) Quote(source string, took time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.QuotesTotal.WithLabelValues(source, result).Inc()
	m.QuoteLatency.WithLabelValues(source).Observe(took.Seconds())
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

func (m *Metrics) EventDropped(stage string) {
	if m == nil {
		return
	}
	m.EventsDropped.WithLabelValues(stage).Inc()
}

func (m *Metrics) ClientConnected() {
	if m == nil {
		return
	}
	m.GatewayClients.Inc()
}

func (m *Metrics) ClientDisconnected() {
	if m == nil {
		return
	}
	m.GatewayClients.Dec()
}
