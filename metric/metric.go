// Package metric provides Prometheus metrics for the raspi-eye control
// plane and the HTTP server that exposes them.
package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "raspieye"

// Metrics contains the control-plane metrics. All record helpers are
// nil-receiver safe so components can run without a metrics registry.
type Metrics struct {
	StateTransitions  *prometheus.CounterVec
	CommandsTotal     *prometheus.CounterVec
	ClientsConnected  prometheus.Gauge
	TickDuration      prometheus.Histogram
	EventsEmitted     *prometheus.CounterVec
	BroadcastFailures prometheus.Counter
}

// New creates the metrics set.
func New() *Metrics {
	return &Metrics{
		StateTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "state",
				Name:      "transitions_total",
				Help:      "Total number of state transitions",
			},
			[]string{"from", "to"},
		),

		CommandsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "command",
				Name:      "processed_total",
				Help:      "Total number of protocol commands processed",
			},
			[]string{"command", "status"},
		),

		ClientsConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "command",
				Name:      "clients_connected",
				Help:      "Number of currently connected command clients",
			},
		),

		TickDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "loop",
				Name:      "tick_duration_seconds",
				Help:      "Application tick duration in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 12),
			},
		),

		EventsEmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "events",
				Name:      "emitted_total",
				Help:      "Total number of events emitted on the bus",
			},
			[]string{"kind"},
		),

		BroadcastFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "command",
				Name:      "broadcast_failures_total",
				Help:      "Total number of failed broadcast deliveries",
			},
		),
	}
}

// Register registers all metrics with the given registerer.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	cs := []prometheus.Collector{
		m.StateTransitions,
		m.CommandsTotal,
		m.ClientsConnected,
		m.TickDuration,
		m.EventsEmitted,
		m.BroadcastFailures,
	}
	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// RecordTransition counts a completed state transition.
func (m *Metrics) RecordTransition(from, to string) {
	if m == nil {
		return
	}
	if from == "" {
		from = "none"
	}
	m.StateTransitions.WithLabelValues(from, to).Inc()
}

// RecordCommand counts a processed command with its outcome status.
func (m *Metrics) RecordCommand(command, status string) {
	if m == nil {
		return
	}
	m.CommandsTotal.WithLabelValues(command, status).Inc()
}

// SetClients updates the connected-clients gauge.
func (m *Metrics) SetClients(n int) {
	if m == nil {
		return
	}
	m.ClientsConnected.Set(float64(n))
}

// ObserveTick records one application tick duration.
func (m *Metrics) ObserveTick(d time.Duration) {
	if m == nil {
		return
	}
	m.TickDuration.Observe(d.Seconds())
}

// RecordEvent counts an event emitted on the bus.
func (m *Metrics) RecordEvent(kind string) {
	if m == nil {
		return
	}
	m.EventsEmitted.WithLabelValues(kind).Inc()
}

// RecordBroadcastFailure counts a dropped broadcast delivery.
func (m *Metrics) RecordBroadcastFailure() {
	if m == nil {
		return
	}
	m.BroadcastFailures.Inc()
}

// Registry wraps a dedicated Prometheus registry so tests and multiple
// instances never collide with the global default registry.
type Registry struct {
	reg *prometheus.Registry
}

// NewRegistry creates a registry pre-populated with process and Go runtime
// collectors.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return &Registry{reg: reg}
}

// PrometheusRegistry exposes the underlying registry for the HTTP handler.
func (r *Registry) PrometheusRegistry() *prometheus.Registry {
	return r.reg
}

// Register registers a collector set with this registry.
func (r *Registry) Register(m *Metrics) error {
	return m.Register(r.reg)
}
