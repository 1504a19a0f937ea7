// Package metrics provides Prometheus metrics for the udp relay.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/postalsys/udprelay/internal/sysinfo"
)

const (
	namespace = "udprelay"
)

// Metrics contains all Prometheus metrics for the relay engine.
type Metrics struct {
	// Flow table metrics
	FlowsActive     prometheus.Gauge
	FlowsCreated    prometheus.Counter
	FlowsExpired    *prometheus.CounterVec // reason: idle, pinned_port_replace, send_failure, shutdown
	FlowSetupErrors prometheus.Counter

	// Data transfer metrics
	BytesForwarded   *prometheus.CounterVec // direction: inbound, outbound
	DatagramsTotal   *prometheus.CounterVec // direction: inbound, outbound
	DatagramsDropped *prometheus.CounterVec // direction: inbound, outbound; reason: would_block, send_error

	// Idle sweep metrics
	SweepRuns   prometheus.Counter
	SweepReaped prometheus.Counter
}

var (
	defaultMetrics *Metrics
	metricsOnce    sync.Once
)

// Default returns the default metrics instance, registered against
// prometheus.DefaultRegisterer.
func Default() *Metrics {
	metricsOnce.Do(func() {
		defaultMetrics = NewMetrics()
	})
	return defaultMetrics
}

// NewMetrics creates a new Metrics instance registered against
// prometheus.DefaultRegisterer.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates a new Metrics instance with a custom
// registry, so tests and multiple relay instances in one process don't
// collide on the default registerer.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	m := &Metrics{
		FlowsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "flows_active",
			Help:      "Number of currently active client flows",
		}),
		FlowsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flows_created_total",
			Help:      "Total number of flows created",
		}),
		FlowsExpired: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flows_expired_total",
			Help:      "Total number of flows removed, by reason",
		}, []string{"reason"}),
		FlowSetupErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flow_setup_errors_total",
			Help:      "Total number of failures to create a new flow's upstream socket",
		}),
		BytesForwarded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_forwarded_total",
			Help:      "Total bytes forwarded, by direction",
		}, []string{"direction"}),
		DatagramsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "datagrams_forwarded_total",
			Help:      "Total datagrams forwarded, by direction",
		}, []string{"direction"}),
		DatagramsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "datagrams_dropped_total",
			Help:      "Total datagrams dropped, by direction and reason",
		}, []string{"direction", "reason"}),
		SweepRuns: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "idle_sweep_runs_total",
			Help:      "Total number of idle sweep passes run",
		}),
		SweepReaped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "idle_sweep_reaped_total",
			Help:      "Total number of flows reaped by the idle sweep",
		}),
	}

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "uptime_seconds",
		Help:      "Seconds since the relay process started",
	}, func() float64 { return float64(sysinfo.UptimeSeconds()) })

	return m
}

// RecordFlowCreated records a new flow being inserted into the table.
func (m *Metrics) RecordFlowCreated() {
	m.FlowsActive.Inc()
	m.FlowsCreated.Inc()
}

// RecordFlowExpired records a flow being removed, with the reason.
func (m *Metrics) RecordFlowExpired(reason string) {
	m.FlowsActive.Dec()
	m.FlowsExpired.WithLabelValues(reason).Inc()
}

// RecordFlowSetupError records a failure to create a new flow's upstream socket.
func (m *Metrics) RecordFlowSetupError() {
	m.FlowSetupErrors.Inc()
}

// RecordForwarded records a successfully forwarded datagram.
func (m *Metrics) RecordForwarded(direction string, bytes int) {
	m.BytesForwarded.WithLabelValues(direction).Add(float64(bytes))
	m.DatagramsTotal.WithLabelValues(direction).Inc()
}

// RecordDropped records a datagram dropped instead of forwarded.
func (m *Metrics) RecordDropped(direction, reason string) {
	m.DatagramsDropped.WithLabelValues(direction, reason).Inc()
}

// RecordSweep records one idle-sweep pass that reaped the given number of flows.
func (m *Metrics) RecordSweep(reaped int) {
	m.SweepRuns.Inc()
	m.SweepReaped.Add(float64(reaped))
}
