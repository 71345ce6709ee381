package protocol

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace = "reqtrace"
	metricsSubsystem = "protocol"

	outcomeOK             = "ok"
	outcomeParseError     = "parse_error"
	outcomeMethodNotFound = "method_not_found"
	outcomeInvalidParams  = "invalid_params"
	outcomeHandlerError   = "handler_error"
	outcomePanic          = "panic"
)

// Metrics tracks dispatcher activity in a private registry.
type Metrics struct {
	registry          *prometheus.Registry
	ActiveConnections prometheus.Gauge
	ConnectionsTotal  prometheus.Counter
	RequestsTotal     *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
}

// NewMetrics creates and registers the dispatcher collectors.
func NewMetrics() *Metrics {
	r := prometheus.NewRegistry()
	m := &Metrics{
		registry: r,
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "active_connections",
			Help:      "Number of open client connections",
		}),
		ConnectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "connections_total",
			Help:      "Total accepted client connections",
		}),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "requests_total",
			Help:      "Total frames dispatched by method and outcome",
		}, []string{"method", "outcome"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "request_duration_seconds",
			Help:      "Handler latency by method",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, 1},
		}, []string{"method"}),
	}
	r.MustRegister(m.ActiveConnections, m.ConnectionsTotal, m.RequestsTotal, m.RequestDuration)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) observe(method, outcome string, started time.Time) {
	m.RequestsTotal.WithLabelValues(method, outcome).Inc()
	if outcome == outcomeOK || outcome == outcomeHandlerError {
		m.RequestDuration.WithLabelValues(method).Observe(time.Since(started).Seconds())
	}
}

// MetricsSnapshot is the counter view embedded in status replies.
type MetricsSnapshot struct {
	ActiveConnections int64            `json:"activeConnections" yaml:"activeConnections"`
	ConnectionsTotal  int64            `json:"connectionsTotal" yaml:"connectionsTotal"`
	RequestsTotal     int64            `json:"requestsTotal" yaml:"requestsTotal"`
	Failures          int64            `json:"failures" yaml:"failures"`
	ByMethod          map[string]int64 `json:"byMethod" yaml:"byMethod"`
}

// Snapshot gathers the registry into a MetricsSnapshot.
func (m *Metrics) Snapshot() (*MetricsSnapshot, error) {
	families, err := m.registry.Gather()
	if err != nil {
		return nil, err
	}

	snap := &MetricsSnapshot{ByMethod: map[string]int64{}}
	for _, family := range families {
		switch family.GetName() {
		case prometheus.BuildFQName(metricsNamespace, metricsSubsystem, "active_connections"):
			for _, metric := range family.GetMetric() {
				snap.ActiveConnections = int64(metric.GetGauge().GetValue())
			}
		case prometheus.BuildFQName(metricsNamespace, metricsSubsystem, "connections_total"):
			for _, metric := range family.GetMetric() {
				snap.ConnectionsTotal = int64(metric.GetCounter().GetValue())
			}
		case prometheus.BuildFQName(metricsNamespace, metricsSubsystem, "requests_total"):
			for _, metric := range family.GetMetric() {
				var method, outcome string
				for _, label := range metric.GetLabel() {
					switch label.GetName() {
					case "method":
						method = label.GetValue()
					case "outcome":
						outcome = label.GetValue()
					}
				}
				value := int64(metric.GetCounter().GetValue())
				snap.RequestsTotal += value
				snap.ByMethod[method] += value
				if outcome != outcomeOK {
					snap.Failures += value
				}
			}
		}
	}
	return snap, nil
}
