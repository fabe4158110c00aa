package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's Prometheus instruments. A nil *Metrics is
// safe to use everywhere; all record methods are no-ops on nil.
type Metrics struct {
	workflowExecutions *prometheus.CounterVec
	workflowDuration   prometheus.Histogram
	nodeExecutions     *prometheus.CounterVec
	nodeDuration       *prometheus.HistogramVec
	activeExecutions   prometheus.Gauge
}

// New registers the engine instruments on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		workflowExecutions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "diagflow_workflow_executions_total",
			Help: "Workflow executions by terminal status.",
		}, []string{"status"}),
		workflowDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "diagflow_workflow_duration_seconds",
			Help:    "End-to-end workflow execution duration.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
		}),
		nodeExecutions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "diagflow_node_executions_total",
			Help: "Node executions by kind and terminal status.",
		}, []string{"kind", "status"}),
		nodeDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "diagflow_node_duration_seconds",
			Help:    "Node execution duration by kind.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"kind"}),
		activeExecutions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "diagflow_active_executions",
			Help: "Workflow executions currently in flight.",
		}),
	}
}

// Default registers on the global Prometheus registry.
func Default() *Metrics {
	return New(prometheus.DefaultRegisterer)
}

// WorkflowFinished records one completed workflow run.
func (m *Metrics) WorkflowFinished(status string, seconds float64) {
	if m == nil {
		return
	}
	m.workflowExecutions.WithLabelValues(status).Inc()
	m.workflowDuration.Observe(seconds)
}

// NodeFinished records one node execution.
func (m *Metrics) NodeFinished(kind, status string, seconds float64) {
	if m == nil {
		return
	}
	m.nodeExecutions.WithLabelValues(kind, status).Inc()
	m.nodeDuration.WithLabelValues(kind).Observe(seconds)
}

// ExecutionStarted increments the in-flight gauge.
func (m *Metrics) ExecutionStarted() {
	if m == nil {
		return
	}
	m.activeExecutions.Inc()
}

// ExecutionEnded decrements the in-flight gauge.
func (m *Metrics) ExecutionEnded() {
	if m == nil {
		return
	}
	m.activeExecutions.Dec()
}
