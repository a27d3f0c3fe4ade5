// Package metrics holds the Prometheus collectors of the engine.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tilepmony"

// Metrics groups the collectors on a private registry. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	pollCycles       *prometheus.CounterVec
	pollErrors       *prometheus.CounterVec
	eventsDetected   *prometheus.CounterVec
	settlements      *prometheus.CounterVec
	stuckSettlements prometheus.Gauge
	executions       *prometheus.CounterVec
	nodeDuration     *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		pollCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "poll_cycles_total",
			Help:      "Bridge watcher poll cycles by result",
		}, []string{"result"}),
		pollErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "poll_errors_total",
			Help:      "Failed chain or token scans",
		}, []string{"chain_id"}),
		eventsDetected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "settlements_detected_total",
			Help:      "New pending settlements stored",
		}, []string{"chain_id"}),
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "executions_total",
			Help:      "Settlement execution attempts by outcome",
		}, []string{"outcome"}),
		stuckSettlements: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "stuck",
			Help:      "Settlements executing longer than the reconcile threshold",
		}),
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "executions_total",
			Help:      "Workflow runs by terminal status",
		}, []string{"status"}),
		nodeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "node_duration_seconds",
			Help:      "Time spent in node handlers",
			Buckets:   prometheus.DefBuckets,
		}, []string{"node_type"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.pollCycles,
		m.pollErrors,
		m.eventsDetected,
		m.settlements,
		m.stuckSettlements,
		m.executions,
		m.nodeDuration,
	)

	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) PollCycle(result string) {
	if m == nil {
		return
	}

	m.pollCycles.WithLabelValues(result).Inc()
}

func (m *Metrics) PollError(chainID uint64) {
	if m == nil {
		return
	}

	m.pollErrors.WithLabelValues(strconv.FormatUint(chainID, 10)).Inc()
}

func (m *Metrics) SettlementsDetected(chainID uint64, count int) {
	if m == nil || count == 0 {
		return
	}

	m.eventsDetected.WithLabelValues(strconv.FormatUint(chainID, 10)).Add(float64(count))
}

// SettlementOutcome counts one execution attempt: completed, failed or rejected.
func (m *Metrics) SettlementOutcome(outcome string) {
	if m == nil {
		return
	}

	m.settlements.WithLabelValues(outcome).Inc()
}

func (m *Metrics) StuckSettlements(count int) {
	if m == nil {
		return
	}

	m.stuckSettlements.Set(float64(count))
}

func (m *Metrics) ExecutionFinished(status string) {
	if m == nil {
		return
	}

	m.executions.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveNode(nodeType string, seconds float64) {
	if m == nil {
		return
	}

	m.nodeDuration.WithLabelValues(nodeType).Observe(seconds)
}
