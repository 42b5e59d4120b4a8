// Package metrics exposes the service's Prometheus collectors. Every method is
// safe on a nil *Metrics so components can run without instrumentation.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "agenthub"

// Metrics groups all collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests    *prometheus.CounterVec
	httpLatency     *prometheus.HistogramVec
	agentRuns       *prometheus.CounterVec
	agentIterations *prometheus.HistogramVec
	toolCalls       *prometheus.CounterVec
	dispatches      *prometheus.CounterVec
	agentLoad       *prometheus.GaugeVec
	planCache       *prometheus.CounterVec
	tasks           *prometheus.CounterVec
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "HTTP requests by handler, method and status code.",
		}, []string{"handler", "method", "code"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"handler", "method"}),
		agentRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "agent", Name: "runs_total",
			Help: "Agent runs by outcome.",
		}, []string{"agent", "outcome"}),
		agentIterations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "agent", Name: "iterations",
			Help:    "Loop iterations used per run.",
			Buckets: prometheus.LinearBuckets(1, 1, 10),
		}, []string{"agent"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "tool", Name: "calls_total",
			Help: "Tool invocations by outcome.",
		}, []string{"tool", "outcome"}),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "orchestrator", Name: "dispatches_total",
			Help: "Tasks dispatched to agents.",
		}, []string{"agent", "strategy"}),
		agentLoad: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "orchestrator", Name: "agent_load",
			Help: "In-flight tasks per agent.",
		}, []string{"agent"}),
		planCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "planner", Name: "cache_lookups_total",
			Help: "Plan cache lookups by result.",
		}, []string{"result"}),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "task", Name: "transitions_total",
			Help: "Async task status transitions.",
		}, []string{"status"}),
	}
	m.registry.MustRegister(
		m.httpRequests, m.httpLatency,
		m.agentRuns, m.agentIterations, m.toolCalls,
		m.dispatches, m.agentLoad, m.planCache, m.tasks,
		collectors.NewGoCollector(),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler exposes the metrics in Prometheus text exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func (m *Metrics) ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	m.httpLatency.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// ObserveAgentRun records a finished run. iterations <= 0 is not observed.
func (m *Metrics) ObserveAgentRun(agent, outcome string, iterations int) {
	if m == nil {
		return
	}
	m.agentRuns.WithLabelValues(agent, outcome).Inc()
	if iterations > 0 {
		m.agentIterations.WithLabelValues(agent).Observe(float64(iterations))
	}
}

// ObserveToolCall records one tool invocation.
func (m *Metrics) ObserveToolCall(tool string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.toolCalls.WithLabelValues(tool, outcome).Inc()
}

// ObserveDispatch records a dispatch decision.
func (m *Metrics) ObserveDispatch(agent, strategy string) {
	if m == nil {
		return
	}
	m.dispatches.WithLabelValues(agent, strategy).Inc()
}

// SetAgentLoad publishes the current load counter of an agent.
func (m *Metrics) SetAgentLoad(agent string, load int) {
	if m == nil {
		return
	}
	m.agentLoad.WithLabelValues(agent).Set(float64(load))
}

// ObservePlanCache records a cache lookup.
func (m *Metrics) ObservePlanCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.planCache.WithLabelValues(result).Inc()
}

// ObserveTask records a task status transition.
func (m *Metrics) ObserveTask(status string) {
	if m == nil {
		return
	}
	m.tasks.WithLabelValues(status).Inc()
}
