// Package metrics holds the orchestrator's Prometheus instruments.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "riot2"

type Metrics struct {
	registry *prometheus.Registry

	Reports         *prometheus.CounterVec // by result: accepted, dropped
	CommandsSent    prometheus.Counter
	MessagesFailed  *prometheus.CounterVec // by topic kind
	RuleFailures    prometheus.Counter
	VariableUpdates prometheus.Counter
	StoreChanges    *prometheus.CounterVec // by kind, operation
	OnlineNodes     prometheus.Gauge
}

// New creates the instruments on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Reports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reports_total",
			Help:      "Inbound reports by result",
		}, []string{"result"}),
		CommandsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_sent_total",
			Help:      "Commands published to nodes",
		}),
		MessagesFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_failed_total",
			Help:      "Inbound messages that could not be handled",
		}, []string{"topic"}),
		RuleFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rules",
			Name:      "failures_total",
			Help:      "Rule evaluations that failed",
		}),
		VariableUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "variable_updates_total",
			Help:      "Variables updated by rule outputs",
		}),
		StoreChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "changes_total",
			Help:      "Object store mutations by kind and operation",
		}, []string{"kind", "operation"}),
		OnlineNodes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online_nodes",
			Help:      "Nodes currently online",
		}),
	}
	m.registry.MustRegister(
		m.Reports,
		m.CommandsSent,
		m.MessagesFailed,
		m.RuleFailures,
		m.VariableUpdates,
		m.StoreChanges,
		m.OnlineNodes,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
