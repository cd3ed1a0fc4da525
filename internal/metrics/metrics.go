// Package metrics exposes Prometheus instruments for the relay. Labels are
// restricted to roles, event types from the closed taxonomy, and fixed
// reasons; connection ids never become labels.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/runframe/agentrelay/internal/events"
)

var (
	// Connections tracks open sockets by role ("unidentified", "ui", "agent").
	Connections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "agentrelay_connections",
		Help: "Current number of relay connections, by role.",
	}, []string{"role"})

	// AgentPresent is 1 while an agent is registered.
	AgentPresent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "agentrelay_agent_present",
		Help: "Whether an agent connection is currently registered.",
	})

	// Forwarded counts frames routed between roles.
	Forwarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentrelay_forwarded_total",
		Help: "Total frames routed by the relay, by direction and event type.",
	}, []string{"direction", "type"})

	// ProtocolErrors counts ERROR replies produced by the relay itself.
	ProtocolErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentrelay_protocol_errors_total",
		Help: "Total relay-originated ERROR replies, by reason.",
	}, []string{"reason"})

	// DroppedClients counts connections closed because their send buffer filled.
	DroppedClients = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agentrelay_dropped_clients_total",
		Help: "Total connections dropped for not draining their send buffer.",
	})
)

// TypeLabel collapses types outside the taxonomy into "other".
func TypeLabel(t events.Type) string {
	if t.Known() {
		return string(t)
	}
	return "other"
}
