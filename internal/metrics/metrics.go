// Package metrics exposes Prometheus collectors for the actor runtime.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_connections_active",
			Help: "Number of currently attached client connections",
		},
	)

	BroadcastsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_broadcasts_total",
			Help: "Total number of state broadcasts sent",
		},
	)

	RPCInvocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_rpc_invocations_total",
			Help: "Total number of RPC invocations",
		},
		[]string{"method"},
	)

	RPCErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_rpc_errors_total",
			Help: "Total number of failed RPC invocations",
		},
		[]string{"method"},
	)

	ScheduleExecutionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_schedule_executions_total",
			Help: "Total number of scheduled callback executions",
		},
	)

	ScheduleFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_schedule_failures_total",
			Help: "Total number of failed scheduled callback executions",
		},
	)

	OutboundConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "burrow_outbound_connections",
			Help: "Outbound capability-server connections by state",
		},
		[]string{"state"},
	)

	InstancesActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_instances_active",
			Help: "Number of resident actor instances",
		},
	)
)

// Handler returns the HTTP handler for the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
