package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ActiveConnections tracks connections currently attached to the broadcaster.
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "netmoment",
		Name:      "active_connections",
		Help:      "Number of live client connections.",
	})

	// CommandsTotal counts decoded inbound commands by kind.
	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "netmoment",
		Name:      "commands_total",
		Help:      "Inbound commands processed, by command kind.",
	}, []string{"kind"})

	// EventsDelivered counts successful per-recipient event sends.
	EventsDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "netmoment",
		Name:      "events_delivered_total",
		Help:      "Outbound events delivered to recipients, by event kind.",
	}, []string{"event"})

	// Evictions counts identities torn down by disconnect, send failure or
	// heartbeat timeout.
	Evictions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "netmoment",
		Name:      "evictions_total",
		Help:      "Identities evicted from the registry.",
	})
)

// Handler exposes Prometheus metrics at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
