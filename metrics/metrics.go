package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Drop reasons recorded on EnvelopesDropped.
const (
	DropReasonNoRoom    = "no_room"
	DropReasonNoTarget  = "no_target"
	DropReasonQueueFull = "queue_full"
	DropReasonClosed    = "session_closed"
)

var (
	ConnectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aviola_connections_total",
		Help: "WebSocket connections accepted since start.",
	})
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "aviola_active_sessions",
		Help: "Currently open signaling sessions.",
	})
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "aviola_active_rooms",
		Help: "Rooms currently held by the registry, including emptied rooms inside the grace window.",
	})
	EnvelopesRelayed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aviola_envelopes_relayed_total",
		Help: "Envelopes forwarded or broadcast, by message type.",
	}, []string{"type"})
	EnvelopesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aviola_envelopes_dropped_total",
		Help: "Envelopes dropped instead of delivered, by reason.",
	}, []string{"reason"})
	ProtocolErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aviola_protocol_errors_total",
		Help: "Error envelopes sent back to clients.",
	})
	RoomsReaped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aviola_rooms_reaped_total",
		Help: "Empty rooms removed by the reaper.",
	})
)

// Handler exposes the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
