// Package metrics provides Prometheus metrics for the realtime gateway.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OpenSessions tracks registered realtime connections on this instance.
	OpenSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_open_sessions",
			Help: "Number of registered realtime connections",
		},
	)

	// TrackedUsers tracks users with at least one session or a pending grace delay.
	TrackedUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_tracked_users",
			Help: "Number of users tracked by the presence registry",
		},
	)

	// StatusTransitions counts presence state changes.
	StatusTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_status_transitions_total",
			Help: "Total number of presence status transitions",
		},
		[]string{"from_status", "to_status"},
	)

	// ForcedDisconnects counts sessions dropped by the idle sweep.
	ForcedDisconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_forced_disconnects_total",
			Help: "Total number of sessions force-unregistered by the idle sweep",
		},
	)

	// Emits counts emit calls by event name.
	Emits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_emits_total",
			Help: "Total number of room emits",
		},
		[]string{"event"},
	)

	// Deliveries counts per-session deliveries by outcome.
	Deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_deliveries_total",
			Help: "Total number of per-session deliveries",
		},
		[]string{"result"},
	)

	// BackplaneMessages counts cross-instance fan-out messages.
	BackplaneMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_backplane_messages_total",
			Help: "Total number of backplane messages",
		},
		[]string{"direction", "result"},
	)

	// SocialEvents counts events read from the social events topic.
	SocialEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_social_events_total",
			Help: "Total number of social events consumed from Kafka",
		},
		[]string{"result"},
	)

	// StatusWrites counts status side-effect writes by sink and outcome.
	StatusWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_status_writes_total",
			Help: "Total number of status cache and last-seen writes",
		},
		[]string{"sink", "result"},
	)
)

func result(err error) string {
	if err != nil {
		return "failed"
	}
	return "ok"
}

// RecordDelivery increments the delivery counter for one session.
func RecordDelivery(err error) {
	Deliveries.WithLabelValues(result(err)).Inc()
}

// RecordStatusWrite increments the status write counter for sink.
func RecordStatusWrite(sink string, err error) {
	StatusWrites.WithLabelValues(sink, result(err)).Inc()
}
