package realtime

import "github.com/prometheus/client_golang/prometheus"

var (
	connects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ticket_sync_realtime_connects_total",
			Help: "Successful realtime channel connections, including reconnects.",
		},
	)
	dialFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ticket_sync_realtime_dial_failures_total",
			Help: "Failed realtime connection attempts.",
		},
	)
	framesDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ticket_sync_realtime_frames_dropped_total",
			Help: "Malformed or unrecognized realtime frames discarded.",
		},
	)
	hintsEmitted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ticket_sync_realtime_hints_total",
			Help: "Refresh hints emitted from recognized realtime frames.",
		},
	)
)

func init() {
	prometheus.MustRegister(connects, dialFailures, framesDropped, hintsEmitted)
}

func incConnect() {
	connects.Inc()
}

func incDialFailure() {
	dialFailures.Inc()
}

func incFrameDropped() {
	framesDropped.Inc()
}

func incHintEmitted() {
	hintsEmitted.Inc()
}
