package scheduler

import "github.com/prometheus/client_golang/prometheus"

var (
	refreshes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ticket_sync_refreshes_total",
			Help: "Background refresh fetches issued by the scheduler.",
		},
	)
	staleDiscarded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ticket_sync_stale_responses_discarded_total",
			Help: "Fetch responses discarded because a newer request for the same key was already issued.",
		},
	)
	hints = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ticket_sync_refresh_hints_total",
			Help: "Push-triggered refresh hints received.",
		},
	)
	hintsCoalesced = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ticket_sync_refresh_hints_coalesced_total",
			Help: "Refresh hints absorbed into an already pending debounce window.",
		},
	)
)

func init() {
	prometheus.MustRegister(refreshes, staleDiscarded, hints, hintsCoalesced)
}

func incRefresh() {
	refreshes.Inc()
}

func incStaleDiscarded() {
	staleDiscarded.Inc()
}

func incHint() {
	hints.Inc()
}

func incHintCoalesced() {
	hintsCoalesced.Inc()
}
