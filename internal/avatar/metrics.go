package avatar

import "github.com/prometheus/client_golang/prometheus"

var (
	avatarLookups = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ticket_sync_avatar_lookups_total",
			Help: "Total avatar lookups that reached the gateway.",
		},
	)
	avatarHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ticket_sync_avatar_cache_hits_total",
			Help: "Avatar lookups served from the positive cache.",
		},
	)
	avatarNegativeHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ticket_sync_avatar_negative_hits_total",
			Help: "Avatar lookups suppressed by the negative cache.",
		},
	)
	avatarNegativeStores = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ticket_sync_avatar_negative_entries_total",
			Help: "Failed avatar resolutions recorded in the negative cache.",
		},
	)
)

func init() {
	prometheus.MustRegister(avatarLookups, avatarHits, avatarNegativeHits, avatarNegativeStores)
}

func incLookup() {
	avatarLookups.Inc()
}

func incHit() {
	avatarHits.Inc()
}

func incNegativeHit() {
	avatarNegativeHits.Inc()
}

func incNegative() {
	avatarNegativeStores.Inc()
}
