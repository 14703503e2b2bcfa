package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FetchTotal counts resolved network fetches by outcome ("ok" | "fail").
	FetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "weather_fetch_total",
		Help: "Total number of resolved weather fetches by outcome.",
	}, []string{"outcome"})

	// CacheHitTotal counts requests served from a fresh cache entry.
	CacheHitTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "weather_cache_hit_total",
		Help: "Total number of weather requests served from cache.",
	})

	// CacheMissTotal counts requests that dispatched a network fetch.
	CacheMissTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "weather_cache_miss_total",
		Help: "Total number of weather requests that missed the cache.",
	})

	// StaleDiscardTotal counts responses dropped because interest in the
	// originating request was superseded before they arrived.
	StaleDiscardTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "weather_stale_discard_total",
		Help: "Total number of late responses discarded by the engine.",
	})
)
