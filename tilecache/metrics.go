package tilecache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trackmap",
		Subsystem: "tilecache",
		Name:      "requests_total",
		Help:      "Tile requests by result: hit (entry present) or miss (fetch started)",
	}, []string{"result"})

	metricFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trackmap",
		Subsystem: "tilecache",
		Name:      "fetches_total",
		Help:      "Completed tile fetches by outcome",
	}, []string{"outcome"})

	metricFetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "trackmap",
		Subsystem: "tilecache",
		Name:      "fetch_duration_seconds",
		Help:      "Time spent by a worker fetching one tile",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	metricEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "trackmap",
		Subsystem: "tilecache",
		Name:      "evictions_total",
		Help:      "Entries evicted to stay within capacity",
	})

	metricBusyWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "trackmap",
		Subsystem: "tilecache",
		Name:      "busy_workers",
		Help:      "Workers currently fetching",
	})
)

const (
	outcomeOK       = "ok"
	outcomeFailed   = "failed"
	outcomeStale    = "stale"
	outcomePanicked = "panicked"
)
