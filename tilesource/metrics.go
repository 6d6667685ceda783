package tilesource

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker/v2"
)

var (
	metricBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "trackmap",
		Subsystem: "tilesource",
		Name:      "breaker_state",
		Help:      "Circuit breaker state per source: 0 closed, 1 half-open, 2 open",
	}, []string{"source"})

	metricRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trackmap",
		Subsystem: "tilesource",
		Name:      "requests_total",
		Help:      "Upstream tile requests by source and result",
	}, []string{"source", "result"})
)

const (
	resultOK       = "ok"
	resultNotFound = "not_found"
	resultFailed   = "failed"
	resultRejected = "rejected"
)

func stateValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
