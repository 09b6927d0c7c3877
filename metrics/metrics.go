// Package metrics holds the prometheus collectors shared by both sides of a
// connection.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "webthree_rpc"

var (
	registerOnce sync.Once

	requests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "requests_total",
			Help:      "Requests handled (server) or performed (client).",
		},
		[]string{"side", "service", "type", "code"},
	)
	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "request_duration_seconds",
			Help:      "Request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"side", "service", "type"},
	)
	pendingCalls = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "pending_calls",
			Help:      "Requests awaiting a reply.",
		},
		[]string{"service"},
	)
	correlationMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "correlation_misses_total",
			Help:      "Replies whose sequence number matched no pending request.",
		},
		[]string{"service"},
	)
	frameErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "conn",
			Name:      "frame_errors_total",
			Help:      "Inbound frames dropped before reaching a binding.",
		},
		[]string{"reason"},
	)
	connections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "conn",
			Name:      "open",
			Help:      "Open connections.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(requests, requestDuration, pendingCalls, correlationMisses, frameErrors, connections)
	})
}

func RecordRequest(side, service, typ, code string, duration time.Duration) {
	RegisterMetrics()
	requests.WithLabelValues(side, service, typ, code).Inc()
	requestDuration.WithLabelValues(side, service, typ).Observe(duration.Seconds())
}

func AddPending(service string, delta float64) {
	RegisterMetrics()
	pendingCalls.WithLabelValues(service).Add(delta)
}

func RecordCorrelationMiss(service string) {
	RegisterMetrics()
	correlationMisses.WithLabelValues(service).Inc()
}

// RecordFrameError counts a dropped frame. reason is one of "too_small",
// "too_large", "no_binding", "dispatch".
func RecordFrameError(reason string) {
	RegisterMetrics()
	frameErrors.WithLabelValues(reason).Inc()
}

func ConnOpened() {
	RegisterMetrics()
	connections.Inc()
}

func ConnClosed() {
	RegisterMetrics()
	connections.Dec()
}
