// Package metrics exposes Prometheus instrumentation for capture, delivery
// and connectivity.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsCaptured = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldsync_events_captured_total",
			Help: "Total number of field events captured",
		},
		[]string{"category"},
	)

	CaptureLocation = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldsync_capture_location_total",
			Help: "Location sampling outcomes at capture time",
		},
		[]string{"result"}, // "fix", "unsupported", "denied", "timeout", "error"
	)

	DeliveryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldsync_delivery_attempts_total",
			Help: "Delivery attempts to the ingestion API by outcome",
		},
		[]string{"outcome"}, // "synced", "retry", "terminal", "rejected", "interrupted"
	)

	DeliveryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fieldsync_delivery_duration_seconds",
			Help:    "Duration of single delivery attempts in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	DrainDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fieldsync_drain_duration_seconds",
			Help:    "Duration of drain passes in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 300},
		},
		[]string{"trigger"},
	)

	QueueEvents = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fieldsync_queue_events",
			Help: "Number of queued events per sync state",
		},
		[]string{"state"},
	)

	ConnectivityOnline = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fieldsync_connectivity_online",
			Help: "1 when the device is considered online",
		},
	)

	ConnectivityTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldsync_connectivity_transitions_total",
			Help: "Observed connectivity edges",
		},
		[]string{"to"}, // "online", "offline"
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fieldsync_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)
)

// RecordDelivery records the outcome and latency of one delivery attempt
func RecordDelivery(outcome string, duration time.Duration) {
	DeliveryAttempts.WithLabelValues(outcome).Inc()
	DeliveryDuration.Observe(duration.Seconds())
}

// RecordDrain records a finished drain pass
func RecordDrain(trigger string, duration time.Duration) {
	DrainDuration.WithLabelValues(trigger).Observe(duration.Seconds())
}

// SetQueueCounts publishes the per-state queue sizes
func SetQueueCounts(pending, inFlight, synced, failed int) {
	QueueEvents.WithLabelValues("pending").Set(float64(pending))
	QueueEvents.WithLabelValues("in_flight").Set(float64(inFlight))
	QueueEvents.WithLabelValues("synced").Set(float64(synced))
	QueueEvents.WithLabelValues("failed").Set(float64(failed))
}

// RecordTransition records a connectivity edge
func RecordTransition(online bool) {
	if online {
		ConnectivityOnline.Set(1)
		ConnectivityTransitions.WithLabelValues("online").Inc()
		return
	}
	ConnectivityOnline.Set(0)
	ConnectivityTransitions.WithLabelValues("offline").Inc()
}
