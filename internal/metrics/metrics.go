package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "rentflow"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status class.",
		},
		[]string{"endpoint", "code"},
	)

	bookingTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_transitions_total",
			Help:      "Booking lifecycle actions by outcome.",
		},
		[]string{"action", "result"},
	)

	sweeperCompleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweeper_completed_total",
			Help:      "Bookings moved to completed by the sweeper.",
		},
	)

	sweeperBatchFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweeper_batch_failures_total",
			Help:      "Sweeper batches rolled back.",
		},
	)

	sweeperDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweeper_run_duration_seconds",
			Help:      "Wall time of sweeper runs.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification dispatch and delivery by kind and result.",
		},
		[]string{"kind", "result"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			bookingTransitions,
			sweeperCompleted,
			sweeperBatchFailures,
			sweeperDuration,
			notifications,
		)
	})
}

// IncHTTP counts one served request.
func IncHTTP(endpoint, code string) {
	httpRequests.WithLabelValues(endpoint, code).Inc()
}

// IncTransition counts a lifecycle action; result is "ok", "conflict", "forbidden" and so on.
func IncTransition(action, result string) {
	bookingTransitions.WithLabelValues(action, result).Inc()
}

func AddSweeperCompleted(n int) {
	sweeperCompleted.Add(float64(n))
}

func IncSweeperBatchFailure() {
	sweeperBatchFailures.Inc()
}

func ObserveSweeperRun(d time.Duration) {
	sweeperDuration.Observe(d.Seconds())
}

// IncNotification counts a dispatch ("stored", "error") or delivery ("delivered", "retry", "failed") outcome.
func IncNotification(kind, result string) {
	notifications.WithLabelValues(kind, result).Inc()
}
