package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CandidatesEvaluated tracks decision engine verdicts
	CandidatesEvaluated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smart_notification_candidates_evaluated_total",
			Help: "Total number of notification candidates evaluated",
		},
		[]string{"channel", "reason"},
	)

	// NotificationsEnqueued tracks rows written to the delivery queue
	NotificationsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smart_notification_enqueued_total",
			Help: "Total number of notifications written to the delivery queue",
		},
		[]string{"channel", "bundled"},
	)

	// EnqueueFailures tracks swallowed storage failures on the enqueue path
	EnqueueFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smart_notification_enqueue_failures_total",
			Help: "Total number of enqueue failures that were logged and dropped",
		},
		[]string{"stage"},
	)

	// ImmediateDispatches tracks the synchronous presentation path
	ImmediateDispatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smart_notification_immediate_dispatch_total",
			Help: "Total number of immediate dispatch attempts",
		},
		[]string{"channel", "outcome"},
	)

	// DrainDelivered tracks notifications sent by the drain worker
	DrainDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smart_notification_drain_delivered_total",
			Help: "Total number of queued notifications processed by the drain worker",
		},
		[]string{"channel", "status"},
	)

	// DrainDuration tracks one drain pass
	DrainDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "smart_notification_drain_duration_seconds",
			Help:    "Drain pass duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// DrainBatchSize tracks how many due rows a drain pass loaded
	DrainBatchSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "smart_notification_drain_batch_size",
			Help: "Number of due notifications loaded by the last drain pass",
		},
	)

	// DrainRateLimited tracks rows deferred by the per-user hourly cap
	DrainRateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "smart_notification_drain_rate_limited_total",
			Help: "Total number of due notifications deferred by the per-user hourly cap",
		},
	)

	// PushSubscriptionChanges tracks push subscription lifecycle transitions
	PushSubscriptionChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smart_notification_push_subscription_changes_total",
			Help: "Total number of push subscription lifecycle transitions",
		},
		[]string{"action"}, // enabled, disabled, expired
	)

	// PrayerWindowActive is 1 while a prayer observance window is open
	PrayerWindowActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "smart_notification_prayer_window_active",
			Help: "Whether a prayer observance window is currently active",
		},
	)

	// RateLimitExceeded tracks API rate limit violations
	RateLimitExceeded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smart_notification_rate_limit_exceeded_total",
			Help: "Total number of rate limit exceeded events",
		},
		[]string{"route"},
	)

	// EventsConsumed tracks upstream community events
	EventsConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smart_notification_events_consumed_total",
			Help: "Total number of community events consumed",
		},
		[]string{"type", "status"},
	)

	// ConsumerRestarts tracks event consumer restart events
	ConsumerRestarts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "smart_notification_consumer_restarts_total",
			Help: "Total number of event consumer restarts",
		},
	)

	// StreamConnections tracks open websocket streams
	StreamConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "smart_notification_stream_connections",
			Help: "Number of open notification stream connections",
		},
	)
)

// SetPrayerWindowActive records the prayer window state
func SetPrayerWindowActive(active bool) {
	if active {
		PrayerWindowActive.Set(1)
		return
	}
	PrayerWindowActive.Set(0)
}
