package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingestion metrics
	EventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatehawk_events_received_total",
			Help: "Total webhook events received, by source and outcome",
		},
		[]string{"source", "status"},
	)

	DuplicateEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatehawk_events_duplicate_total",
			Help: "Webhook re-deliveries rejected by the idempotent insert",
		},
		[]string{"source"},
	)

	NormalizationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatehawk_normalization_errors_total",
			Help: "Payloads rejected because required fields were missing",
		},
		[]string{"source"},
	)

	SignatureFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatehawk_signature_failures_total",
			Help: "Webhook deliveries rejected on signature mismatch",
		},
		[]string{"source"},
	)

	// Correlation metrics
	GroupsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gatehawk_correlation_groups_created_total",
			Help: "Correlation groups created",
		},
	)

	GroupsJoined = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gatehawk_correlation_groups_joined_total",
			Help: "Events added to an existing correlation group",
		},
	)

	// Notification metrics
	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatehawk_notifications_sent_total",
			Help: "Outbound notifications delivered, by target type",
		},
		[]string{"target"},
	)

	NotificationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatehawk_notification_failures_total",
			Help: "Notifications that exhausted the retry budget",
		},
		[]string{"target"},
	)

	DeliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gatehawk_notification_delivery_seconds",
			Help:    "Duration of outbound delivery attempts in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"target"},
	)

	// Bus metrics
	BusDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatehawk_bus_dropped_total",
			Help: "Messages dropped because a consumer queue was full",
		},
		[]string{"subject"},
	)

	// Rate limiting metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatehawk_rate_limit_hits_total",
			Help: "Webhook deliveries rejected by the rate limiter",
		},
		[]string{"source"},
	)
)
