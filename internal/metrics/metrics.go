package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	bookingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booking_checkouts_total",
			Help: "Checkout attempts by outcome",
		},
		[]string{"outcome"},
	)

	bookingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "booking_checkout_duration_seconds",
			Help:    "Duration of the checkout unit of work",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	ticketsSold = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "booking_tickets_sold_total",
			Help: "Tickets sold by committed bookings",
		},
	)

	cancellationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booking_cancellations_total",
			Help: "Cancellation attempts by outcome",
		},
		[]string{"outcome"},
	)

	outboxProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_messages_processed_total",
			Help: "Outbox messages handled by event type and result",
		},
		[]string{"event_type", "result"},
	)

	issuanceStageFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "issuance_stage_failures_total",
			Help: "Issuance pipeline failures by stage",
		},
		[]string{"stage"},
	)

	issuanceDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "issuance_pipeline_duration_seconds",
			Help:    "Duration of one issuance pipeline run",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
	)

	httpRequests = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency by route and status",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

// TrackCheckout records one checkout attempt
func TrackCheckout(outcome string, duration time.Duration, tickets int) {
	bookingsTotal.WithLabelValues(outcome).Inc()
	bookingDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	if tickets > 0 {
		ticketsSold.Add(float64(tickets))
	}
}

// TrackCancellation records one cancellation attempt
func TrackCancellation(outcome string) {
	cancellationsTotal.WithLabelValues(outcome).Inc()
}

// TrackOutbox records the result of handling one outbox message
func TrackOutbox(eventType, result string) {
	outboxProcessed.WithLabelValues(eventType, result).Inc()
}

// TrackIssuance records one pipeline run; stage is empty on success
func TrackIssuance(stage string, duration time.Duration) {
	issuanceDuration.Observe(duration.Seconds())
	if stage != "" {
		issuanceStageFailures.WithLabelValues(stage).Inc()
	}
}

// TrackHTTP records one served request
func TrackHTTP(method, route, status string, duration time.Duration) {
	httpRequests.WithLabelValues(method, route, status).Observe(duration.Seconds())
}

// Middleware records request latency by route template
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		TrackHTTP(c.Request.Method, route, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}
