package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/webhook-relay/pkg/enums"
)

// DeliveryMetrics records the webhook delivery engine's counters and timings.
type DeliveryMetrics struct {
	deliveries   *prometheus.CounterVec
	failures     *prometheus.CounterVec
	mailboxCount prometheus.Histogram
	deliveryTime prometheus.Histogram
	sendRequest  *prometheus.HistogramVec
}

// NewDeliveryMetrics registers the delivery metrics on the provided registerer.
func NewDeliveryMetrics(reg prometheus.Registerer) *DeliveryMetrics {
	if reg == nil {
		return &DeliveryMetrics{}
	}
	deliveries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_deliveries_total",
		Help: "Webhook payloads leaving a mailbox attempt, by outcome.",
	}, []string{"outcome"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_delivery_failures_total",
		Help: "Classified delivery failures by reason and destination.",
	}, []string{"reason", "destination"})
	mailboxCount := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "webhook_schedule_mailbox_count",
		Help:    "Mailboxes with due work found per scheduling tick.",
		Buckets: []float64{0, 1, 5, 10, 50, 100, 250, 500, 1000, 5000},
	})
	deliveryTime := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "webhook_delivery_time_seconds",
		Help:    "Time from payload creation to successful delivery.",
		Buckets: []float64{0.5, 1, 5, 15, 30, 60, 300, 900, 3600, 21600, 86400},
	})
	sendRequest := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "webhook_send_request_seconds",
		Help:    "Duration of a single outbound delivery request.",
		Buckets: prometheus.DefBuckets,
	}, []string{"destination"})
	reg.MustRegister(deliveries, failures, mailboxCount, deliveryTime, sendRequest)
	return &DeliveryMetrics{
		deliveries:   deliveries,
		failures:     failures,
		mailboxCount: mailboxCount,
		deliveryTime: deliveryTime,
		sendRequest:  sendRequest,
	}
}

// IncDelivery adds n to the counter for outcome.
func (d *DeliveryMetrics) IncDelivery(outcome enums.DeliveryOutcome, n int) {
	if d == nil || d.deliveries == nil || n <= 0 {
		return
	}
	d.deliveries.WithLabelValues(normalizeLabel(string(outcome))).Add(float64(n))
}

// IncFailure counts one classified failure for the given destination.
func (d *DeliveryMetrics) IncFailure(reason enums.FailureReason, destination string) {
	if d == nil || d.failures == nil {
		return
	}
	d.failures.WithLabelValues(normalizeLabel(string(reason)), normalizeLabel(destination)).Inc()
}

// ObserveMailboxCount records how many mailboxes a tick found.
func (d *DeliveryMetrics) ObserveMailboxCount(count int) {
	if d == nil || d.mailboxCount == nil {
		return
	}
	d.mailboxCount.Observe(float64(count))
}

// ObserveDeliveryTime records end-to-end latency of a delivered payload.
func (d *DeliveryMetrics) ObserveDeliveryTime(latency time.Duration) {
	if d == nil || d.deliveryTime == nil {
		return
	}
	d.deliveryTime.Observe(latency.Seconds())
}

// ObserveSendRequest records the duration of one outbound request.
func (d *DeliveryMetrics) ObserveSendRequest(destination string, duration time.Duration) {
	if d == nil || d.sendRequest == nil {
		return
	}
	d.sendRequest.WithLabelValues(normalizeLabel(destination)).Observe(duration.Seconds())
}
