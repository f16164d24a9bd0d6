package metrics

import "github.com/prometheus/client_golang/prometheus"

// BacklogMetrics exposes how much undelivered work is sitting in storage.
type BacklogMetrics struct {
	dueMailboxes prometheus.Gauge
	deadLetters  prometheus.Gauge
}

func NewBacklogMetrics(reg prometheus.Registerer) *BacklogMetrics {
	if reg == nil {
		return &BacklogMetrics{}
	}
	dueMailboxes := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "webhook_mailboxes_due",
		Help: "Mailboxes whose head payload is due for delivery.",
	})
	deadLetters := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "webhook_dead_letters",
		Help: "Dead letters waiting for replay or retention.",
	})
	reg.MustRegister(dueMailboxes, deadLetters)
	return &BacklogMetrics{dueMailboxes: dueMailboxes, deadLetters: deadLetters}
}

func (b *BacklogMetrics) SetDueMailboxes(n int64) {
	if b == nil || b.dueMailboxes == nil {
		return
	}
	b.dueMailboxes.Set(float64(n))
}

func (b *BacklogMetrics) SetDeadLetters(n int64) {
	if b == nil || b.deadLetters == nil {
		return
	}
	b.deadLetters.Set(float64(n))
}
