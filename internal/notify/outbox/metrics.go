package outbox

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for the notification outbox.
type Metrics struct {
	EnqueuedTotal    *prometheus.CounterVec
	AttemptsTotal    *prometheus.CounterVec
	DeliveriesTotal  *prometheus.CounterVec
	DeliveryDuration prometheus.Histogram
	RedrivenTotal    prometheus.Counter
	QueueDepth       *prometheus.GaugeVec
}

// NewMetrics registers and returns outbox metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EnqueuedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grievance_outbox_enqueued_total",
			Help: "Notification jobs offered to the outbox by result.",
		}, []string{"result"}),
		AttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grievance_outbox_delivery_attempts_total",
			Help: "Individual delivery attempts by result.",
		}, []string{"result"}),
		DeliveriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grievance_outbox_deliveries_total",
			Help: "Jobs leaving a worker by final state.",
		}, []string{"state"}),
		DeliveryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "grievance_outbox_delivery_duration_seconds",
			Help:    "Time from first attempt to successful delivery.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms .. ~41s
		}),
		RedrivenTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "grievance_outbox_redriven_total",
			Help: "Dead letters moved back to the pending queue.",
		}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "grievance_outbox_queue_depth",
			Help: "Jobs waiting in the outbox by queue.",
		}, []string{"queue"}),
	}

	reg.MustRegister(
		m.EnqueuedTotal,
		m.AttemptsTotal,
		m.DeliveriesTotal,
		m.DeliveryDuration,
		m.RedrivenTotal,
		m.QueueDepth,
	)
	return m
}

func (m *Metrics) enqueued(result string) {
	if m == nil {
		return
	}
	m.EnqueuedTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) attempt(result string) {
	if m == nil {
		return
	}
	m.AttemptsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) delivered(state string, d time.Duration) {
	if m == nil {
		return
	}
	m.DeliveriesTotal.WithLabelValues(state).Inc()
	if state == "ok" {
		m.DeliveryDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) redriven(n int) {
	if m == nil {
		return
	}
	m.RedrivenTotal.Add(float64(n))
}

// ObserveDepth samples q's pending and dead-letter lengths into QueueDepth.
func (m *Metrics) ObserveDepth(ctx context.Context, q Queue) error {
	if m == nil {
		return nil
	}
	pending, dead, err := q.Depth(ctx)
	if err != nil {
		return err
	}
	m.QueueDepth.WithLabelValues("pending").Set(float64(pending))
	m.QueueDepth.WithLabelValues("dead_letter").Set(float64(dead))
	return nil
}
