package triage

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the triage subsystem.
type Metrics struct {
	SubmissionsTotal   *prometheus.CounterVec
	ClassifyTotal      *prometheus.CounterVec
	ClassifyDuration   *prometheus.HistogramVec
	ComplaintsTotal    *prometheus.CounterVec
	TopScore           prometheus.Histogram
	NotificationsTotal *prometheus.CounterVec
}

// NewMetrics registers and returns triage metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SubmissionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grievance_submissions_total",
			Help: "Complaint submissions by result.",
		}, []string{"result"}),
		ClassifyTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grievance_classifications_total",
			Help: "Classifier invocations by model and outcome.",
		}, []string{"model", "outcome"}),
		ClassifyDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "grievance_classify_duration_seconds",
			Help:    "Duration of classifier calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10), // 100us .. ~26s
		}, []string{"model"}),
		ComplaintsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grievance_complaints_total",
			Help: "Assessed complaints by category and urgency.",
		}, []string{"category", "urgency"}),
		TopScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "grievance_top_score",
			Help:    "Probability of the winning category per assessment.",
			Buckets: prometheus.LinearBuckets(0.1, 0.1, 10), // 0.1 .. 1.0
		}),
		NotificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grievance_notifications_total",
			Help: "Notification attempts from the submit path by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		m.SubmissionsTotal,
		m.ClassifyTotal,
		m.ClassifyDuration,
		m.ComplaintsTotal,
		m.TopScore,
		m.NotificationsTotal,
	)

	return m
}

// Hooks returns an EngineHooks that feeds the corresponding metrics.
func (m *Metrics) Hooks() EngineHooks {
	return EngineHooks{
		OnClassify: func(model string, duration float64, err error) {
			outcome := "success"
			if err != nil {
				outcome = "error"
			}
			m.ClassifyTotal.WithLabelValues(model, outcome).Inc()
			m.ClassifyDuration.WithLabelValues(model).Observe(duration)
		},
		OnAssess: func(a *Assessment) {
			m.ComplaintsTotal.WithLabelValues(a.Category.String(), string(a.Urgency)).Inc()
			m.TopScore.Observe(a.TopScore)
		},
	}
}
