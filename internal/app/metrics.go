package app

import "github.com/prometheus/client_golang/prometheus"

// Metrics groups the engine's Prometheus collectors.
type Metrics struct {
	AttemptsStarted    prometheus.Counter
	AttemptsSubmitted  prometheus.Counter
	RecomputeConflicts prometheus.Counter
	StaleSubmissions   prometheus.Counter
	StaleRecomputes    prometheus.Counter
	SubmitDuration     prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AttemptsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "exam_attempts_started_total",
			Help: "Attempts created by startAttempt",
		}),
		AttemptsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "exam_attempts_submitted_total",
			Help: "Attempts moved to submitted",
		}),
		RecomputeConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "exam_rank_recompute_conflicts_total",
			Help: "Rank and analytics recomputes that lost a race and were retried",
		}),
		StaleSubmissions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "exam_stale_submissions_total",
			Help: "Submissions saved without ranking after retries ran out",
		}),
		StaleRecomputes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "exam_stale_recomputes_total",
			Help: "Recomputes triggered by reading a stale exam",
		}),
		SubmitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "exam_submit_duration_seconds",
			Help:    "Duration of submitAttempt including ranking",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2},
		}),
	}
	reg.MustRegister(
		m.AttemptsStarted,
		m.AttemptsSubmitted,
		m.RecomputeConflicts,
		m.StaleSubmissions,
		m.StaleRecomputes,
		m.SubmitDuration,
	)
	return m
}
