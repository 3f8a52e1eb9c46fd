package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		submissionsTotal,
		tasksRequeuedTotal,
		rateLimitedTotal,
	)
}

var (
	submissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_submissions_total",
			Help: "Task submissions, labeled by kind and result.",
		},
		[]string{"kind", "result"}, // result: 'accepted', 'invalid', 'unavailable'
	)

	tasksRequeuedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "queue_tasks_requeued_total",
			Help: "Tasks returned to the queue after their worker was lost.",
		},
	)

	rateLimitedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "api_submissions_rate_limited_total",
			Help: "Submissions rejected by the per-client rate limiter.",
		},
	)
)

func IncSubmission(kind, result string) {
	submissionsTotal.WithLabelValues(norm(kind), norm(result)).Inc()
}

func AddRequeued(n int) {
	tasksRequeuedTotal.Add(float64(n))
}

func IncRateLimited() {
	rateLimitedTotal.Inc()
}
