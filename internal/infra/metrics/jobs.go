package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		jobsProcessedTotal,
		jobStageSeconds,
		transcriptionSeconds,
	)
}

var (
	jobsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transcription_jobs_processed_total",
			Help: "Total number of transcription jobs that reached a terminal state, labeled by state.",
		},
		[]string{"state"}, // 'succeeded', 'failed'
	)

	jobStageSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "transcription_job_stage_seconds",
			Help:    "Time spent in each job stage.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"stage"},
	)

	transcriptionSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "whisper_cli_duration_seconds",
			Help:    "Duration of whisper-cli invocations.",
			Buckets: []float64{1, 2.5, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"success"},
	)
)

func IncJob(state string) {
	jobsProcessedTotal.WithLabelValues(norm(state)).Inc()
}

func ObserveStage(stage string, d time.Duration) {
	jobStageSeconds.WithLabelValues(norm(stage)).Observe(d.Seconds())
}

func ObserveTranscription(d time.Duration, success bool) {
	label := "false"
	if success {
		label = "true"
	}
	transcriptionSeconds.WithLabelValues(label).Observe(d.Seconds())
}
