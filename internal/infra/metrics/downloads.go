package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(downloadAttemptsTotal, downloadsTotal) }

var (
	downloadAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "download_attempts_total",
			Help: "Single yt-dlp download attempts, labeled by result.",
		},
		[]string{"result"}, // 'ok', 'error'
	)

	downloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "downloads_total",
			Help: "Downloads after retry policy, labeled by outcome.",
		},
		[]string{"outcome"}, // 'succeeded', 'exhausted', 'aborted'
	)
)

func IncDownloadAttempt(result string) {
	downloadAttemptsTotal.WithLabelValues(norm(result)).Inc()
}

func IncDownload(outcome string) {
	downloadsTotal.WithLabelValues(norm(outcome)).Inc()
}
