package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(cookieRefreshTotal) }

var cookieRefreshTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "cookie_refresh_total",
		Help: "Cookie refresh attempts, labeled by outcome.",
	},
	[]string{"outcome"}, // 'refreshed', 'skipped_locked', 'failed', 'disabled', 'already_fresh'
)

func IncCookieRefresh(outcome string) {
	cookieRefreshTotal.WithLabelValues(norm(outcome)).Inc()
}
