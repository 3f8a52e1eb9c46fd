package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(buildInfo)
}

var buildInfo = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "build_info",
		Help: "A constant metric with labels for version and commit hash.",
	},
	[]string{"version", "commit", "process"},
)

func SetBuildInfo(version, commit, process string) {
	buildInfo.WithLabelValues(version, commit, process).Set(1)
}
