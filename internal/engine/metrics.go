package engine

import "github.com/prometheus/client_golang/prometheus"

const (
	healthAvailable   = "available"
	healthUnavailable = "unavailable"
)

var (
	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beamlab_analysis_runs_total",
			Help: "Finished analysis runs by venue and final status.",
		},
		[]string{"venue", "status"},
	)

	runDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "beamlab_analysis_duration_seconds",
			Help:    "Analysis run duration in seconds.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"venue"},
	)

	activeRuns = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "beamlab_analysis_active",
			Help: "Whether an analysis run is in flight.",
		},
	)

	healthChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beamlab_remote_health_checks_total",
			Help: "Remote health probes by result.",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(runsTotal)
	prometheus.MustRegister(runDuration)
	prometheus.MustRegister(activeRuns)
	prometheus.MustRegister(healthChecksTotal)
}
