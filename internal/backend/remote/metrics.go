package remote

import "github.com/prometheus/client_golang/prometheus"

const (
	outcomeAccepted = "accepted"
	outcomeRejected = "rejected"
)

var (
	submissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beamlab_remote_submissions_total",
			Help: "Remote job submissions by outcome.",
		},
		[]string{"outcome"},
	)

	pollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beamlab_remote_polls_total",
			Help: "Remote status polls by reported job status.",
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(submissionsTotal)
	prometheus.MustRegister(pollsTotal)
}
