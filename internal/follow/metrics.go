package follow

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	followsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sky_agent_follows_total",
		Help: "Successful follow calls.",
	})

	unfollowsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sky_agent_unfollows_total",
		Help: "Ledger records closed by the unfollow sweep.",
	})

	remoteFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sky_agent_remote_failures_total",
		Help: "Failed remote call attempts by operation and kind.",
	}, []string{"op", "kind"})

	cycleErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sky_agent_cycle_errors_total",
		Help: "Follow cycle iterations that ended in an error.",
	})

	workerRestarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sky_agent_worker_restarts_total",
		Help: "Supervised worker restarts.",
	}, []string{"worker"})

	quotaUsed = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sky_agent_follow_quota_used",
		Help: "Follows made in the current cycle window.",
	})
)
