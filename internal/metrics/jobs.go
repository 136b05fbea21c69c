package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(jobsProcessedTotal, dispatcherClaimsTotal, jobsCreatedTotal) }

var jobsProcessedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "jobs_processed_total",
		Help: "Total number of video jobs that reached a terminal status.",
	},
	[]string{"status"}, // 'done', 'failed'
)

var dispatcherClaimsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "dispatcher_claims_total",
		Help: "Dispatcher claim attempts, labeled by result.",
	},
	[]string{"result"}, // 'claimed', 'empty', 'error'
)

var jobsCreatedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "jobs_created_total",
		Help: "Total number of jobs accepted for processing.",
	},
)

func IncJobProcessed(status string) {
	jobsProcessedTotal.WithLabelValues(norm(status)).Inc()
}

func IncClaim(result string) {
	dispatcherClaimsTotal.WithLabelValues(norm(result)).Inc()
}

func IncJobCreated() {
	jobsCreatedTotal.Inc()
}
