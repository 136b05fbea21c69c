package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(stageDuration, stageOutcomes) }

var stageDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "pipeline_stage_duration_seconds",
		Help:    "Wall time spent in each pipeline stage.",
		Buckets: []float64{0.05, 0.25, 1, 2.5, 5, 15, 30, 60, 120, 300},
	},
	[]string{"stage"},
)

var stageOutcomes = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pipeline_stage_outcomes_total",
		Help: "Pipeline stage results, labeled by stage and outcome.",
	},
	[]string{"stage", "outcome"}, // outcome: 'ok', 'degraded', 'fatal'
)

func ObserveStage(stage, outcome string, d time.Duration) {
	stageDuration.WithLabelValues(norm(stage)).Observe(d.Seconds())
	stageOutcomes.WithLabelValues(norm(stage), norm(outcome)).Inc()
}
