package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(visualAssetsTotal, visualFetchAttemptsTotal) }

var visualAssetsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "visual_assets_total",
		Help: "Scene images produced, labeled by the provider that supplied them.",
	},
	[]string{"source"},
)

var visualFetchAttemptsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "visual_fetch_attempts_total",
		Help: "Image provider fetch attempts, labeled by provider and result.",
	},
	[]string{"provider", "result"}, // result: 'ok', 'invalid', 'error', 'open_circuit'
)

func IncVisualAsset(source string) {
	visualAssetsTotal.WithLabelValues(norm(source)).Inc()
}

func IncVisualFetch(provider, result string) {
	visualFetchAttemptsTotal.WithLabelValues(norm(provider), norm(result)).Inc()
}
