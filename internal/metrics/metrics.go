// Package metrics provides Prometheus metrics for the accounting engine.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// Sampler metrics.
	SamplerRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "panel",
		Subsystem: "sampler",
		Name:      "runs_total",
		Help:      "Total number of sampler runs per source and outcome.",
	}, []string{"source", "status"}) // status: "ok" or "error"
	SamplerSamplesInserted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "panel",
		Subsystem: "sampler",
		Name:      "samples_inserted_total",
		Help:      "Total number of traffic samples written.",
	}, []string{"source"})
	SamplerCounterResets = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "panel",
		Subsystem: "sampler",
		Name:      "counter_resets_total",
		Help:      "Total number of upstream counter resets detected.",
	}, []string{"source"})
	SamplerRunDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "panel",
		Subsystem: "sampler",
		Name:      "run_duration_seconds",
		Help:      "Duration of sampler runs.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"source"})

	// Quota metrics.
	QuotaExceeded = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "panel",
		Subsystem: "quota",
		Name:      "exceeded_identities",
		Help:      "Number of identities currently over their quota limit.",
	})

	// Retention metrics.
	RetentionPrunedSamples = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "panel",
		Subsystem: "retention",
		Name:      "pruned_samples_total",
		Help:      "Total number of samples removed by pruning.",
	})
	RetentionAggregatedDays = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "panel",
		Subsystem: "retention",
		Name:      "aggregated_days_total",
		Help:      "Total number of day groups compacted into daily buckets.",
	})
	RetentionRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "panel",
		Subsystem: "retention",
		Name:      "runs_total",
		Help:      "Total number of retention cycles per outcome.",
	}, []string{"status"})
)

func init() {
	prometheus.MustRegister(
		SamplerRunsTotal,
		SamplerSamplesInserted,
		SamplerCounterResets,
		SamplerRunDuration,

		QuotaExceeded,

		RetentionPrunedSamples,
		RetentionAggregatedDays,
		RetentionRunsTotal,
	)
}
