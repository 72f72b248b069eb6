package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the pipeline's prometheus collectors. One instance is built
// in main and shared by the worker and the evaluation engine.
type Metrics struct {
	JobsTotal        *prometheus.CounterVec
	StageTransitions *prometheus.CounterVec
	ProviderRetries  prometheus.Counter
	ModelFallbacks   prometheus.Counter
	QueueDepth       prometheus.Gauge
	JobDuration      prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		JobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "evaluation_jobs_total",
			Help: "Evaluation jobs by terminal status.",
		}, []string{"status"}),
		StageTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "evaluation_stage_transitions_total",
			Help: "Stage entries committed by the evaluation engine.",
		}, []string{"stage"}),
		ProviderRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "evaluation_provider_retries_total",
			Help: "Provider call retries across all jobs.",
		}),
		ModelFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "evaluation_model_fallbacks_total",
			Help: "Structured calls escalated to the fallback model.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "evaluation_queue_depth",
			Help: "Jobs waiting in the in-process queue.",
		}),
		JobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "evaluation_job_duration_seconds",
			Help:    "Wall-clock duration of completed jobs.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
	}

	reg.MustRegister(
		m.JobsTotal,
		m.StageTransitions,
		m.ProviderRetries,
		m.ModelFallbacks,
		m.QueueDepth,
		m.JobDuration,
	)

	return m
}

// NewNopMetrics returns metrics bound to a throwaway registry, for tests.
func NewNopMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}
