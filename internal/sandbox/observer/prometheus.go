package observer

import (
	"context"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var durationBuckets = []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 20000}

// PrometheusRecorder exports sandbox metrics to a prometheus registry.
type PrometheusRecorder struct {
	stages   *prometheus.CounterVec
	duration *prometheus.HistogramVec
	memory   *prometheus.HistogramVec
	jobs     *prometheus.CounterVec
	jobTime  prometheus.Histogram
	rejected *prometheus.CounterVec
}

// NewPrometheusRecorder registers the collectors on reg.
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	factory := promauto.With(reg)
	return &PrometheusRecorder{
		stages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "compilebox_stage_total",
			Help: "Sandbox stages executed, by language, stage and outcome",
		}, []string{"language", "stage", "outcome"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "compilebox_stage_duration_ms",
			Help:    "Wall time per sandbox stage in milliseconds",
			Buckets: durationBuckets,
		}, []string{"language", "stage"}),
		memory: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "compilebox_stage_memory_bytes",
			Help:    "Peak resident memory per sandbox stage",
			Buckets: prometheus.ExponentialBuckets(1<<20, 2, 12),
		}, []string{"language", "stage"}),
		jobs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "compilebox_jobs_total",
			Help: "Jobs by terminal state",
		}, []string{"state"}),
		jobTime: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "compilebox_job_duration_ms",
			Help:    "End to end job time in milliseconds",
			Buckets: durationBuckets,
		}),
		rejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "compilebox_rejected_total",
			Help: "Requests rejected before a job started",
		}, []string{"reason"}),
	}
}

func (p *PrometheusRecorder) ObserveCompile(_ context.Context, languageID string, ok bool, timeMs int64, memoryBytes int64) {
	p.stages.WithLabelValues(languageID, "build", strconv.FormatBool(ok)).Inc()
	p.duration.WithLabelValues(languageID, "build").Observe(float64(timeMs))
	if memoryBytes > 0 {
		p.memory.WithLabelValues(languageID, "build").Observe(float64(memoryBytes))
	}
}

func (p *PrometheusRecorder) ObserveRun(_ context.Context, languageID string, outcome string, timeMs int64, memoryBytes int64) {
	p.stages.WithLabelValues(languageID, "run", outcome).Inc()
	p.duration.WithLabelValues(languageID, "run").Observe(float64(timeMs))
	if memoryBytes > 0 {
		p.memory.WithLabelValues(languageID, "run").Observe(float64(memoryBytes))
	}
}

func (p *PrometheusRecorder) ObserveJob(_ context.Context, state string, timeMs int64) {
	p.jobs.WithLabelValues(state).Inc()
	p.jobTime.Observe(float64(timeMs))
}

func (p *PrometheusRecorder) ObserveRejected(_ context.Context, reason string) {
	p.rejected.WithLabelValues(reason).Inc()
}
