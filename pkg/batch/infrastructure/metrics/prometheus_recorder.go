package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	model "github.com/tigerroll/billcache/pkg/batch/core/domain/model"
	metrics "github.com/tigerroll/billcache/pkg/batch/core/metrics"
	logger "github.com/tigerroll/billcache/pkg/batch/support/util/logger"
)

// PrometheusRecorder is a Prometheus implementation of the metrics.MetricRecorder interface.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	// Refresh Metrics
	refreshTotal              *prometheus.CounterVec
	refreshDurationSeconds    *prometheus.HistogramVec
	queryDurationSeconds      *prometheus.HistogramVec
	processingDurationSeconds *prometheus.HistogramVec
	coalescedTotal            *prometheus.CounterVec
	upstreamRetryTotal        *prometheus.CounterVec

	// Cache Metrics
	cacheGeneration  *prometheus.GaugeVec
	cacheRefreshedAt *prometheus.GaugeVec
	cacheRecordCount *prometheus.GaugeVec

	// Workflow Metrics
	iterationTotal      *prometheus.CounterVec
	runTotal            *prometheus.CounterVec
	runIterations       *prometheus.HistogramVec
	operationDurSeconds *prometheus.HistogramVec
}

// NewPrometheusRecorder creates a new instance of PrometheusRecorder with its own registry.
func NewPrometheusRecorder() *PrometheusRecorder {
	registry := prometheus.NewRegistry()

	// Register Go standard metrics and process/OS metrics.
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	durationBuckets := []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 1800, 3600}

	r := &PrometheusRecorder{
		registry: registry,
		refreshTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "billcache_refresh_total",
			Help: "Total number of dataset refreshes by outcome.",
		}, []string{"dataset", "outcome"}),
		refreshDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "billcache_refresh_duration_seconds",
			Help:    "End-to-end duration of dataset refreshes.",
			Buckets: durationBuckets,
		}, []string{"dataset", "outcome"}),
		queryDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "billcache_refresh_query_duration_seconds",
			Help:    "Time spent waiting on upstream queries per refresh.",
			Buckets: durationBuckets,
		}, []string{"dataset"}),
		processingDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "billcache_refresh_processing_duration_seconds",
			Help:    "Time spent aggregating upstream rows per refresh.",
			Buckets: prometheus.DefBuckets,
		}, []string{"dataset"}),
		coalescedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "billcache_refresh_coalesced_total",
			Help: "Triggers and ticks that were absorbed by an in-flight refresh.",
		}, []string{"dataset", "source"}),
		upstreamRetryTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "billcache_upstream_retry_total",
			Help: "Upstream call retries by dataset and reason.",
		}, []string{"dataset", "reason"}),
		cacheGeneration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "billcache_cache_generation",
			Help: "Generation of the currently published snapshot.",
		}, []string{"dataset"}),
		cacheRefreshedAt: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "billcache_cache_refreshed_timestamp_seconds",
			Help: "Unix time of the last successful publish. Age is time() minus this value.",
		}, []string{"dataset"}),
		cacheRecordCount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "billcache_cache_records",
			Help: "Number of records in the currently published snapshot.",
		}, []string{"dataset"}),
		iterationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "billcache_workflow_iteration_total",
			Help: "Workflow iterations by status.",
		}, []string{"workflow", "status"}),
		runTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "billcache_workflow_run_total",
			Help: "Workflow runs by final state.",
		}, []string{"workflow", "state"}),
		runIterations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "billcache_workflow_run_iterations",
			Help:    "Number of iterations a workflow run needed.",
			Buckets: []float64{1, 2, 3, 5, 10, 20, 50, 100},
		}, []string{"workflow"}),
		operationDurSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "billcache_operation_duration_seconds",
			Help:    "Duration of named operations.",
			Buckets: durationBuckets,
		}, []string{"operation"}),
	}

	registry.MustRegister(
		r.refreshTotal,
		r.refreshDurationSeconds,
		r.queryDurationSeconds,
		r.processingDurationSeconds,
		r.coalescedTotal,
		r.upstreamRetryTotal,
		r.cacheGeneration,
		r.cacheRefreshedAt,
		r.cacheRecordCount,
		r.iterationTotal,
		r.runTotal,
		r.runIterations,
		r.operationDurSeconds,
	)

	return r
}

// GetRegistry returns the Prometheus registry.
func (r *PrometheusRecorder) GetRegistry() *prometheus.Registry {
	return r.registry
}

// RecordRefresh records a finished refresh.
func (r *PrometheusRecorder) RecordRefresh(ctx context.Context, obs metrics.RefreshObservation) {
	r.refreshTotal.WithLabelValues(obs.DatasetKey, obs.Outcome).Inc()
	r.refreshDurationSeconds.WithLabelValues(obs.DatasetKey, obs.Outcome).Observe(obs.TotalDuration.Seconds())
	if obs.Outcome == metrics.OutcomeSucceeded {
		r.queryDurationSeconds.WithLabelValues(obs.DatasetKey).Observe(obs.QueryDuration.Seconds())
		r.processingDurationSeconds.WithLabelValues(obs.DatasetKey).Observe(obs.ProcessingDuration.Seconds())
	}
	logger.Debugf("Metrics: refresh of '%s' ended (%s) in %.3fs after %d attempt(s).",
		obs.DatasetKey, obs.Outcome, obs.TotalDuration.Seconds(), obs.Attempts)
}

// RecordCoalesced records a coalesced trigger or skipped tick.
func (r *PrometheusRecorder) RecordCoalesced(ctx context.Context, datasetKey string, source string) {
	r.coalescedTotal.WithLabelValues(datasetKey, source).Inc()
}

// RecordPublish updates the cache gauges for the published snapshot.
func (r *PrometheusRecorder) RecordPublish(ctx context.Context, snap *model.Snapshot) {
	r.cacheGeneration.WithLabelValues(snap.DatasetKey).Set(float64(snap.Generation))
	r.cacheRefreshedAt.WithLabelValues(snap.DatasetKey).Set(float64(snap.RefreshedAt.UnixNano()) / float64(time.Second))
	if snap.Payload != nil {
		r.cacheRecordCount.WithLabelValues(snap.DatasetKey).Set(float64(len(snap.Payload.Records)))
	}
}

// RecordUpstreamRetry counts an upstream retry.
func (r *PrometheusRecorder) RecordUpstreamRetry(ctx context.Context, datasetKey string, reason string) {
	r.upstreamRetryTotal.WithLabelValues(datasetKey, reason).Inc()
}

// RecordIteration counts a workflow iteration row.
func (r *PrometheusRecorder) RecordIteration(ctx context.Context, run *model.BatchRun) {
	r.iterationTotal.WithLabelValues(run.WorkflowCode, run.Status.String()).Inc()
}

// RecordWorkflowRun counts a finished workflow run.
func (r *PrometheusRecorder) RecordWorkflowRun(ctx context.Context, result *model.RunResult) {
	r.runTotal.WithLabelValues(result.WorkflowCode, string(result.State)).Inc()
	r.runIterations.WithLabelValues(result.WorkflowCode).Observe(float64(result.Iterations))
	logger.Debugf("Metrics: workflow '%s' run %s ended in state %s after %d iteration(s).",
		result.WorkflowCode, result.RunID, result.State, result.Iterations)
}

// RecordDuration records the duration of a named operation. Tags are not used as labels
// to keep label cardinality fixed.
func (r *PrometheusRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
	r.operationDurSeconds.WithLabelValues(name).Observe(duration.Seconds())
}

var _ metrics.MetricRecorder = (*PrometheusRecorder)(nil)
