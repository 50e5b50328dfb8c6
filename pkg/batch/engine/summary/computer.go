// Package summary computes dataset summaries from upstream query results.
package summary

import (
	"context"
	"fmt"
	"time"

	config "github.com/tigerroll/billcache/pkg/batch/core/config"
	model "github.com/tigerroll/billcache/pkg/batch/core/domain/model"
	metrics "github.com/tigerroll/billcache/pkg/batch/core/metrics"
	"github.com/tigerroll/billcache/pkg/batch/core/ports"
	"github.com/tigerroll/billcache/pkg/batch/engine/step/retry"
	"github.com/tigerroll/billcache/pkg/batch/support/util/exception"
	"github.com/tigerroll/billcache/pkg/batch/support/util/logger"
)

const module = "summary"

// Computer runs a dataset's upstream queries and aggregates the result.
type Computer struct {
	source      ports.UpstreamSource
	cfg         *config.Config
	aggregators map[string]Aggregator
	policy      retry.RetryPolicy
	timeout     time.Duration
	recorder    metrics.MetricRecorder
	tracer      metrics.Tracer
	now         func() time.Time
}

// NewComputer creates a Computer.
//
// Parameters:
//
//	source: The upstream source queries are run against.
//	cfg: Dataset declarations and the upstream timeout.
//	policy: Retry policy applied to each upstream query.
//	recorder: Receives retry counts.
//	tracer: Wraps computations in spans.
//	aggregators: The available aggregations, looked up by Name.
func NewComputer(source ports.UpstreamSource, cfg *config.Config, policy retry.RetryPolicy, recorder metrics.MetricRecorder, tracer metrics.Tracer, aggregators ...Aggregator) *Computer {
	byName := make(map[string]Aggregator, len(aggregators))
	for _, a := range aggregators {
		byName[a.Name()] = a
	}
	return &Computer{
		source:      source,
		cfg:         cfg,
		aggregators: byName,
		policy:      policy,
		timeout:     time.Duration(cfg.BillCache.Batch.UpstreamTimeoutSeconds) * time.Second,
		recorder:    recorder,
		tracer:      tracer,
		now:         time.Now,
	}
}

// Compute builds the complete payload for datasetKey.
// It either returns a payload that satisfies every record invariant or an error; a partial
// payload is never returned.
//
// Errors match exception.ErrDatasetNotFound for unknown keys, exception.ErrUpstreamUnavailable
// when the upstream stayed unreachable after all retries, and exception.ErrComputation when
// rows could not be aggregated into a valid payload.
func (c *Computer) Compute(ctx context.Context, datasetKey string, params model.SummaryParameters) (*model.SummaryPayload, error) {
	ds, ok := c.cfg.Dataset(datasetKey)
	if !ok {
		return nil, exception.NewBatchError(module, fmt.Sprintf("dataset '%s' is not configured", datasetKey), exception.ErrDatasetNotFound, false)
	}
	aggName := ds.Aggregator
	if aggName == "" {
		aggName = ds.Key
	}
	agg, ok := c.aggregators[aggName]
	if !ok {
		return nil, exception.NewBatchError(module, fmt.Sprintf("no aggregator '%s' for dataset '%s'", aggName, datasetKey), exception.ErrDatasetNotFound, false)
	}

	ctx, end := c.tracer.StartSpan(ctx, "billcache.summary.compute", map[string]interface{}{"dataset": datasetKey})
	defer end()

	queryParams := map[string]interface{}{
		"current_month_start": params.CurrentMonthStart,
		"as_of":               params.AsOf,
	}

	var rows []ports.Row
	queryStart := time.Now()
	for _, queryID := range ds.Queries {
		_, err := retry.Do(ctx, c.policy, func(attempt int, err error, wait time.Duration) {
			c.recorder.RecordUpstreamRetry(ctx, datasetKey, exception.ExtractErrorMessage(err))
			c.tracer.RecordEvent(ctx, "upstream_retry", map[string]interface{}{
				"query_id": queryID, "attempt": attempt, "wait_ms": wait.Milliseconds(),
			})
		}, func(ctx context.Context, attempt int) error {
			result, err := c.source.RunQuery(ctx, queryID, queryParams, c.timeout)
			if err != nil {
				return err
			}
			rows = append(rows, result...)
			return nil
		})
		if err != nil {
			c.tracer.RecordError(ctx, module, err)
			return nil, err
		}
	}
	queryDuration := time.Since(queryStart)

	processingStart := time.Now()
	records, err := agg.Aggregate(rows, params)
	if err != nil {
		return nil, exception.NewComputationError(module, fmt.Sprintf("aggregating '%s'", datasetKey), err)
	}
	payload := model.NewSummaryPayload(datasetKey, records, params)
	if err := payload.Validate(); err != nil {
		return nil, exception.NewComputationError(module, fmt.Sprintf("validating '%s'", datasetKey), err)
	}
	payload.QueryDuration = queryDuration
	payload.ProcessingDuration = time.Since(processingStart)
	payload.ComputedAt = c.now()

	logger.Infof("Summary: computed '%s' with %d record(s) from %d row(s) (query %s, processing %s).",
		datasetKey, len(payload.Records), len(rows), payload.QueryDuration, payload.ProcessingDuration)
	return payload, nil
}
