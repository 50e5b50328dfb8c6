// Package refresh runs one dataset refresh end to end: compute from upstream, then publish.
package refresh

import (
	"context"
	"errors"
	"time"

	port "github.com/tigerroll/billcache/pkg/batch/core/application/port"
	"github.com/tigerroll/billcache/pkg/batch/core/cache"
	model "github.com/tigerroll/billcache/pkg/batch/core/domain/model"
	metrics "github.com/tigerroll/billcache/pkg/batch/core/metrics"
	"github.com/tigerroll/billcache/pkg/batch/support/util/exception"
	"github.com/tigerroll/billcache/pkg/batch/support/util/logger"
)

// Computer is the part of the summary computer the service depends on.
type Computer interface {
	Compute(ctx context.Context, datasetKey string, params model.SummaryParameters) (*model.SummaryPayload, error)
}

// Service implements port.Refresher.
type Service struct {
	computer Computer
	store    *cache.Store
	recorder metrics.MetricRecorder
	tracer   metrics.Tracer
	loc      *time.Location
	now      func() time.Time
}

// NewService creates a refresh Service. Month boundaries are computed in loc.
func NewService(computer Computer, store *cache.Store, recorder metrics.MetricRecorder, tracer metrics.Tracer, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		computer: computer,
		store:    store,
		recorder: recorder,
		tracer:   tracer,
		loc:      loc,
		now:      time.Now,
	}
}

// Refresh implements port.Refresher.
// The generation is reserved before computing, so a slow refresh that finishes after a newer
// one is rejected by the store as stale instead of overwriting it.
func (s *Service) Refresh(ctx context.Context, datasetKey string) (*model.Snapshot, error) {
	ctx, end := s.tracer.StartRefreshSpan(ctx, datasetKey)
	defer end()

	start := time.Now()
	generation, err := s.store.NextGeneration(datasetKey)
	if err != nil {
		return nil, err
	}
	params := model.NewSummaryParameters(s.now(), s.loc)

	logger.Infof("Refresh: '%s' generation %d started (month start %s).", datasetKey, generation, params.CurrentMonthStart.Format("2006-01-02"))
	var snap *model.Snapshot
	payload, err := s.computer.Compute(ctx, datasetKey, params)
	if err == nil {
		snap, err = s.store.Publish(ctx, datasetKey, generation, payload, time.Since(start))
	}

	obs := metrics.RefreshObservation{DatasetKey: datasetKey, TotalDuration: time.Since(start)}
	if err != nil {
		obs.Outcome = metrics.OutcomeFailed
		if errors.Is(err, exception.ErrStaleGeneration) {
			obs.Outcome = metrics.OutcomeRejected
		} else {
			s.store.MarkFailed(datasetKey, generation, err)
		}
		s.recorder.RecordRefresh(ctx, obs)
		s.tracer.RecordError(ctx, "refresh", err)
		s.logKeptSnapshot(datasetKey, generation, err)
		return nil, err
	}

	obs.Outcome = metrics.OutcomeSucceeded
	obs.QueryDuration = payload.QueryDuration
	obs.ProcessingDuration = payload.ProcessingDuration
	s.recorder.RecordRefresh(ctx, obs)
	return snap, nil
}

func (s *Service) logKeptSnapshot(datasetKey string, generation uint64, cause error) {
	prev, err := s.store.Snapshot(datasetKey)
	if err != nil {
		logger.Errorf("Refresh: '%s' generation %d failed and no snapshot is available: %v", datasetKey, generation, cause)
		return
	}
	logger.Errorf("Refresh: '%s' generation %d failed; serving generation %d (stale for %s): %v",
		datasetKey, generation, prev.Generation, prev.Age(s.now()).Round(time.Second), cause)
}

var _ port.Refresher = (*Service)(nil)
