package usecase

import (
	"context"
	"errors"
	"fmt"

	model "github.com/tigerroll/billcache/pkg/batch/core/domain/model"
	"github.com/tigerroll/billcache/pkg/batch/support/util/exception"
	"github.com/tigerroll/billcache/pkg/batch/support/util/logger"
)

// RefreshTrigger starts or joins the single-flight refresh of a dataset.
type RefreshTrigger interface {
	TriggerNow(ctx context.Context, datasetKey string, triggeredBy string) (*model.Snapshot, bool, error)
}

// WorkflowController runs workflows and reports their state.
type WorkflowController interface {
	Run(ctx context.Context, code string, triggeredBy string) (*model.RunResult, error)
	RunAll(ctx context.Context, triggeredBy string) ([]*model.RunResult, error)
	Status(ctx context.Context, code string, n int) (*model.WorkflowStatus, error)
}

// DefaultCacheOperator is the default implementation of CacheOperator.
type DefaultCacheOperator struct {
	trigger   RefreshTrigger
	workflows WorkflowController
}

// Verify that DefaultCacheOperator implements the CacheOperator interface.
var _ CacheOperator = (*DefaultCacheOperator)(nil)

// NewDefaultCacheOperator creates a new instance of DefaultCacheOperator.
func NewDefaultCacheOperator(trigger RefreshTrigger, workflows WorkflowController) *DefaultCacheOperator {
	return &DefaultCacheOperator{trigger: trigger, workflows: workflows}
}

// Refresh implements CacheOperator.
func (o *DefaultCacheOperator) Refresh(ctx context.Context, datasetKey string, triggeredBy string) (*model.Snapshot, bool, error) {
	if triggeredBy == "" {
		return nil, false, exception.NewBatchErrorf("cache_operator", "refresh of '%s' needs a triggeredBy", datasetKey)
	}
	logger.Infof("CacheOperator: refresh of '%s' requested by '%s'.", datasetKey, triggeredBy)
	snap, attached, err := o.trigger.TriggerNow(ctx, datasetKey, triggeredBy)
	if err != nil {
		return nil, attached, err
	}
	if attached {
		logger.Infof("CacheOperator: '%s' attached to the refresh already in flight (generation %d).", triggeredBy, snap.Generation)
	}
	return snap, attached, nil
}

// RunWorkflow implements CacheOperator.
func (o *DefaultCacheOperator) RunWorkflow(ctx context.Context, code string, triggeredBy string) (*model.RunResult, error) {
	if triggeredBy == "" {
		return nil, exception.NewBatchErrorf("cache_operator", "run of workflow '%s' needs a triggeredBy", code)
	}
	result, err := o.workflows.Run(ctx, code, triggeredBy)
	if err != nil {
		if errors.Is(err, exception.ErrConcurrentRunRejected) {
			logger.Infof("CacheOperator: workflow '%s' is already in progress; request by '%s' not started.", code, triggeredBy)
		}
		return nil, err
	}
	return result, nil
}

// RunAllWorkflows implements CacheOperator.
func (o *DefaultCacheOperator) RunAllWorkflows(ctx context.Context, triggeredBy string) ([]*model.RunResult, error) {
	results, err := o.workflows.RunAll(ctx, triggeredBy)
	if err != nil {
		return results, fmt.Errorf("run all workflows: %w", err)
	}
	return results, nil
}
