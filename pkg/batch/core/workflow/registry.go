// Package workflow holds the workflow registry and the executor that runs workflow steps
// through their state machine.
package workflow

import (
	"context"
	"fmt"

	config "github.com/tigerroll/billcache/pkg/batch/core/config"
	model "github.com/tigerroll/billcache/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/billcache/pkg/batch/core/domain/repository"
	"github.com/tigerroll/billcache/pkg/batch/support/util/exception"
	"github.com/tigerroll/billcache/pkg/batch/support/util/logger"
)

// Registry is the read side of the administered workflow configuration.
// Every call returns copies, so callers may keep them while admins edit the source.
type Registry struct {
	repo repository.WorkflowConfigRepository
}

// NewRegistry creates a Registry over repo.
func NewRegistry(repo repository.WorkflowConfigRepository) *Registry {
	return &Registry{repo: repo}
}

// Get returns the config for code, or an error matching exception.ErrWorkflowNotFound.
func (r *Registry) Get(ctx context.Context, code string) (model.BatchWorkflowConfig, error) {
	cfg, err := r.repo.FindWorkflow(ctx, code)
	if err != nil {
		return model.BatchWorkflowConfig{}, err
	}
	if cfg == nil {
		return model.BatchWorkflowConfig{}, exception.NewBatchError("workflow", fmt.Sprintf("workflow '%s' not found", code), exception.ErrWorkflowNotFound, false)
	}
	return *cfg, nil
}

// List returns every config ordered by sort order, then code.
func (r *Registry) List(ctx context.Context) ([]model.BatchWorkflowConfig, error) {
	configs, err := r.repo.ListWorkflows(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.BatchWorkflowConfig, len(configs))
	copy(out, configs)
	return out, nil
}

// Save stores cfg, replacing any config with the same code.
func (r *Registry) Save(ctx context.Context, cfg model.BatchWorkflowConfig) error {
	return r.repo.SaveWorkflow(ctx, cfg)
}

// Seed inserts the workflows declared in configuration that the store does not know yet.
// Configs already present are left untouched so administrative edits survive restarts.
func (r *Registry) Seed(ctx context.Context, declared []config.WorkflowConfig) error {
	for _, wc := range declared {
		cfg, err := ConfigFromDeclaration(wc)
		if err != nil {
			return err
		}
		if err := r.repo.SeedWorkflow(ctx, cfg); err != nil {
			return fmt.Errorf("seed workflow '%s': %w", wc.Code, err)
		}
		logger.Debugf("Workflow: seeded '%s' (%s, max %d).", cfg.Code, cfg.RepeatPolicy, cfg.MaxIterations)
	}
	return nil
}

// ConfigFromDeclaration converts a configuration entry into a validated BatchWorkflowConfig.
// A "once" step without max_iterations gets a bound of 1.
func ConfigFromDeclaration(wc config.WorkflowConfig) (model.BatchWorkflowConfig, error) {
	policy, err := model.ParseRepeatPolicy(wc.RepeatPolicy)
	if err != nil {
		return model.BatchWorkflowConfig{}, fmt.Errorf("workflow '%s': %w", wc.Code, err)
	}
	maxIterations := wc.MaxIterations
	if maxIterations == 0 && policy == model.RepeatOnce {
		maxIterations = 1
	}
	name := wc.Name
	if name == "" {
		name = wc.Code
	}
	cfg := model.BatchWorkflowConfig{
		Code:          wc.Code,
		Name:          name,
		Description:   wc.Description,
		RepeatPolicy:  policy,
		MaxIterations: maxIterations,
		Enabled:       wc.Enabled,
		SortOrder:     wc.SortOrder,
	}
	if err := cfg.Validate(); err != nil {
		return model.BatchWorkflowConfig{}, err
	}
	return cfg, nil
}
