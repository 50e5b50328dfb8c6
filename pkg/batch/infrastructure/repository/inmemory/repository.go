// Package inmemory provides in-memory implementations of the persistence ports.
// They back tests and deployments that run without a cache database.
package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	model "github.com/tigerroll/billcache/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/billcache/pkg/batch/core/domain/repository"
	"github.com/tigerroll/billcache/pkg/batch/support/util/exception"
)

// BatchRunRepository keeps the batch log in a slice.
type BatchRunRepository struct {
	mu     sync.RWMutex
	runs   []model.BatchRun
	nextID int64
}

// NewBatchRunRepository creates an empty in-memory batch log.
func NewBatchRunRepository() *BatchRunRepository {
	return &BatchRunRepository{}
}

// AppendRun implements repository.BatchRunRepository.
func (r *BatchRunRepository) AppendRun(ctx context.Context, run *model.BatchRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	run.ID = r.nextID
	stored := *run
	if run.Remaining != nil {
		v := *run.Remaining
		stored.Remaining = &v
	}
	r.runs = append(r.runs, stored)
	return nil
}

// FindRuns implements repository.BatchRunRepository.
func (r *BatchRunRepository) FindRuns(ctx context.Context, code string, from, to time.Time) ([]model.BatchRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []model.BatchRun
	for _, run := range r.runs {
		if run.WorkflowCode == code && !run.StartedAt.Before(from) && run.StartedAt.Before(to) {
			out = append(out, run)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out, nil
}

// LastRuns implements repository.BatchRunRepository.
func (r *BatchRunRepository) LastRuns(ctx context.Context, code string, n int) ([]model.BatchRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []model.BatchRun
	for i := len(r.runs) - 1; i >= 0 && len(out) < n; i-- {
		if r.runs[i].WorkflowCode == code {
			out = append(out, r.runs[i])
		}
	}
	return out, nil
}

// All returns every stored row in insertion order.
func (r *BatchRunRepository) All() []model.BatchRun {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.BatchRun, len(r.runs))
	copy(out, r.runs)
	return out
}

var _ repository.BatchRunRepository = (*BatchRunRepository)(nil)

// WorkflowConfigRepository keeps workflow configs in a map.
type WorkflowConfigRepository struct {
	mu      sync.RWMutex
	configs map[string]model.BatchWorkflowConfig
}

// NewWorkflowConfigRepository creates a repository holding the given configs.
func NewWorkflowConfigRepository(configs ...model.BatchWorkflowConfig) *WorkflowConfigRepository {
	r := &WorkflowConfigRepository{configs: make(map[string]model.BatchWorkflowConfig, len(configs))}
	for _, c := range configs {
		r.configs[c.Code] = c
	}
	return r
}

// FindWorkflow implements repository.WorkflowConfigRepository.
func (r *WorkflowConfigRepository) FindWorkflow(ctx context.Context, code string) (*model.BatchWorkflowConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.configs[code]
	if !ok {
		return nil, fmt.Errorf("workflow '%s': %w", code, exception.ErrWorkflowNotFound)
	}
	return &c, nil
}

// ListWorkflows implements repository.WorkflowConfigRepository.
func (r *WorkflowConfigRepository) ListWorkflows(ctx context.Context) ([]model.BatchWorkflowConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.BatchWorkflowConfig, 0, len(r.configs))
	for _, c := range r.configs {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SortOrder != out[j].SortOrder {
			return out[i].SortOrder < out[j].SortOrder
		}
		return out[i].Code < out[j].Code
	})
	return out, nil
}

// SaveWorkflow implements repository.WorkflowConfigRepository.
func (r *WorkflowConfigRepository) SaveWorkflow(ctx context.Context, cfg model.BatchWorkflowConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[cfg.Code] = cfg
	return nil
}

// SeedWorkflow implements repository.WorkflowConfigRepository.
func (r *WorkflowConfigRepository) SeedWorkflow(ctx context.Context, cfg model.BatchWorkflowConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.configs[cfg.Code]; !exists {
		r.configs[cfg.Code] = cfg
	}
	return nil
}

var _ repository.WorkflowConfigRepository = (*WorkflowConfigRepository)(nil)

// SummaryRepository records the last snapshot replaced per dataset.
type SummaryRepository struct {
	mu        sync.RWMutex
	snapshots map[string]*model.Snapshot
	// FailWith, when set, is returned by ReplaceSnapshot instead of storing.
	FailWith error
}

// NewSummaryRepository creates an empty in-memory summary repository.
func NewSummaryRepository() *SummaryRepository {
	return &SummaryRepository{snapshots: make(map[string]*model.Snapshot)}
}

// ReplaceSnapshot implements repository.SummaryRepository.
func (r *SummaryRepository) ReplaceSnapshot(ctx context.Context, snap *model.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailWith != nil {
		return r.FailWith
	}
	r.snapshots[snap.DatasetKey] = snap
	return nil
}

// Stored returns the last snapshot persisted for datasetKey.
func (r *SummaryRepository) Stored(datasetKey string) (*model.Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.snapshots[datasetKey]
	return s, ok
}

var _ repository.SummaryRepository = (*SummaryRepository)(nil)
