// Package sql implements the persistence ports on top of the GORM database adapter.
package sql

import (
	"context"
	"fmt"
	"time"

	"github.com/tigerroll/billcache/pkg/batch/adapter/database"
	coreAdapter "github.com/tigerroll/billcache/pkg/batch/core/adapter"
	model "github.com/tigerroll/billcache/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/billcache/pkg/batch/core/domain/repository"
	"github.com/tigerroll/billcache/pkg/batch/support/util/exception"
	"github.com/tigerroll/billcache/pkg/batch/support/util/logger"
)

// connectionSource resolves the named DB connection on every call so a reconnect
// by the provider is picked up.
type connectionSource struct {
	dbResolver coreAdapter.ResourceConnectionResolver
	dbName     string
}

func (s connectionSource) getDBConnection(ctx context.Context, op string) (database.DBConnection, error) {
	connAsResource, err := s.dbResolver.ResolveConnection(ctx, s.dbName)
	if err != nil {
		return nil, exception.NewBatchError(op, fmt.Sprintf("Failed to resolve DB connection '%s'", s.dbName), err, true)
	}
	conn, ok := connAsResource.(database.DBConnection)
	if !ok {
		return nil, exception.NewBatchErrorf(op, "Resolved connection '%s' is not a database.DBConnection", s.dbName)
	}
	return conn, nil
}

// --- BatchRunRepository ---

// SQLBatchRunRepository implements repository.BatchRunRepository on the batch_log table.
type SQLBatchRunRepository struct {
	connectionSource
}

// NewSQLBatchRunRepository creates a batch log repository on the named connection.
func NewSQLBatchRunRepository(dbResolver coreAdapter.ResourceConnectionResolver, dbName string) *SQLBatchRunRepository {
	return &SQLBatchRunRepository{connectionSource{dbResolver: dbResolver, dbName: dbName}}
}

// AppendRun implements repository.BatchRunRepository. The generated row id is written back to run.ID.
func (r *SQLBatchRunRepository) AppendRun(ctx context.Context, run *model.BatchRun) error {
	const op = "SQLBatchRunRepository.AppendRun"
	conn, err := r.getDBConnection(ctx, op)
	if err != nil {
		return err
	}
	entity := fromDomainBatchRun(run)
	entity.ID = 0
	if _, err := conn.ExecuteUpdate(ctx, entity, "CREATE", entity.TableName(), nil); err != nil {
		return exception.NewBatchError(op, fmt.Sprintf("failed to append batch log row (workflow: %s, run: %s, iteration: %d)", run.WorkflowCode, run.RunID, run.Iteration), err, true)
	}
	run.ID = entity.ID
	return nil
}

// FindRuns implements repository.BatchRunRepository.
func (r *SQLBatchRunRepository) FindRuns(ctx context.Context, code string, from, to time.Time) ([]model.BatchRun, error) {
	const op = "SQLBatchRunRepository.FindRuns"
	return r.query(ctx, op, "workflow_code = ? AND started_at >= ? AND started_at < ?", []interface{}{code, from, to}, "started_at ASC, id ASC", 0)
}

// LastRuns implements repository.BatchRunRepository.
func (r *SQLBatchRunRepository) LastRuns(ctx context.Context, code string, n int) ([]model.BatchRun, error) {
	const op = "SQLBatchRunRepository.LastRuns"
	if n <= 0 {
		return nil, nil
	}
	return r.query(ctx, op, "workflow_code = ?", []interface{}{code}, "started_at DESC, id DESC", n)
}

func (r *SQLBatchRunRepository) query(ctx context.Context, op, where string, args []interface{}, orderBy string, limit int) ([]model.BatchRun, error) {
	conn, err := r.getDBConnection(ctx, op)
	if err != nil {
		return nil, err
	}
	var entities []BatchLogEntity
	if err := conn.ExecuteQueryAdvanced(ctx, &entities, where, args, orderBy, limit); err != nil {
		if conn.IsTableNotExistError(err) {
			logger.Warnf("%s: batch_log does not exist yet; returning no rows.", op)
			return nil, nil
		}
		return nil, exception.NewBatchError(op, "failed to query batch log", err, true)
	}
	runs := make([]model.BatchRun, len(entities))
	for i := range entities {
		runs[i] = toDomainBatchRun(&entities[i])
	}
	return runs, nil
}

var _ repository.BatchRunRepository = (*SQLBatchRunRepository)(nil)

// --- WorkflowConfigRepository ---

// SQLWorkflowConfigRepository implements repository.WorkflowConfigRepository on batch_workflow_config.
type SQLWorkflowConfigRepository struct {
	connectionSource
}

// NewSQLWorkflowConfigRepository creates a workflow config repository on the named connection.
func NewSQLWorkflowConfigRepository(dbResolver coreAdapter.ResourceConnectionResolver, dbName string) *SQLWorkflowConfigRepository {
	return &SQLWorkflowConfigRepository{connectionSource{dbResolver: dbResolver, dbName: dbName}}
}

// FindWorkflow implements repository.WorkflowConfigRepository.
func (r *SQLWorkflowConfigRepository) FindWorkflow(ctx context.Context, code string) (*model.BatchWorkflowConfig, error) {
	const op = "SQLWorkflowConfigRepository.FindWorkflow"
	conn, err := r.getDBConnection(ctx, op)
	if err != nil {
		return nil, err
	}
	var entities []WorkflowConfigEntity
	if err := conn.ExecuteQuery(ctx, &entities, map[string]interface{}{"code": code}); err != nil {
		return nil, exception.NewBatchError(op, fmt.Sprintf("failed to find workflow '%s'", code), err, true)
	}
	if len(entities) == 0 {
		return nil, exception.NewBatchError(op, fmt.Sprintf("workflow '%s'", code), exception.ErrWorkflowNotFound, false)
	}
	cfg := toDomainWorkflowConfig(&entities[0])
	return &cfg, nil
}

// ListWorkflows implements repository.WorkflowConfigRepository.
func (r *SQLWorkflowConfigRepository) ListWorkflows(ctx context.Context) ([]model.BatchWorkflowConfig, error) {
	const op = "SQLWorkflowConfigRepository.ListWorkflows"
	conn, err := r.getDBConnection(ctx, op)
	if err != nil {
		return nil, err
	}
	var entities []WorkflowConfigEntity
	if err := conn.ExecuteQueryAdvanced(ctx, &entities, "", nil, "sort_order ASC, code ASC", 0); err != nil {
		return nil, exception.NewBatchError(op, "failed to list workflows", err, true)
	}
	configs := make([]model.BatchWorkflowConfig, len(entities))
	for i := range entities {
		configs[i] = toDomainWorkflowConfig(&entities[i])
	}
	return configs, nil
}

var workflowUpdateColumns = []string{"name", "description", "repeat_policy", "max_iterations", "enabled", "sort_order", "updated_at"}

// SaveWorkflow implements repository.WorkflowConfigRepository.
func (r *SQLWorkflowConfigRepository) SaveWorkflow(ctx context.Context, cfg model.BatchWorkflowConfig) error {
	return r.upsert(ctx, "SQLWorkflowConfigRepository.SaveWorkflow", cfg, workflowUpdateColumns)
}

// SeedWorkflow implements repository.WorkflowConfigRepository.
func (r *SQLWorkflowConfigRepository) SeedWorkflow(ctx context.Context, cfg model.BatchWorkflowConfig) error {
	return r.upsert(ctx, "SQLWorkflowConfigRepository.SeedWorkflow", cfg, nil)
}

func (r *SQLWorkflowConfigRepository) upsert(ctx context.Context, op string, cfg model.BatchWorkflowConfig, updateColumns []string) error {
	if err := cfg.Validate(); err != nil {
		return exception.NewBatchError(op, "invalid workflow config", err, false)
	}
	conn, err := r.getDBConnection(ctx, op)
	if err != nil {
		return err
	}
	if cfg.UpdatedAt.IsZero() {
		cfg.UpdatedAt = time.Now()
	}
	entity := fromDomainWorkflowConfig(cfg)
	if _, err := conn.ExecuteUpsert(ctx, entity, entity.TableName(), []string{"code"}, updateColumns); err != nil {
		return exception.NewBatchError(op, fmt.Sprintf("failed to write workflow '%s'", cfg.Code), err, true)
	}
	return nil
}

var _ repository.WorkflowConfigRepository = (*SQLWorkflowConfigRepository)(nil)

// --- SummaryRepository ---

// SQLSummaryRepository implements repository.SummaryRepository on the cache tables.
type SQLSummaryRepository struct {
	connectionSource
	now func() time.Time
}

// NewSQLSummaryRepository creates a summary repository on the named connection.
func NewSQLSummaryRepository(dbResolver coreAdapter.ResourceConnectionResolver, dbName string) *SQLSummaryRepository {
	return &SQLSummaryRepository{
		connectionSource: connectionSource{dbResolver: dbResolver, dbName: dbName},
		now:              time.Now,
	}
}

// ReplaceSnapshot implements repository.SummaryRepository. Every row of the dataset's table
// is deleted and the snapshot's rows inserted in the same transaction as the metadata upsert.
func (r *SQLSummaryRepository) ReplaceSnapshot(ctx context.Context, snap *model.Snapshot) error {
	const op = "SQLSummaryRepository.ReplaceSnapshot"
	if snap == nil || snap.Payload == nil {
		return exception.NewBatchErrorf(op, "snapshot has no payload")
	}

	var (
		emptyModel interface{}
		rows       interface{}
		rowCount   int
	)
	switch snap.DatasetKey {
	case model.DatasetNocsBalanceSummary:
		converted, err := balanceRows(snap)
		if err != nil {
			return exception.NewComputationError(op, "cannot persist snapshot", err)
		}
		emptyModel, rows, rowCount = &NocsBalanceSummaryEntity{}, &converted, len(converted)
	case model.DatasetBillStopAnalysis:
		converted, err := analysisRows(snap)
		if err != nil {
			return exception.NewComputationError(op, "cannot persist snapshot", err)
		}
		emptyModel, rows, rowCount = &BillStopAnalysisEntity{}, &converted, len(converted)
	default:
		return exception.NewBatchError(op, fmt.Sprintf("no cache table for dataset '%s'", snap.DatasetKey), exception.ErrDatasetNotFound, false)
	}

	conn, err := r.getDBConnection(ctx, op)
	if err != nil {
		return err
	}
	meta := fromDomainSnapshotMeta(snap, r.now())

	err = conn.Transaction(ctx, func(tx database.DBExecutor) error {
		if _, err := tx.ExecuteUpdate(ctx, emptyModel, "DELETE", "", nil); err != nil {
			return fmt.Errorf("delete previous rows: %w", err)
		}
		if rowCount > 0 {
			if _, err := tx.ExecuteUpdate(ctx, rows, "CREATE", "", nil); err != nil {
				return fmt.Errorf("insert %d rows: %w", rowCount, err)
			}
		}
		if _, err := tx.ExecuteUpsert(ctx, meta, meta.TableName(), []string{"dataset_key"},
			[]string{"generation", "record_count", "current_month_start", "as_of", "query_duration_ms",
				"processing_duration_ms", "refresh_duration_ms", "refreshed_at", "updated_at"}); err != nil {
			return fmt.Errorf("upsert dataset metadata: %w", err)
		}
		return nil
	})
	if err != nil {
		return exception.NewBatchError(op, fmt.Sprintf("failed to persist %s generation %d", snap.DatasetKey, snap.Generation), err, true)
	}
	logger.Debugf("%s: persisted %s generation %d (%d rows).", op, snap.DatasetKey, snap.Generation, rowCount)
	return nil
}

var _ repository.SummaryRepository = (*SQLSummaryRepository)(nil)
