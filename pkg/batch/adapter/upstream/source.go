// Package upstream implements the upstream source adapter: registered analytical queries run
// against a named database connection, rate limited and bounded by a timeout.
package upstream

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"golang.org/x/time/rate"

	"github.com/tigerroll/billcache/pkg/batch/adapter/database"
	config "github.com/tigerroll/billcache/pkg/batch/core/config"
	metrics "github.com/tigerroll/billcache/pkg/batch/core/metrics"
	"github.com/tigerroll/billcache/pkg/batch/core/ports"
	"github.com/tigerroll/billcache/pkg/batch/support/util/exception"
	"github.com/tigerroll/billcache/pkg/batch/support/util/logger"
)

const module = "upstream"

// SQLSource is a ports.UpstreamSource over a database connection.
type SQLSource struct {
	resolver database.DBConnectionResolver
	dbName   string
	queries  map[string]string
	limiter  *rate.Limiter
	recorder metrics.MetricRecorder
	tracer   metrics.Tracer
}

// NewSQLSource creates the source from the upstream configuration.
//
// Parameters:
//
//	resolver: Resolves dbName to a live connection on every query.
//	dbName: The connection name under billcache.database.
//	cfg: Query texts and rate limits.
//	recorder: Receives the duration of each query.
//	tracer: Wraps each query in a span.
func NewSQLSource(resolver database.DBConnectionResolver, dbName string, cfg config.UpstreamConfig, recorder metrics.MetricRecorder, tracer metrics.Tracer) *SQLSource {
	queries := make(map[string]string, len(cfg.Queries))
	for id, q := range cfg.Queries {
		queries[id] = q
	}
	limit := rate.Inf
	if cfg.RateLimitPerSecond > 0 {
		limit = rate.Limit(cfg.RateLimitPerSecond)
	}
	burst := cfg.RateLimitBurst
	if burst < 1 {
		burst = 1
	}
	return &SQLSource{
		resolver: resolver,
		dbName:   dbName,
		queries:  queries,
		limiter:  rate.NewLimiter(limit, burst),
		recorder: recorder,
		tracer:   tracer,
	}
}

// RunQuery implements ports.UpstreamSource.
func (s *SQLSource) RunQuery(ctx context.Context, queryID string, params map[string]interface{}, timeout time.Duration) ([]ports.Row, error) {
	query, ok := s.queries[queryID]
	if !ok {
		return nil, exception.NewBatchErrorf(module, "query '%s' is not registered under billcache.upstream.queries", queryID)
	}

	ctx, end := s.tracer.StartSpan(ctx, "billcache.upstream.query", map[string]interface{}{"query_id": queryID})
	defer end()

	if err := s.limiter.Wait(ctx); err != nil {
		// Wait fails immediately when the deadline would pass before a token is available.
		if ctx.Err() == nil || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, exception.NewUpstreamUnavailable(module, fmt.Sprintf("rate limit wait for '%s'", queryID), err)
		}
		return nil, ctx.Err()
	}

	qctx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		qctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	conn, err := s.resolver.ResolveDBConnection(qctx, s.dbName)
	if err != nil {
		return nil, s.classify(ctx, qctx, queryID, fmt.Errorf("resolve connection '%s': %w", s.dbName, err))
	}

	start := time.Now()
	var args []interface{}
	if len(params) > 0 {
		args = append(args, params)
	}
	raw, err := conn.QueryRows(qctx, query, args...)
	elapsed := time.Since(start)
	s.recorder.RecordDuration(ctx, "upstream_query", elapsed, map[string]string{"query_id": queryID})
	if err != nil {
		classified := s.classify(ctx, qctx, queryID, err)
		s.tracer.RecordError(ctx, module, classified)
		return nil, classified
	}

	logger.Debugf("Upstream: query '%s' returned %d row(s) in %s.", queryID, len(raw), elapsed)
	rows := make([]ports.Row, len(raw))
	for i, r := range raw {
		rows[i] = ports.Row(r)
	}
	return rows, nil
}

// classify maps a query error to the error taxonomy. Cancellation of the caller's context
// is passed through untouched so it is never retried.
func (s *SQLSource) classify(parent, qctx context.Context, queryID string, err error) error {
	if errors.Is(parent.Err(), context.Canceled) {
		return parent.Err()
	}
	if errors.Is(qctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return exception.NewUpstreamUnavailable(module, fmt.Sprintf("query '%s' timed out", queryID), err)
	}
	if isConnectivityError(err) {
		return exception.NewUpstreamUnavailable(module, fmt.Sprintf("query '%s' could not reach upstream", queryID), err)
	}
	return exception.NewBatchError(module, fmt.Sprintf("query '%s' failed", queryID), err, false)
}

func isConnectivityError(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysqldriver.ErrInvalidConn) {
		return true
	}
	var myErr *mysqldriver.MySQLError
	if errors.As(err, &myErr) {
		// Lock wait timeout, deadlock, too many connections.
		switch myErr.Number {
		case 1205, 1213, 1040:
			return true
		}
		return false
	}
	return exception.IsTemporary(err)
}

var _ ports.UpstreamSource = (*SQLSource)(nil)
