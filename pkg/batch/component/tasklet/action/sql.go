package action

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/tigerroll/billcache/pkg/batch/adapter/database"
	port "github.com/tigerroll/billcache/pkg/batch/core/application/port"
	"github.com/tigerroll/billcache/pkg/batch/support/util/exception"
	"github.com/tigerroll/billcache/pkg/batch/support/util/logger"
)

const sqlTaskletName = "sql_action_tasklet"

// SQLTasklet runs an action statement, then a count query whose first column of the first
// row is the number of items still remaining. Without a count query no count is reported.
type SQLTasklet struct {
	resolver    database.DBConnectionResolver
	dbRef       string
	actionQuery string
	countQuery  string
}

// NewSQLTasklet creates a SQLTasklet.
//
// Parameters:
//
//	resolver: Resolves dbRef to a connection on every iteration.
//	dbRef: The connection name the statements run against.
//	actionQuery: Statement executed once per iteration. May be empty.
//	countQuery: Query returning the remaining count. May be empty.
//
// Returns:
//
//	A new SQLTasklet.
func NewSQLTasklet(resolver database.DBConnectionResolver, dbRef, actionQuery, countQuery string) *SQLTasklet {
	return &SQLTasklet{resolver: resolver, dbRef: dbRef, actionQuery: actionQuery, countQuery: countQuery}
}

// Execute implements port.Tasklet.
func (t *SQLTasklet) Execute(ctx context.Context, iteration int) (port.StepResult, error) {
	conn, err := t.resolver.ResolveDBConnection(ctx, t.dbRef)
	if err != nil {
		return port.StepResult{}, exception.NewBatchError(sqlTaskletName, fmt.Sprintf("failed to resolve connection '%s'", t.dbRef), err, true)
	}

	var affected int64
	if t.actionQuery != "" {
		affected, err = conn.ExecuteRaw(ctx, t.actionQuery)
		if err != nil {
			return port.StepResult{}, exception.NewBatchError(sqlTaskletName, "action query failed", err, false)
		}
	}
	res := port.StepResult{Detail: fmt.Sprintf("%d row(s) affected", affected)}
	if t.countQuery == "" {
		return res, nil
	}

	rows, err := conn.QueryRows(ctx, t.countQuery)
	if err != nil {
		return port.StepResult{}, exception.NewBatchError(sqlTaskletName, "count query failed", err, false)
	}
	remaining, err := firstCount(rows)
	if err != nil {
		return port.StepResult{}, exception.NewBatchError(sqlTaskletName, "count query returned no usable count", err, false)
	}
	logger.Debugf("SQL action on '%s', iteration %d: %d affected, %d remaining.", t.dbRef, iteration, affected, remaining)
	res.Remaining = &remaining
	return res, nil
}

// firstCount reads the first column of the first row as an integer. Drivers return counts
// as int64, []byte or decimal strings depending on the dialect.
func firstCount(rows []database.Row) (int64, error) {
	if len(rows) == 0 {
		return 0, fmt.Errorf("no rows")
	}
	if len(rows[0]) != 1 {
		return 0, fmt.Errorf("expected exactly one column, got %d", len(rows[0]))
	}
	for _, v := range rows[0] {
		return toInt64(v)
	}
	return 0, fmt.Errorf("no columns")
}

func toInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case uint64:
		if n > math.MaxInt64 {
			return 0, fmt.Errorf("count %d overflows int64", n)
		}
		return int64(n), nil
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) || n >= math.MaxInt64 || n < math.MinInt64 {
			return 0, fmt.Errorf("count %v is not a whole number", n)
		}
		return int64(n), nil
	case []byte:
		return parseCount(string(n))
	case string:
		return parseCount(n)
	case nil:
		return 0, fmt.Errorf("count is NULL")
	}
	return 0, fmt.Errorf("unsupported count type %T", v)
}

func parseCount(s string) (int64, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("count %q is not a number", s)
	}
	if !d.IsInteger() {
		return 0, fmt.Errorf("count %q is not a whole number", s)
	}
	if !d.BigInt().IsInt64() {
		return 0, fmt.Errorf("count %q overflows int64", s)
	}
	return d.IntPart(), nil
}

var _ port.Tasklet = (*SQLTasklet)(nil)
