package summary

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tigerroll/billcache/pkg/batch/core/ports"
)

// Column accessors. Drivers hand back []byte, strings, integers or floats depending on the
// dialect and column type, so every accessor accepts all of them.

func column(row ports.Row, name string) (interface{}, error) {
	v, ok := row[name]
	if !ok {
		return nil, fmt.Errorf("column %q missing from upstream row", name)
	}
	return v, nil
}

func stringColumn(row ports.Row, name string) (string, error) {
	v, err := column(row, name)
	if err != nil {
		return "", err
	}
	switch val := v.(type) {
	case string:
		return val, nil
	case []byte:
		return string(val), nil
	case nil:
		return "", fmt.Errorf("column %q is NULL", name)
	default:
		return fmt.Sprint(val), nil
	}
}

func decimalColumn(row ports.Row, name string) (decimal.Decimal, error) {
	v, err := column(row, name)
	if err != nil {
		return decimal.Zero, err
	}
	if v == nil {
		return decimal.Zero, fmt.Errorf("column %q is NULL", name)
	}
	return toDecimal(name, v)
}

// nullableDecimalColumn reads NULL as zero.
func nullableDecimalColumn(row ports.Row, name string) (decimal.Decimal, error) {
	v, err := column(row, name)
	if err != nil {
		return decimal.Zero, err
	}
	if v == nil {
		return decimal.Zero, nil
	}
	return toDecimal(name, v)
}

func toDecimal(name string, v interface{}) (decimal.Decimal, error) {
	switch val := v.(type) {
	case decimal.Decimal:
		return val, nil
	case string:
		return parseDecimal(name, val)
	case []byte:
		return parseDecimal(name, string(val))
	case int64:
		return decimal.NewFromInt(val), nil
	case int32:
		return decimal.NewFromInt32(val), nil
	case int:
		return decimal.NewFromInt(int64(val)), nil
	case float64:
		return decimal.NewFromFloat(val), nil
	case float32:
		return decimal.NewFromFloat32(val), nil
	}
	return decimal.Zero, fmt.Errorf("column %q has unsupported type %T", name, v)
}

func parseDecimal(name, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("column %q: %w", name, err)
	}
	return d, nil
}

func boolColumn(row ports.Row, name string) (bool, error) {
	v, err := column(row, name)
	if err != nil {
		return false, err
	}
	switch val := v.(type) {
	case bool:
		return val, nil
	case int64:
		return val != 0, nil
	case int:
		return val != 0, nil
	case nil:
		return false, fmt.Errorf("column %q is NULL", name)
	case string:
		return strconv.ParseBool(strings.TrimSpace(val))
	case []byte:
		return strconv.ParseBool(strings.TrimSpace(string(val)))
	}
	return false, fmt.Errorf("column %q has unsupported type %T", name, v)
}

// monthColumn returns the column as YYYY-MM. Dates and timestamps are truncated to their month.
func monthColumn(row ports.Row, name string, loc *time.Location) (string, error) {
	v, err := column(row, name)
	if err != nil {
		return "", err
	}
	if t, ok := v.(time.Time); ok {
		return t.In(loc).Format("2006-01"), nil
	}
	s, err := stringColumn(row, name)
	if err != nil {
		return "", err
	}
	s = strings.TrimSpace(s)
	for _, layout := range []string{"2006-01", "2006-01-02", "2006-01-02 15:04:05", time.RFC3339} {
		if t, perr := time.ParseInLocation(layout, s, loc); perr == nil {
			return t.Format("2006-01"), nil
		}
	}
	return "", fmt.Errorf("column %q: %q is not a month", name, s)
}
