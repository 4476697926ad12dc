package postgres

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type scanner interface {
	Scan(dest ...interface{}) error
}

// naiveColumns flags the result columns whose values carry no zone.
func naiveColumns(types []*sql.ColumnType) []bool {
	naive := make([]bool, len(types))
	for i, ct := range types {
		switch ct.DatabaseTypeName() {
		case "TIMESTAMP", "DATE":
			naive[i] = true
		}
	}
	return naive
}

// scanCells scans one result row into table cells. naive marks the columns
// whose wall clock is read in loc instead of being converted to it.
// Compatible with both sql.Row (single) and sql.Rows (multiple).
func scanCells(row scanner, naive []bool, loc *time.Location) ([]interface{}, error) {
	n := len(naive)
	raw := make([]interface{}, n)
	dest := make([]interface{}, n)
	for i := range raw {
		dest[i] = &raw[i]
	}
	if err := row.Scan(dest...); err != nil {
		return nil, fmt.Errorf("failed to scan source row: %w", err)
	}
	for i, v := range raw {
		raw[i] = cellValue(v, naive[i], loc)
	}
	return raw, nil
}

// cellValue maps driver values onto table cells. lib/pq hands NUMERIC
// columns over as text bytes; those become exact decimals. TIMESTAMP and
// DATE values arrive pinned to UTC and keep their wall clock in loc.
func cellValue(v interface{}, naive bool, loc *time.Location) interface{} {
	switch val := v.(type) {
	case []byte:
		if d, err := decimal.NewFromString(string(val)); err == nil {
			return d
		}
		return string(val)
	case time.Time:
		if naive {
			return time.Date(val.Year(), val.Month(), val.Day(),
				val.Hour(), val.Minute(), val.Second(), val.Nanosecond(), loc)
		}
		return val.In(loc)
	default:
		return val
	}
}
