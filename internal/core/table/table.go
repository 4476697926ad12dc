package table

import (
	"fmt"
	"time"

	stackerr "github.com/aevon-lab/timestack/internal/core/errors"
	"github.com/shopspring/decimal"
)

// Kind is the inferred type of a column.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindDecimal
	KindTime
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindDecimal:
		return "decimal"
	case KindTime:
		return "time"
	case KindString:
		return "string"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Numeric reports whether cells of this kind can feed a numeric reducer.
func (k Kind) Numeric() bool {
	return k == KindInt || k == KindFloat || k == KindDecimal
}

// Table is the read-only tabular store consumed by the time stacker.
// Row ids are dense and ordered; Rows returns them in source order.
type Table interface {
	Headers() []string
	ColumnID(header string) (int, bool)
	Kind(col int) Kind
	Rows() []int
	Cell(row, col int) (interface{}, bool)
}

// Column is an ordered row -> value mapping. Null cells are omitted.
type Column[T any] struct {
	Rows   []int
	Values []T
}

// Len returns the number of non-null cells.
func (c Column[T]) Len() int { return len(c.Rows) }

// Typed reads col as values of type T. Every non-null cell must hold a T,
// otherwise ErrTypeMismatch is returned.
func Typed[T any](t Table, col int) (Column[T], error) {
	var out Column[T]
	headers := t.Headers()
	if col < 0 || col >= len(headers) {
		return out, fmt.Errorf("column %d out of range", col)
	}
	for _, row := range t.Rows() {
		v, ok := t.Cell(row, col)
		if !ok {
			continue
		}
		typed, ok := v.(T)
		if !ok {
			var zero T
			return Column[T]{}, fmt.Errorf("%w: column %q holds %s, requested %T",
				stackerr.ErrTypeMismatch, headers[col], t.Kind(col), zero)
		}
		out.Rows = append(out.Rows, row)
		out.Values = append(out.Values, typed)
	}
	return out, nil
}

// MemTable is an in-memory, row-major Table.
type MemTable struct {
	headers []string
	index   map[string]int
	kinds   []Kind
	rows    [][]interface{}
}

func (m *MemTable) Headers() []string { return append([]string(nil), m.headers...) }

func (m *MemTable) ColumnID(header string) (int, bool) {
	col, ok := m.index[header]
	return col, ok
}

func (m *MemTable) Kind(col int) Kind {
	if col < 0 || col >= len(m.kinds) {
		return KindNull
	}
	return m.kinds[col]
}

func (m *MemTable) Rows() []int {
	ids := make([]int, len(m.rows))
	for i := range ids {
		ids[i] = i
	}
	return ids
}

// RowCount returns the number of rows.
func (m *MemTable) RowCount() int { return len(m.rows) }

func (m *MemTable) Cell(row, col int) (interface{}, bool) {
	if row < 0 || row >= len(m.rows) || col < 0 || col >= len(m.headers) {
		return nil, false
	}
	v := m.rows[row][col]
	return v, v != nil
}

// Get returns the cell at row under header, nil when absent.
func (m *MemTable) Get(row int, header string) interface{} {
	col, ok := m.index[header]
	if !ok {
		return nil
	}
	v, _ := m.Cell(row, col)
	return v
}

// Builder appends rows to a new MemTable, inferring column kinds as it goes.
type Builder struct {
	t *MemTable
}

// NewBuilder creates a builder for the given headers. Headers must be unique.
func NewBuilder(headers ...string) (*Builder, error) {
	t := &MemTable{
		headers: append([]string(nil), headers...),
		index:   make(map[string]int, len(headers)),
		kinds:   make([]Kind, len(headers)),
	}
	for i, h := range headers {
		if _, exists := t.index[h]; exists {
			return nil, stackerr.NewConfigurationError(h, "duplicate header")
		}
		t.index[h] = i
	}
	return &Builder{t: t}, nil
}

// AppendRow adds one row. values must match the header count; nil is a null cell.
func (b *Builder) AppendRow(values ...interface{}) error {
	if len(values) != len(b.t.headers) {
		return fmt.Errorf("row has %d values, table has %d columns", len(values), len(b.t.headers))
	}
	row := make([]interface{}, len(values))
	for i, v := range values {
		cell, kind := normalize(v)
		row[i] = cell
		b.t.kinds[i] = mergeKind(b.t.kinds[i], kind)
	}
	b.t.rows = append(b.t.rows, row)
	return nil
}

// Table returns the built table. The builder must not be used afterwards.
func (b *Builder) Table() *MemTable { return b.t }

// normalize maps Go values onto the canonical cell types:
// bool, int64, float64, decimal.Decimal, time.Time, string.
func normalize(v interface{}) (interface{}, Kind) {
	switch val := v.(type) {
	case nil:
		return nil, KindNull
	case bool:
		return val, KindBool
	case int:
		return int64(val), KindInt
	case int32:
		return int64(val), KindInt
	case int64:
		return val, KindInt
	case float32:
		return float64(val), KindFloat
	case float64:
		return val, KindFloat
	case decimal.Decimal:
		return val, KindDecimal
	case time.Time:
		return val, KindTime
	case string:
		if val == "" {
			return nil, KindNull
		}
		return val, KindString
	case fmt.Stringer:
		return val.String(), KindString
	default:
		return fmt.Sprint(val), KindString
	}
}

func mergeKind(current, incoming Kind) Kind {
	switch {
	case incoming == KindNull:
		return current
	case current == KindNull || current == incoming:
		return incoming
	case current.Numeric() && incoming.Numeric():
		if current == KindDecimal || incoming == KindDecimal {
			return KindDecimal
		}
		return KindFloat
	default:
		return KindString
	}
}
