package aggregation

import (
	"fmt"
	"sort"

	stackerr "github.com/aevon-lab/timestack/internal/core/errors"
	"github.com/aevon-lab/timestack/internal/core/span"
	"github.com/aevon-lab/timestack/internal/core/table"
	"github.com/shopspring/decimal"
)

var two = decimal.NewFromInt(2)

// Engine evaluates a fixed list of output columns against buckets. It only
// reads the source table, so one Engine may serve many goroutines.
type Engine struct {
	src     table.Table
	columns []boundColumn
	// first non-null cell per group, keyed by source column
	firsts map[int]map[span.GroupKey]interface{}
}

type boundColumn struct {
	OutputColumn
	col      int
	numeric  bool
	template *template
}

// NewEngine resolves columns against src. groupHeader may be empty.
// Structural problems are returned as *ConfigurationError.
func NewEngine(src table.Table, groupHeader string, columns []OutputColumn) (*Engine, error) {
	e := &Engine{
		src:     src,
		columns: make([]boundColumn, 0, len(columns)),
		firsts:  make(map[int]map[span.GroupKey]interface{}),
	}

	groupCol := -1
	if groupHeader != "" {
		id, ok := src.ColumnID(groupHeader)
		if !ok {
			return nil, stackerr.NewConfigurationError(groupHeader, "group header not found in source table")
		}
		groupCol = id
	}

	seen := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		bc, err := e.bind(c)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[bc.Header]; dup {
			return nil, stackerr.NewConfigurationError(bc.Header, "duplicate output header")
		}
		seen[bc.Header] = struct{}{}

		if bc.Kind == KindFirstNotNull {
			if _, done := e.firsts[bc.col]; !done {
				e.firsts[bc.col] = firstPerGroup(src, groupCol, bc.col)
			}
		}
		e.columns = append(e.columns, bc)
	}
	return e, nil
}

func (e *Engine) bind(c OutputColumn) (boundColumn, error) {
	if c.Header == "" {
		c.Header = c.Source
	}
	if c.Header == "" {
		return boundColumn{}, stackerr.NewConfigurationError("", "%s column needs a header", c.Kind)
	}
	if !ValidKind(c.Kind) {
		return boundColumn{}, stackerr.NewConfigurationError(c.Header, "unsupported reducer %q", c.Kind)
	}

	bc := boundColumn{OutputColumn: c, col: -1}
	if c.Kind.NeedsSource() {
		if c.Source == "" {
			return boundColumn{}, stackerr.NewConfigurationError(c.Header, "%s needs a source header", c.Kind)
		}
		id, ok := e.src.ColumnID(c.Source)
		if !ok {
			return boundColumn{}, stackerr.NewConfigurationError(c.Source, "header not found in source table")
		}
		kind := e.src.Kind(id)
		if c.Kind.Numeric() && !kind.Numeric() && kind != table.KindNull {
			return boundColumn{}, stackerr.NewConfigurationError(c.Source, "%s needs a numeric column, got %s", c.Kind, kind)
		}
		bc.col = id
		bc.numeric = kind.Numeric()
	}

	switch c.Kind {
	case KindInfoFrom, KindInfoTo:
		if c.Format != "" {
			bc.Format = Layout(c.Format)
		}
	case KindInfoFormat:
		tpl, err := parseTemplate(c.Header, c.Format, e.src)
		if err != nil {
			return boundColumn{}, err
		}
		bc.template = tpl
	}
	return bc, nil
}

func firstPerGroup(src table.Table, groupCol, col int) map[span.GroupKey]interface{} {
	out := make(map[span.GroupKey]interface{})
	for _, row := range src.Rows() {
		v, ok := src.Cell(row, col)
		if !ok || v == nil {
			continue
		}
		g := span.NoGroup
		if groupCol >= 0 {
			gv, _ := src.Cell(row, groupCol)
			g = span.GroupOf(gv)
		}
		if _, exists := out[g]; !exists {
			out[g] = v
		}
	}
	return out
}

// Headers returns the output headers in declaration order.
func (e *Engine) Headers() []string {
	out := make([]string, len(e.columns))
	for i, c := range e.columns {
		out[i] = c.Header
	}
	return out
}

// Columns returns the resolved column declarations.
func (e *Engine) Columns() []OutputColumn {
	out := make([]OutputColumn, len(e.columns))
	for i, c := range e.columns {
		out[i] = c.OutputColumn
	}
	return out
}

// Evaluate reduces every column for b. Undefined aggregates become nil.
func (e *Engine) Evaluate(b *span.Bucket) ([]interface{}, error) {
	out := make([]interface{}, len(e.columns))
	for i := range e.columns {
		bc := &e.columns[i]
		in := &Input{
			Bucket:   b,
			Column:   &bc.OutputColumn,
			engine:   e,
			col:      bc.col,
			numeric:  bc.numeric,
			template: bc.template,
		}
		v, err := Reducers[bc.Kind].Reduce(in)
		switch {
		case stackerr.IsUndefined(err):
			out[i] = nil
		case err != nil:
			return nil, fmt.Errorf("column %q, bucket %s: %w",
				bc.Header, b.From.Format(table.DefaultTimeLayout), err)
		default:
			out[i] = v
		}
	}
	return out, nil
}

// Input is a reducer's view of one bucket and one column.
type Input struct {
	Bucket *span.Bucket
	Column *OutputColumn

	engine   *Engine
	col      int
	numeric  bool
	template *template
}

// Sample is the numeric reading of one assignment.
type Sample struct {
	Assignment   *span.Assignment
	Contribution decimal.Decimal
	// Weight is the clipped duration in hours.
	Weight decimal.Decimal
	// Value is the representative value used by Min/Max/First/Last.
	Value decimal.Decimal
}

// Cell returns the source cell of row for the column, or nil.
func (in *Input) Cell(row int) interface{} {
	if in.col < 0 || row < 0 {
		return nil
	}
	v, ok := in.engine.src.Cell(row, in.col)
	if !ok {
		return nil
	}
	return v
}

// Samples reads every assignment with non-null source cells.
func (in *Input) Samples() ([]Sample, error) {
	out := make([]Sample, 0, len(in.Bucket.Assignments))
	for i := range in.Bucket.Assignments {
		s, ok, err := in.sample(&in.Bucket.Assignments[i])
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, s)
		}
	}
	return out, nil
}

func (in *Input) sample(a *span.Assignment) (Sample, bool, error) {
	ref := a.Interval.Ref
	v1 := in.Cell(ref.Row)
	if v1 == nil {
		return Sample{}, false, nil
	}
	r1, err := ExtractDecimal(v1)
	if err != nil {
		return Sample{}, false, fmt.Errorf("row %d: %w", ref.Row, err)
	}

	ratio := a.OuterRatio()
	s := Sample{Assignment: a, Weight: span.Hours(a.Clipped())}

	if !in.Column.Serial || !ref.Serial() {
		s.Contribution = r1.Mul(ratio)
		s.Value = r1
		return s, true, nil
	}

	v2 := in.Cell(ref.Next)
	if v2 == nil {
		return Sample{}, false, nil
	}
	r2, err := ExtractDecimal(v2)
	if err != nil {
		return Sample{}, false, fmt.Errorf("row %d: %w", ref.Next, err)
	}
	s.Value = r1.Add(r2).Div(two)
	if in.Column.Accumulated {
		s.Contribution = r2.Sub(r1).Mul(ratio)
	} else {
		s.Contribution = s.Value.Mul(ratio)
	}
	return s, true, nil
}

// Chronological returns the assignments ordered by interval start, then row.
func (in *Input) Chronological() []*span.Assignment {
	out := make([]*span.Assignment, len(in.Bucket.Assignments))
	for i := range in.Bucket.Assignments {
		out[i] = &in.Bucket.Assignments[i]
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Interval, out[j].Interval
		if !a.From.Equal(b.From) {
			return a.From.Before(b.From)
		}
		return a.Ref.Row < b.Ref.Row
	})
	return out
}

func (in *Input) groupFirst(g span.GroupKey) interface{} {
	return in.engine.firsts[in.col][g]
}

// scaled applies the factor to a raw cell. Cells pass through unchanged when
// the factor is 1.
func (in *Input) scaled(v interface{}) (interface{}, error) {
	f := in.Column.Scale()
	if f.Equal(decimal.NewFromInt(1)) {
		return v, nil
	}
	d, err := ExtractDecimal(v)
	if err != nil {
		return nil, err
	}
	return d.Mul(f), nil
}
