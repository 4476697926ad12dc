package timestack

import (
	"errors"
	"fmt"
	"time"

	"github.com/aevon-lab/timestack/internal/core/aggregation"
	stackerr "github.com/aevon-lab/timestack/internal/core/errors"
	"github.com/aevon-lab/timestack/internal/core/table"
	"github.com/shopspring/decimal"
)

// Stack binds a source table, its time columns and an optional group column
// to an ordered list of output columns. A Stack is configured once and can
// be run any number of times; the source table must not change meanwhile.
type Stack struct {
	src   table.Table
	mode  aggregation.Mode
	group string

	// explicit mode
	from, to table.Column[time.Time]
	// serial mode
	timestamp table.Column[time.Time]

	columns []aggregation.OutputColumn
	headers map[string]struct{}
}

// NewExplicit creates a stack whose rows carry their own [from, to) interval.
func NewExplicit(src table.Table, group, from, to string) (*Stack, error) {
	s, err := newStack(src, aggregation.ModeExplicit, group)
	if err != nil {
		return nil, err
	}
	if s.from, err = timeColumn(src, from); err != nil {
		return nil, err
	}
	if s.to, err = timeColumn(src, to); err != nil {
		return nil, err
	}
	return s, nil
}

// NewSerial creates a stack whose rows are point readings. Each reading is
// paired with the next one of its group to form an interval.
func NewSerial(src table.Table, group, timestamp string) (*Stack, error) {
	s, err := newStack(src, aggregation.ModeSerial, group)
	if err != nil {
		return nil, err
	}
	if s.timestamp, err = timeColumn(src, timestamp); err != nil {
		return nil, err
	}
	return s, nil
}

// FromDefinition builds a stack with every column of def declared.
func FromDefinition(src table.Table, def *aggregation.StackDefinition) (*Stack, error) {
	var (
		s   *Stack
		err error
	)
	switch def.Mode {
	case aggregation.ModeExplicit:
		s, err = NewExplicit(src, def.Group, def.From, def.To)
	case aggregation.ModeSerial:
		s, err = NewSerial(src, def.Group, def.Timestamp)
	default:
		return nil, stackerr.NewConfigurationError("", "unknown stack mode %q", def.Mode)
	}
	if err != nil {
		return nil, fmt.Errorf("stack %q: %w", def.Name, err)
	}
	for _, c := range def.Columns {
		if err := s.AddColumn(c); err != nil {
			return nil, fmt.Errorf("stack %q: %w", def.Name, err)
		}
	}
	return s, nil
}

func newStack(src table.Table, mode aggregation.Mode, group string) (*Stack, error) {
	if src == nil {
		return nil, stackerr.NewConfigurationError("", "source table is required")
	}
	if group != "" {
		if _, ok := src.ColumnID(group); !ok {
			return nil, stackerr.NewConfigurationError(group, "group column not found")
		}
	}
	return &Stack{
		src:     src,
		mode:    mode,
		group:   group,
		headers: make(map[string]struct{}),
	}, nil
}

func timeColumn(src table.Table, header string) (table.Column[time.Time], error) {
	if header == "" {
		return table.Column[time.Time]{}, stackerr.NewConfigurationError("", "time column header is required")
	}
	col, ok := src.ColumnID(header)
	if !ok {
		return table.Column[time.Time]{}, stackerr.NewConfigurationError(header, "time column not found")
	}
	if src.Kind(col) == table.KindNull && len(src.Rows()) > 0 {
		return table.Column[time.Time]{}, stackerr.NewConfigurationError(header, "time column holds no values")
	}
	values, err := table.Typed[time.Time](src, col)
	if err != nil {
		if errors.Is(err, stackerr.ErrTypeMismatch) {
			return table.Column[time.Time]{}, &stackerr.ConfigurationError{
				Header: header,
				Reason: "not a time column",
				Err:    err,
			}
		}
		return table.Column[time.Time]{}, err
	}
	return values, nil
}

// Mode reports whether the stack reads explicit or serial intervals.
func (s *Stack) Mode() aggregation.Mode { return s.mode }

// Columns returns the declared output columns in order.
func (s *Stack) Columns() []aggregation.OutputColumn {
	return append([]aggregation.OutputColumn(nil), s.columns...)
}

// AddColumn declares one output column. The header defaults to the source
// header; headers must be unique across the stack.
func (s *Stack) AddColumn(c aggregation.OutputColumn) error {
	if c.Header == "" {
		c.Header = c.Source
	}
	if _, dup := s.headers[c.Header]; dup && c.Header != "" {
		return stackerr.NewConfigurationError(c.Header, "duplicate output header")
	}
	c.Serial = s.mode == aggregation.ModeSerial

	// bind alone so source, kind and template problems surface now
	if _, err := aggregation.NewEngine(s.src, s.group, []aggregation.OutputColumn{c}); err != nil {
		return err
	}

	s.headers[c.Header] = struct{}{}
	s.columns = append(s.columns, c)
	return nil
}

// ColumnOption tweaks a column declared through one of the Add helpers.
type ColumnOption func(*aggregation.OutputColumn)

// Accumulated marks the source as a running counter (serial mode): the
// interval carries the difference between consecutive readings.
func Accumulated() ColumnOption {
	return func(c *aggregation.OutputColumn) { c.Accumulated = true }
}

// WithFactor multiplies the numeric result. A factor of 0 is treated as 1.
func WithFactor(f float64) ColumnOption {
	return func(c *aggregation.OutputColumn) { c.Factor = decimal.NewFromFloat(f) }
}

// WithFormat sets the time layout of InfoFrom/InfoTo columns.
func WithFormat(layout string) ColumnOption {
	return func(c *aggregation.OutputColumn) { c.Format = layout }
}

func (s *Stack) add(kind aggregation.Kind, source, header string, opts []ColumnOption) error {
	c := aggregation.OutputColumn{Kind: kind, Source: source, Header: header}
	for _, opt := range opts {
		opt(&c)
	}
	return s.AddColumn(c)
}

// AddSum outputs the overlap-weighted sum of source.
func (s *Stack) AddSum(source, header string, opts ...ColumnOption) error {
	return s.add(aggregation.KindSum, source, header, opts)
}

// AddAverage outputs the mean of source over the intervals touching the bucket.
func (s *Stack) AddAverage(source, header string, opts ...ColumnOption) error {
	return s.add(aggregation.KindAverage, source, header, opts)
}

// AddAverageWeighted outputs the weighted sum of source per covered hour.
func (s *Stack) AddAverageWeighted(source, header string, opts ...ColumnOption) error {
	return s.add(aggregation.KindAverageWeighted, source, header, opts)
}

// AddFirst outputs the value of the chronologically first interval.
func (s *Stack) AddFirst(source, header string, opts ...ColumnOption) error {
	return s.add(aggregation.KindFirst, source, header, opts)
}

// AddLast outputs the value of the chronologically last interval.
func (s *Stack) AddLast(source, header string, opts ...ColumnOption) error {
	return s.add(aggregation.KindLast, source, header, opts)
}

// AddFirstNotNull outputs the first non-null cell in row order, falling back
// to the first non-null cell of the bucket's group.
func (s *Stack) AddFirstNotNull(source, header string, opts ...ColumnOption) error {
	return s.add(aggregation.KindFirstNotNull, source, header, opts)
}

// AddMin outputs the smallest value of source.
func (s *Stack) AddMin(source, header string, opts ...ColumnOption) error {
	return s.add(aggregation.KindMin, source, header, opts)
}

// AddMax outputs the largest value of source.
func (s *Stack) AddMax(source, header string, opts ...ColumnOption) error {
	return s.add(aggregation.KindMax, source, header, opts)
}

// AddInfoFrom outputs the bucket start, formatted when WithFormat is given.
func (s *Stack) AddInfoFrom(header string, opts ...ColumnOption) error {
	return s.add(aggregation.KindInfoFrom, "", header, opts)
}

// AddInfoTo outputs the bucket end.
func (s *Stack) AddInfoTo(header string, opts ...ColumnOption) error {
	return s.add(aggregation.KindInfoTo, "", header, opts)
}

// AddInfoGroup outputs the bucket's group key.
func (s *Stack) AddInfoGroup(header string) error {
	return s.add(aggregation.KindInfoGroup, "", header, nil)
}

// AddInfoRowCount outputs the number of intervals touching the bucket.
func (s *Stack) AddInfoRowCount(header string, opts ...ColumnOption) error {
	return s.add(aggregation.KindInfoRowCount, "", header, opts)
}

// AddInfoLength outputs the covered hours of the bucket, overlaps merged.
func (s *Stack) AddInfoLength(header string, opts ...ColumnOption) error {
	return s.add(aggregation.KindInfoLength, "", header, opts)
}

// AddInfoFormat renders template per bucket, e.g. "[:From:HH:mm]-[:To:HH:mm] [Room]".
func (s *Stack) AddInfoFormat(header, template string) error {
	return s.add(aggregation.KindInfoFormat, "", header, []ColumnOption{WithFormat(template)})
}
