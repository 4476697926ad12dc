package timestack

import (
	"sort"
	"time"

	"github.com/aevon-lab/timestack/internal/core/aggregation"
	stackerr "github.com/aevon-lab/timestack/internal/core/errors"
	"github.com/aevon-lab/timestack/internal/core/span"
	"github.com/aevon-lab/timestack/internal/core/table"
	"go.uber.org/multierr"
)

// intervals derives the run's intervals from the source table. Rows that
// cannot form an interval are reported as *RowError values combined into
// skipped; they never abort the run.
func (s *Stack) intervals() (out []span.Interval, skipped error) {
	if s.mode == aggregation.ModeSerial {
		return s.serialIntervals()
	}
	return s.explicitIntervals()
}

func (s *Stack) groupOf(row int) span.GroupKey {
	if s.group == "" {
		return span.NoGroup
	}
	col, _ := s.src.ColumnID(s.group)
	v, _ := s.src.Cell(row, col)
	return span.GroupOf(v)
}

func byRow(c table.Column[time.Time]) map[int]time.Time {
	m := make(map[int]time.Time, c.Len())
	for i, row := range c.Rows {
		m[row] = c.Values[i]
	}
	return m
}

func (s *Stack) explicitIntervals() ([]span.Interval, error) {
	from, to := byRow(s.from), byRow(s.to)

	var (
		out     []span.Interval
		skipped error
	)
	for _, row := range s.src.Rows() {
		f, okFrom := from[row]
		t, okTo := to[row]
		switch {
		case !okFrom && !okTo:
			skipped = multierr.Append(skipped, &stackerr.RowError{Row: row, Reason: "missing from and to"})
			continue
		case !okFrom:
			skipped = multierr.Append(skipped, &stackerr.RowError{Row: row, Reason: "missing from"})
			continue
		case !okTo:
			skipped = multierr.Append(skipped, &stackerr.RowError{Row: row, Reason: "missing to"})
			continue
		case t.Before(f):
			skipped = multierr.Append(skipped, &stackerr.RowError{Row: row, Reason: "to is before from"})
			continue
		}
		out = append(out, span.Interval{
			From:  f,
			To:    t,
			Group: s.groupOf(row),
			Ref:   span.ExplicitRow(row),
		})
	}
	return out, skipped
}

type reading struct {
	row int
	at  time.Time
}

// serialIntervals pairs every reading with its successor in time within the
// same group. N readings of a group yield N-1 intervals; readings sharing a
// timestamp are ordered by row.
func (s *Stack) serialIntervals() ([]span.Interval, error) {
	at := byRow(s.timestamp)

	var (
		skipped error
		order   []span.GroupKey
		groups  = make(map[span.GroupKey][]reading)
	)
	for _, row := range s.src.Rows() {
		t, ok := at[row]
		if !ok {
			skipped = multierr.Append(skipped, &stackerr.RowError{Row: row, Reason: "missing timestamp"})
			continue
		}
		g := s.groupOf(row)
		if _, seen := groups[g]; !seen {
			order = append(order, g)
		}
		groups[g] = append(groups[g], reading{row: row, at: t})
	}

	var out []span.Interval
	for _, g := range order {
		readings := groups[g]
		sort.SliceStable(readings, func(i, j int) bool { return readings[i].at.Before(readings[j].at) })
		for i := 0; i+1 < len(readings); i++ {
			cur, next := readings[i], readings[i+1]
			if !next.at.After(cur.at) {
				skipped = multierr.Append(skipped, &stackerr.RowError{Row: cur.row, Reason: "duplicate timestamp"})
				continue
			}
			out = append(out, span.Interval{
				From:  cur.at,
				To:    next.at,
				Group: g,
				Ref:   span.SerialRows(cur.row, next.row),
			})
		}
	}
	return out, skipped
}
