package span

import (
	"time"

	"github.com/shopspring/decimal"
)

// RowRef points back at the source row(s) of an interval. Next is the
// successor row in serial mode and -1 for explicit from/to rows.
type RowRef struct {
	Row  int
	Next int
}

// ExplicitRow references a single row holding both from and to.
func ExplicitRow(row int) RowRef { return RowRef{Row: row, Next: -1} }

// SerialRows references two consecutive readings.
func SerialRows(row, next int) RowRef { return RowRef{Row: row, Next: next} }

// Serial reports whether the reference spans two readings.
func (r RowRef) Serial() bool { return r.Next >= 0 }

// Interval is an observed time range [From, To). From <= To always holds.
type Interval struct {
	From  time.Time
	To    time.Time
	Group GroupKey
	Ref   RowRef
}

// Duration returns To - From.
func (iv Interval) Duration() time.Duration { return iv.To.Sub(iv.From) }

// Instant reports whether the interval is a zero-length event.
func (iv Interval) Instant() bool { return !iv.To.After(iv.From) }

// Bucket is one fixed-width cell [From, To) of the generated partition.
type Bucket struct {
	From        time.Time
	To          time.Time
	Group       GroupKey
	Assignments []Assignment
}

// Duration returns To - From.
func (b *Bucket) Duration() time.Duration { return b.To.Sub(b.From) }

// Coverage merges the clipped ranges of the bucket's assignments.
func (b *Bucket) Coverage() *Coverage { return CoverageOf(b.Assignments) }

// Assignment is the overlap of one interval with one bucket.
type Assignment struct {
	Interval    *Interval
	ClippedFrom time.Time
	ClippedTo   time.Time
	// OuterSlot is the share of the interval's duration inside the bucket.
	OuterSlot float64
	// InnerSlot is the share of the bucket's duration covered by the interval.
	InnerSlot float64
}

// Clipped returns the overlap duration.
func (a Assignment) Clipped() time.Duration { return a.ClippedTo.Sub(a.ClippedFrom) }

// OuterRatio is OuterSlot computed in decimal from the raw nanosecond counts.
func (a Assignment) OuterRatio() decimal.Decimal {
	total := a.Interval.Duration()
	if total <= 0 {
		return decimal.NewFromInt(1)
	}
	return decimal.NewFromInt(int64(a.Clipped())).Div(decimal.NewFromInt(int64(total)))
}

// Hours converts d to decimal hours.
func Hours(d time.Duration) decimal.Decimal {
	return decimal.NewFromInt(int64(d)).Div(decimal.NewFromInt(int64(time.Hour)))
}
