package span

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Range is a half-open time range [From, To).
type Range struct {
	From time.Time
	To   time.Time
}

// Coverage is a union of ranges kept sorted and disjoint. Overlapping or
// abutting ranges are merged on insert, so Total never double counts.
type Coverage struct {
	ranges []Range
}

// Add merges [from, to) into the union. Empty ranges are ignored.
func (c *Coverage) Add(from, to time.Time) {
	if !to.After(from) {
		return
	}
	// first range that could touch the new one
	i := sort.Search(len(c.ranges), func(i int) bool {
		return !c.ranges[i].To.Before(from)
	})
	j := i
	for j < len(c.ranges) && !c.ranges[j].From.After(to) {
		if c.ranges[j].From.Before(from) {
			from = c.ranges[j].From
		}
		if c.ranges[j].To.After(to) {
			to = c.ranges[j].To
		}
		j++
	}

	merged := Range{From: from, To: to}
	if i == j {
		c.ranges = append(c.ranges, Range{})
		copy(c.ranges[i+1:], c.ranges[i:])
		c.ranges[i] = merged
		return
	}
	c.ranges[i] = merged
	c.ranges = append(c.ranges[:i+1], c.ranges[j:]...)
}

// Ranges returns the merged ranges in order.
func (c *Coverage) Ranges() []Range {
	out := make([]Range, len(c.ranges))
	copy(out, c.ranges)
	return out
}

// Total is the summed length of the union.
func (c *Coverage) Total() time.Duration {
	var total time.Duration
	for _, r := range c.ranges {
		total += r.To.Sub(r.From)
	}
	return total
}

// Hours is Total in decimal hours.
func (c *Coverage) Hours() decimal.Decimal { return Hours(c.Total()) }

// CoverageOf builds the union of the clipped ranges of assignments.
func CoverageOf(assignments []Assignment) *Coverage {
	c := &Coverage{}
	for _, a := range assignments {
		c.Add(a.ClippedFrom, a.ClippedTo)
	}
	return c
}
