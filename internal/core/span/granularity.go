package span

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Granularity is the base unit of the generated buckets.
type Granularity int

const (
	Hour Granularity = iota
	Day
	Month
	Year
)

var granularityNames = map[Granularity]string{
	Hour:  "hour",
	Day:   "day",
	Month: "month",
	Year:  "year",
}

var granularityUnits = map[string]Granularity{
	"h":       Hour,
	"hour":    Hour,
	"hours":   Hour,
	"hourly":  Hour,
	"d":       Day,
	"day":     Day,
	"days":    Day,
	"daily":   Day,
	"mo":      Month,
	"month":   Month,
	"months":  Month,
	"monthly": Month,
	"y":       Year,
	"year":    Year,
	"years":   Year,
	"yearly":  Year,
}

func (g Granularity) String() string {
	if name, ok := granularityNames[g]; ok {
		return name
	}
	return fmt.Sprintf("granularity(%d)", int(g))
}

// ParseGranularity parses a unit with an optional step prefix,
// e.g. "hour", "3h", "day", "2d", "mo", "year".
func ParseGranularity(s string) (Granularity, int, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return 0, 0, fmt.Errorf("granularity must not be empty")
	}

	digits := 0
	for digits < len(s) && s[digits] >= '0' && s[digits] <= '9' {
		digits++
	}

	step := 1
	if digits > 0 {
		n, err := strconv.Atoi(s[:digits])
		if err != nil {
			return 0, 0, fmt.Errorf("invalid granularity %q: %w", s, err)
		}
		if n <= 0 {
			return 0, 0, fmt.Errorf("granularity step must be positive, got %q", s)
		}
		step = n
	}

	g, ok := granularityUnits[s[digits:]]
	if !ok {
		return 0, 0, fmt.Errorf("invalid granularity %q: unknown unit %q", s, s[digits:])
	}
	return g, step, nil
}

// Truncate returns the start of the unit containing t, on the wall clock of
// t's location.
func (g Granularity) Truncate(t time.Time) time.Time {
	year, month, day := t.Date()
	switch g {
	case Hour:
		return time.Date(year, month, day, t.Hour(), 0, 0, 0, t.Location())
	case Day:
		return time.Date(year, month, day, 0, 0, 0, 0, t.Location())
	case Month:
		return time.Date(year, month, 1, 0, 0, 0, 0, t.Location())
	default:
		return time.Date(year, time.January, 1, 0, 0, 0, 0, t.Location())
	}
}

// Add advances t by n units. t is expected to be truncated.
func (g Granularity) Add(t time.Time, n int) time.Time {
	switch g {
	case Hour:
		return t.Add(time.Duration(n) * time.Hour)
	case Day:
		return t.AddDate(0, 0, n)
	case Month:
		return t.AddDate(0, n, 0)
	default:
		return t.AddDate(n, 0, 0)
	}
}
