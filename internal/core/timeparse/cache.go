package timeparse

import (
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

const (
	minLength = 8
	maxLength = 35
)

// Cache parses timestamps and remembers the layouts that worked, so a column
// of uniformly formatted cells only pays for format detection once.
//
// A Cache belongs to one load or run. It is not safe for concurrent use and
// must not be shared between runs.
type Cache struct {
	loc       *time.Location
	preferred []string
	learned   []string
}

// New creates a cache resolving zone-less timestamps in loc (UTC when nil).
// Preferred layouts are tried before automatic detection.
func New(loc *time.Location, preferred ...string) *Cache {
	if loc == nil {
		loc = time.UTC
	}
	return &Cache{
		loc:       loc,
		preferred: append([]string(nil), preferred...),
	}
}

// Location returns the zone used for timestamps without an offset.
func (c *Cache) Location() *time.Location { return c.loc }

// Learned returns the layouts learned so far, most recently learned last.
func (c *Cache) Learned() []string {
	return append([]string(nil), c.learned...)
}

// Parse reports whether s is a timestamp and returns it.
func (c *Cache) Parse(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if len(s) < minLength || len(s) > maxLength {
		return time.Time{}, false
	}

	for _, layout := range c.learned {
		if t, err := time.ParseInLocation(layout, s, c.loc); err == nil {
			return t, true
		}
	}

	for _, layout := range c.preferred {
		if c.isLearned(layout) {
			continue
		}
		if t, err := time.ParseInLocation(layout, s, c.loc); err == nil {
			c.learned = append(c.learned, layout)
			return t, true
		}
	}

	layout, err := dateparse.ParseFormat(s)
	if err == nil {
		if t, err := time.ParseInLocation(layout, s, c.loc); err == nil {
			c.learned = append(c.learned, layout)
			return t, true
		}
	}

	// Some inputs are understood by dateparse but have no exact Go layout.
	t, err := dateparse.ParseIn(s, c.loc)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func (c *Cache) isLearned(layout string) bool {
	for _, l := range c.learned {
		if l == layout {
			return true
		}
	}
	return false
}
