package span

import (
	"fmt"
	"strconv"
	"time"
)

type groupKind uint8

const (
	groupNone groupKind = iota
	groupInt
	groupString
)

// GroupKey is a typed, comparable grouping value. The zero value means
// "no group". Keys compare by variant first (none < integer < string),
// then by value, so 7 and "7" are distinct groups.
type GroupKey struct {
	kind groupKind
	i    int64
	s    string
}

// NoGroup is the key of ungrouped intervals and buckets.
var NoGroup GroupKey

// StringGroup returns a string-valued key.
func StringGroup(s string) GroupKey { return GroupKey{kind: groupString, s: s} }

// IntGroup returns an integer-valued key.
func IntGroup(i int64) GroupKey { return GroupKey{kind: groupInt, i: i} }

// GroupOf converts a table cell into a key. Integers stay integers; every
// other non-null value is keyed by its canonical text form.
func GroupOf(v interface{}) GroupKey {
	switch val := v.(type) {
	case nil:
		return NoGroup
	case int64:
		return IntGroup(val)
	case int:
		return IntGroup(int64(val))
	case string:
		if val == "" {
			return NoGroup
		}
		return StringGroup(val)
	case float64:
		return StringGroup(strconv.FormatFloat(val, 'f', -1, 64))
	case bool:
		return StringGroup(strconv.FormatBool(val))
	case time.Time:
		return StringGroup(val.Format(time.RFC3339Nano))
	case fmt.Stringer:
		return StringGroup(val.String())
	default:
		return StringGroup(fmt.Sprint(val))
	}
}

// IsNone reports whether k is the "no group" key.
func (k GroupKey) IsNone() bool { return k.kind == groupNone }

// Value returns the key as a table cell: nil, int64 or string.
func (k GroupKey) Value() interface{} {
	switch k.kind {
	case groupInt:
		return k.i
	case groupString:
		return k.s
	default:
		return nil
	}
}

func (k GroupKey) String() string {
	switch k.kind {
	case groupInt:
		return strconv.FormatInt(k.i, 10)
	case groupString:
		return k.s
	default:
		return ""
	}
}

// Less orders keys for output: none first, then integers, then strings.
func (k GroupKey) Less(o GroupKey) bool {
	if k.kind != o.kind {
		return k.kind < o.kind
	}
	switch k.kind {
	case groupInt:
		return k.i < o.i
	case groupString:
		return k.s < o.s
	default:
		return false
	}
}
