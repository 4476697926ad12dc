package span

import (
	"fmt"
	"sort"
	"time"

	stackerr "github.com/aevon-lab/timestack/internal/core/errors"
)

// MaxBuckets bounds a single generation run per group.
const MaxBuckets = 5_000_000

// HourWindow restricts hourly buckets to the hours-of-day [From, To).
type HourWindow struct {
	From int
	To   int
}

func (w *HourWindow) validate() error {
	if w.From < 0 || w.To > 24 || w.From >= w.To {
		return stackerr.NewConfigurationError("", "hour window [%d,%d) must satisfy 0 <= from < to <= 24", w.From, w.To)
	}
	return nil
}

// allows reports whether [from, to) lies fully inside the window.
func (w *HourWindow) allows(from, to time.Time) bool {
	if w == nil {
		return true
	}
	start := float64(from.Hour()) + float64(from.Minute())/60
	end := start + to.Sub(from).Hours()
	return start >= float64(w.From) && end <= float64(w.To)
}

// GenerateOptions describes the partition to build.
type GenerateOptions struct {
	From        time.Time
	To          time.Time
	Granularity Granularity
	// Step is the bucket width in base units. Zero means 1.
	Step int
	// Window is only valid for hourly granularity.
	Window *HourWindow
	// Groups replicates the sequence once per key. Empty means ungrouped.
	Groups []GroupKey
	// InclusiveTo also emits the bucket starting at To when To sits on a
	// bucket boundary, so an instant at To has a bucket to land in.
	InclusiveTo bool
}

// Generate builds the ordered bucket sequence covering [From, To).
// Buckets are ordered by start, then group. The first bucket starts at From
// truncated to the unit; generation stops with the first bucket whose end
// reaches To, so From == To still yields one bucket. With InclusiveTo the
// last bucket is the one containing To.
func Generate(opts GenerateOptions) ([]*Bucket, error) {
	step := opts.Step
	if step == 0 {
		step = 1
	}
	if step < 0 {
		return nil, stackerr.NewConfigurationError("", "step must be >= 1, got %d", step)
	}
	if opts.To.Before(opts.From) {
		return nil, fmt.Errorf("generate buckets: to %s is before from %s", opts.To, opts.From)
	}
	if opts.Window != nil {
		if opts.Granularity != Hour {
			return nil, stackerr.NewConfigurationError("", "hour window requires hourly granularity, got %s", opts.Granularity)
		}
		if err := opts.Window.validate(); err != nil {
			return nil, err
		}
	}

	groups := sortedGroups(opts.Groups)
	start := opts.Granularity.Truncate(opts.From)

	var buckets []*Bucket
	for i := 0; ; i++ {
		if i >= MaxBuckets {
			return nil, fmt.Errorf("generate buckets: more than %d %s buckets between %s and %s",
				MaxBuckets, opts.Granularity, opts.From, opts.To)
		}
		from := opts.Granularity.Add(start, i*step)
		to := opts.Granularity.Add(start, (i+1)*step)

		if opts.Window.allows(from, to) {
			for _, g := range groups {
				buckets = append(buckets, &Bucket{From: from, To: to, Group: g})
			}
		}

		done := !to.Before(opts.To)
		if opts.InclusiveTo {
			done = to.After(opts.To)
		}
		if done {
			break
		}
	}
	return buckets, nil
}

func sortedGroups(in []GroupKey) []GroupKey {
	if len(in) == 0 {
		return []GroupKey{NoGroup}
	}
	seen := make(map[GroupKey]struct{}, len(in))
	out := make([]GroupKey, 0, len(in))
	for _, g := range in {
		if _, dup := seen[g]; dup {
			continue
		}
		seen[g] = struct{}{}
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}
