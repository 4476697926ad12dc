package timestack

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/aevon-lab/timestack/internal/core/aggregation"
	stackerr "github.com/aevon-lab/timestack/internal/core/errors"
	"github.com/aevon-lab/timestack/internal/core/partition"
	"github.com/aevon-lab/timestack/internal/core/span"
	"github.com/aevon-lab/timestack/internal/core/table"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// Options controls one run of a stack.
type Options struct {
	Granularity span.Granularity
	// Step is the bucket width in granularity units. Zero means 1.
	Step int
	// Window restricts hourly buckets to a range of hours of the day.
	Window *span.HourWindow
	// From and To override the range derived from the intervals when set.
	From time.Time
	To   time.Time
	// Workers bounds assignment and reduction parallelism.
	// Zero means runtime.GOMAXPROCS(0).
	Workers int
}

func (o Options) normalized() Options {
	n := o
	if n.Step <= 0 {
		n.Step = 1
	}
	if n.Workers <= 0 {
		n.Workers = runtime.GOMAXPROCS(0)
	}
	return n
}

// OptionsFromDefinition returns the bucketing options stored in def.
func OptionsFromDefinition(def *aggregation.StackDefinition, workers int) Options {
	return Options{
		Granularity: def.Granularity,
		Step:        def.Step,
		Window:      def.Window,
		Workers:     workers,
	}
}

// Result is the outcome of a run.
type Result struct {
	RunID string
	// Table holds one row per bucket, ordered by start then group.
	Table *table.MemTable
	// Intervals is the number of intervals derived from the source.
	Intervals int
	// Skipped combines one *errors.RowError per source row that could not
	// become an interval. Nil when every row was used.
	Skipped error
}

// SkippedRows returns the individual row errors of r.Skipped.
func (r *Result) SkippedRows() []error { return multierr.Errors(r.Skipped) }

// RunHourly runs with hourly buckets.
func (s *Stack) RunHourly(ctx context.Context, opts Options) (*Result, error) {
	opts.Granularity = span.Hour
	return s.Run(ctx, opts)
}

// RunDaily runs with daily buckets.
func (s *Stack) RunDaily(ctx context.Context, opts Options) (*Result, error) {
	opts.Granularity = span.Day
	return s.Run(ctx, opts)
}

// RunMonthly runs with calendar month buckets.
func (s *Stack) RunMonthly(ctx context.Context, opts Options) (*Result, error) {
	opts.Granularity = span.Month
	return s.Run(ctx, opts)
}

// RunYearly runs with calendar year buckets.
func (s *Stack) RunYearly(ctx context.Context, opts Options) (*Result, error) {
	opts.Granularity = span.Year
	return s.Run(ctx, opts)
}

// Run stacks the source intervals into buckets and reduces every bucket to
// one output row. Configuration problems abort the run; rows that cannot
// form an interval are skipped and reported on the result.
func (s *Stack) Run(ctx context.Context, opts Options) (*Result, error) {
	opts = opts.normalized()
	res := &Result{RunID: uuid.NewString()}
	started := time.Now()

	if len(s.columns) == 0 {
		return nil, stackerr.NewConfigurationError("", "stack has no output columns")
	}
	engine, err := aggregation.NewEngine(s.src, s.group, s.columns)
	if err != nil {
		return nil, err
	}

	intervals, skipped := s.intervals()
	res.Intervals = len(intervals)
	res.Skipped = skipped
	if skipped != nil {
		rows := multierr.Errors(skipped)
		slog.Warn("[TimeStack] Skipped source rows",
			"run_id", res.RunID,
			"count", len(rows),
			"first", rows[0].Error(),
		)
	}

	slog.Info("[TimeStack] Starting run",
		"run_id", res.RunID,
		"mode", s.mode,
		"granularity", opts.Granularity,
		"step", opts.Step,
		"intervals", len(intervals),
		"workers", opts.Workers,
	)

	from, to, ok := bounds(intervals, opts)
	// an instant sitting exactly on the derived end still needs its bucket
	inclusive := opts.To.IsZero() && instantAt(intervals, to)
	if !ok {
		b, err := table.NewBuilder(engine.Headers()...)
		if err != nil {
			return nil, err
		}
		res.Table = b.Table()
		slog.Debug("[TimeStack] No intervals to stack", "run_id", res.RunID)
		return res, nil
	}

	buckets, err := span.Generate(span.GenerateOptions{
		From:        from,
		To:          to,
		Granularity: opts.Granularity,
		Step:        opts.Step,
		Window:      opts.Window,
		Groups:      groupsOf(intervals, s.group != ""),
		InclusiveTo: inclusive,
	})
	if err != nil {
		return nil, fmt.Errorf("generate buckets: %w", err)
	}

	assigned, err := assignConcurrently(ctx, buckets, intervals, opts.Workers)
	if err != nil {
		return nil, err
	}

	rows, err := reduceConcurrently(ctx, engine, buckets, opts.Workers)
	if err != nil {
		return nil, err
	}

	b, err := table.NewBuilder(engine.Headers()...)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		if err := b.AppendRow(row...); err != nil {
			return nil, fmt.Errorf("append output row: %w", err)
		}
	}
	res.Table = b.Table()

	slog.Info("[TimeStack] Run complete",
		"run_id", res.RunID,
		"buckets", len(buckets),
		"assignments", assigned,
		"skipped_rows", len(multierr.Errors(skipped)),
		"duration", time.Since(started),
	)
	return res, nil
}

// bounds returns the global range of the run: the earliest start and latest
// end of all intervals, each replaced by its override when set.
func bounds(intervals []span.Interval, opts Options) (from, to time.Time, ok bool) {
	for i, iv := range intervals {
		if i == 0 || iv.From.Before(from) {
			from = iv.From
		}
		if i == 0 || iv.To.After(to) {
			to = iv.To
		}
	}
	if !opts.From.IsZero() {
		from = opts.From
	}
	if !opts.To.IsZero() {
		to = opts.To
	}
	if from.IsZero() || to.IsZero() {
		return time.Time{}, time.Time{}, false
	}
	return from, to, true
}

func instantAt(intervals []span.Interval, t time.Time) bool {
	for _, iv := range intervals {
		if iv.Instant() && iv.From.Equal(t) {
			return true
		}
	}
	return false
}

func groupsOf(intervals []span.Interval, grouped bool) []span.GroupKey {
	if !grouped {
		return nil
	}
	seen := make(map[span.GroupKey]struct{})
	var out []span.GroupKey
	for _, iv := range intervals {
		if _, ok := seen[iv.Group]; ok {
			continue
		}
		seen[iv.Group] = struct{}{}
		out = append(out, iv.Group)
	}
	return out
}

// assignConcurrently fans assignment out over group shards. A group lives
// in exactly one shard and groups own disjoint bucket lists, so workers never
// append to the same bucket.
func assignConcurrently(ctx context.Context, buckets []*span.Bucket, intervals []span.Interval, workers int) (int, error) {
	idx := span.NewIndex(buckets)

	var (
		keys    []string
		members [][]int
	)
	slot := make(map[span.GroupKey]int)
	for i := range intervals {
		key := intervals[i].Group
		n, ok := slot[key]
		if !ok {
			n = len(members)
			slot[key] = n
			keys = append(keys, key.String())
			members = append(members, nil)
		}
		members[n] = append(members[n], i)
	}

	shards := partition.Split(keys, workers)
	counts := make([]int, len(shards))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for s, shard := range shards {
		s, shard := s, shard
		g.Go(func() error {
			for _, group := range shard {
				for _, i := range members[group] {
					if err := gctx.Err(); err != nil {
						return err
					}
					counts[s] += idx.Assign(&intervals[i])
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, fmt.Errorf("assign intervals: %w", err)
	}

	total := 0
	for _, n := range counts {
		total += n
	}
	return total, nil
}

// reduceConcurrently evaluates every bucket into its output row. Buckets are
// split into contiguous chunks, one per worker; row order follows buckets.
func reduceConcurrently(ctx context.Context, engine *aggregation.Engine, buckets []*span.Bucket, workers int) ([][]interface{}, error) {
	rows := make([][]interface{}, len(buckets))
	chunk := (len(buckets) + workers - 1) / workers
	if chunk == 0 {
		return rows, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for start := 0; start < len(buckets); start += chunk {
		start, end := start, min(start+chunk, len(buckets))
		g.Go(func() error {
			for i := start; i < end; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				row, err := engine.Evaluate(buckets[i])
				if err != nil {
					return err
				}
				rows[i] = row
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("reduce buckets: %w", err)
	}
	return rows, nil
}
