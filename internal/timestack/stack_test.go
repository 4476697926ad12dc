package timestack

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aevon-lab/timestack/internal/core/aggregation"
	stackerr "github.com/aevon-lab/timestack/internal/core/errors"
	"github.com/aevon-lab/timestack/internal/core/span"
	"github.com/aevon-lab/timestack/internal/core/table"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(h, m int) time.Time {
	return time.Date(2022, 1, 1, h, m, 0, 0, time.UTC)
}

func newTable(t *testing.T, headers []string, rows ...[]interface{}) *table.MemTable {
	t.Helper()
	b, err := table.NewBuilder(headers...)
	require.NoError(t, err)
	for _, row := range rows {
		require.NoError(t, b.AppendRow(row...))
	}
	return b.Table()
}

func requireDecimal(t *testing.T, want string, got interface{}) {
	t.Helper()
	d, ok := got.(decimal.Decimal)
	require.True(t, ok, "want decimal, got %T (%v)", got, got)
	require.True(t, decimal.RequireFromString(want).Equal(d), "want=%s got=%s", want, d.String())
}

// requireRounded compares at six decimal places; slot ratios are binary floats.
func requireRounded(t *testing.T, want string, got interface{}) {
	t.Helper()
	d, ok := got.(decimal.Decimal)
	require.True(t, ok, "want decimal, got %T (%v)", got, got)
	require.Equal(t, decimal.RequireFromString(want).StringFixed(6), d.StringFixed(6))
}

func TestRun_ExplicitIntervalSplitsAcrossBuckets(t *testing.T) {
	src := newTable(t, []string{"Start", "End", "Value"},
		[]interface{}{at(7, 0), at(9, 0), 10},
	)
	s, err := NewExplicit(src, "", "Start", "End")
	require.NoError(t, err)
	require.NoError(t, s.AddInfoFrom("From"))
	require.NoError(t, s.AddSum("Value", "Sum"))

	res, err := s.RunHourly(context.Background(), Options{})
	require.NoError(t, err)
	require.NotEmpty(t, res.RunID)
	require.Nil(t, res.Skipped)
	require.Equal(t, 1, res.Intervals)

	out := res.Table
	require.Equal(t, []string{"From", "Sum"}, out.Headers())
	require.Equal(t, 2, out.RowCount())
	assert.Equal(t, at(7, 0), out.Get(0, "From"))
	assert.Equal(t, at(8, 0), out.Get(1, "From"))
	requireDecimal(t, "5", out.Get(0, "Sum"))
	requireDecimal(t, "5", out.Get(1, "Sum"))
}

func TestRun_OverlapsAreMergedForLength(t *testing.T) {
	src := newTable(t, []string{"Start", "End"},
		[]interface{}{at(7, 10), at(7, 40)},
		[]interface{}{at(7, 5), at(7, 30)},
	)
	s, err := NewExplicit(src, "", "Start", "End")
	require.NoError(t, err)
	require.NoError(t, s.AddInfoLength("Hours"))
	require.NoError(t, s.AddInfoRowCount("Rows"))

	res, err := s.RunHourly(context.Background(), Options{})
	require.NoError(t, err)
	require.Equal(t, 1, res.Table.RowCount())

	hours := res.Table.Get(0, "Hours").(decimal.Decimal)
	assert.Equal(t, "0.5833", hours.StringFixed(4))
	requireDecimal(t, "2", res.Table.Get(0, "Rows"))
}

func TestRun_EmptyBucketIsNull(t *testing.T) {
	src := newTable(t, []string{"Start", "End", "Value"},
		[]interface{}{at(7, 0), at(8, 0), 10},
	)
	s, err := NewExplicit(src, "", "Start", "End")
	require.NoError(t, err)
	require.NoError(t, s.AddAverageWeighted("Value", "Rate"))
	require.NoError(t, s.AddSum("Value", "Sum"))

	res, err := s.RunHourly(context.Background(), Options{To: at(10, 0)})
	require.NoError(t, err)
	require.Equal(t, 3, res.Table.RowCount())

	requireDecimal(t, "10", res.Table.Get(0, "Rate"))
	assert.Nil(t, res.Table.Get(1, "Rate"))
	assert.Nil(t, res.Table.Get(2, "Rate"))
	requireDecimal(t, "0", res.Table.Get(2, "Sum"))
}

func TestRun_FromOverrideAddsLeadingBuckets(t *testing.T) {
	src := newTable(t, []string{"Start", "End", "Value"},
		[]interface{}{at(9, 0), at(10, 0), 10},
	)
	s, err := NewExplicit(src, "", "Start", "End")
	require.NoError(t, err)
	require.NoError(t, s.AddInfoFrom("From"))
	require.NoError(t, s.AddAverageWeighted("Value", "Rate"))
	require.NoError(t, s.AddSum("Value", "Sum"))

	res, err := s.RunHourly(context.Background(), Options{From: at(7, 0)})
	require.NoError(t, err)

	out := res.Table
	require.Equal(t, 3, out.RowCount())
	for i, hour := range []int{7, 8} {
		assert.Equal(t, at(hour, 0), out.Get(i, "From"))
		assert.Nil(t, out.Get(i, "Rate"), "row %d", i)
		requireDecimal(t, "0", out.Get(i, "Sum"))
	}
	assert.Equal(t, at(9, 0), out.Get(2, "From"))
	requireDecimal(t, "10", out.Get(2, "Rate"))
	requireDecimal(t, "10", out.Get(2, "Sum"))
}

func TestRun_InstantAtRangeEndKeepsItsBucket(t *testing.T) {
	src := newTable(t, []string{"Start", "End", "Value"},
		[]interface{}{at(7, 0), at(7, 0), 1},
		[]interface{}{at(8, 0), at(8, 0), 1},
	)
	s, err := NewExplicit(src, "", "Start", "End")
	require.NoError(t, err)
	require.NoError(t, s.AddInfoFrom("From"))
	require.NoError(t, s.AddInfoRowCount("Rows"))
	require.NoError(t, s.AddSum("Value", "Sum"))

	res, err := s.RunHourly(context.Background(), Options{})
	require.NoError(t, err)
	require.Nil(t, res.Skipped)
	require.Equal(t, 2, res.Intervals)

	out := res.Table
	require.Equal(t, 2, out.RowCount())
	for i, hour := range []int{7, 8} {
		assert.Equal(t, at(hour, 0), out.Get(i, "From"))
		requireDecimal(t, "1", out.Get(i, "Rows"))
		requireDecimal(t, "1", out.Get(i, "Sum"))
	}
}

func TestRun_SerialAccumulatedCounter(t *testing.T) {
	src := newTable(t, []string{"Time", "Meter"},
		[]interface{}{at(1, 0), 10},
		[]interface{}{at(2, 10), 11},
	)
	s, err := NewSerial(src, "", "Time")
	require.NoError(t, err)
	require.NoError(t, s.AddInfoFrom("From"))
	require.NoError(t, s.AddSum("Meter", "Usage", Accumulated()))

	res, err := s.RunHourly(context.Background(), Options{})
	require.NoError(t, err)
	require.Equal(t, 1, res.Intervals)
	require.Equal(t, 2, res.Table.RowCount())

	first := res.Table.Get(0, "Usage").(decimal.Decimal)
	second := res.Table.Get(1, "Usage").(decimal.Decimal)
	assert.Equal(t, "0.857", first.StringFixed(3))
	assert.Equal(t, "0.143", second.StringFixed(3))
	assert.Equal(t, "1.000", first.Add(second).StringFixed(3))
}

func TestRun_SerialPairsPerGroup(t *testing.T) {
	// out of order on purpose
	src := newTable(t, []string{"Meter", "Time", "Value"},
		[]interface{}{"B", at(3, 0), 1},
		[]interface{}{"A", at(2, 0), 2},
		[]interface{}{"A", at(1, 0), 1},
		[]interface{}{"B", at(1, 0), 5},
		[]interface{}{"A", at(3, 0), 3},
	)
	s, err := NewSerial(src, "Meter", "Time")
	require.NoError(t, err)
	require.NoError(t, s.AddInfoGroup("Meter"))
	require.NoError(t, s.AddInfoRowCount("Intervals"))
	require.NoError(t, s.AddFirst("Value", "First"))

	res, err := s.RunDaily(context.Background(), Options{})
	require.NoError(t, err)
	// N readings per group yield N-1 intervals
	require.Equal(t, 3, res.Intervals)

	out := res.Table
	require.Equal(t, 2, out.RowCount())
	assert.Equal(t, "A", out.Get(0, "Meter"))
	assert.Equal(t, "B", out.Get(1, "Meter"))
	requireDecimal(t, "2", out.Get(0, "Intervals"))
	requireDecimal(t, "1", out.Get(1, "Intervals"))
	// first interval of A pairs 1 and 2
	requireDecimal(t, "1.5", out.Get(0, "First"))
	requireDecimal(t, "3", out.Get(1, "First"))
}

func TestRun_SkipsRowsWithoutInterval(t *testing.T) {
	src := newTable(t, []string{"Start", "End"},
		[]interface{}{at(7, 0), at(8, 0)},
		[]interface{}{at(7, 0), nil},
		[]interface{}{at(7, 45), at(7, 15)},
		[]interface{}{at(7, 30), at(7, 30)},
	)
	s, err := NewExplicit(src, "", "Start", "End")
	require.NoError(t, err)
	require.NoError(t, s.AddInfoRowCount("Rows"))

	res, err := s.RunHourly(context.Background(), Options{})
	require.NoError(t, err)
	require.Equal(t, 2, res.Intervals)

	skipped := res.SkippedRows()
	require.Len(t, skipped, 2)
	var rows []int
	for _, err := range skipped {
		require.ErrorIs(t, err, stackerr.ErrRowSkipped)
		var rowErr *stackerr.RowError
		require.True(t, errors.As(err, &rowErr))
		rows = append(rows, rowErr.Row)
	}
	assert.Equal(t, []int{1, 2}, rows)

	// the zero-length row counts as an instant
	require.Equal(t, 1, res.Table.RowCount())
	requireDecimal(t, "2", res.Table.Get(0, "Rows"))
}

func TestRun_GroupsOrderedWithinStart(t *testing.T) {
	src := newTable(t, []string{"Room", "Start", "End", "Persons"},
		[]interface{}{"b", at(7, 0), at(9, 0), 4},
		[]interface{}{"a", at(7, 30), at(8, 30), 2},
	)
	s, err := NewExplicit(src, "Room", "Start", "End")
	require.NoError(t, err)
	require.NoError(t, s.AddInfoFrom("Hour", WithFormat("HH:mm")))
	require.NoError(t, s.AddInfoGroup("Room"))
	require.NoError(t, s.AddMax("Persons", "Persons"))

	res, err := s.RunHourly(context.Background(), Options{Workers: 2})
	require.NoError(t, err)

	out := res.Table
	require.Equal(t, 4, out.RowCount())
	want := [][2]string{{"07:00", "a"}, {"07:00", "b"}, {"08:00", "a"}, {"08:00", "b"}}
	for i, w := range want {
		assert.Equal(t, w[0], out.Get(i, "Hour"), "row %d", i)
		assert.Equal(t, w[1], out.Get(i, "Room"), "row %d", i)
	}
	requireDecimal(t, "2", out.Get(0, "Persons"))
	requireDecimal(t, "4", out.Get(1, "Persons"))
}

func TestRun_HourWindowAndStep(t *testing.T) {
	src := newTable(t, []string{"Start", "End", "Value"},
		[]interface{}{at(6, 0), at(12, 0), 6},
	)
	s, err := NewExplicit(src, "", "Start", "End")
	require.NoError(t, err)
	require.NoError(t, s.AddInfoFrom("From"))
	require.NoError(t, s.AddSum("Value", "Sum"))

	res, err := s.RunHourly(context.Background(), Options{Step: 2, Window: &span.HourWindow{From: 8, To: 12}})
	require.NoError(t, err)

	out := res.Table
	require.Equal(t, 2, out.RowCount())
	assert.Equal(t, at(8, 0), out.Get(0, "From"))
	assert.Equal(t, at(10, 0), out.Get(1, "From"))
	requireRounded(t, "2", out.Get(0, "Sum"))
	requireRounded(t, "2", out.Get(1, "Sum"))
}

func TestRun_MonthlyFollowsCalendar(t *testing.T) {
	src := newTable(t, []string{"Start", "End", "Days"},
		[]interface{}{
			time.Date(2022, 1, 15, 0, 0, 0, 0, time.UTC),
			time.Date(2022, 2, 15, 0, 0, 0, 0, time.UTC),
			31,
		},
	)
	s, err := NewExplicit(src, "", "Start", "End")
	require.NoError(t, err)
	require.NoError(t, s.AddSum("Days", "Days"))

	res, err := s.RunMonthly(context.Background(), Options{})
	require.NoError(t, err)
	require.Equal(t, 2, res.Table.RowCount())
	requireRounded(t, "17", res.Table.Get(0, "Days"))
	requireRounded(t, "14", res.Table.Get(1, "Days"))
}

func TestRun_EmptySourceYieldsEmptyTable(t *testing.T) {
	src := newTable(t, []string{"Start", "End", "Value"})
	s, err := NewExplicit(src, "", "Start", "End")
	require.NoError(t, err)
	require.NoError(t, s.AddSum("Value", "Sum"))

	res, err := s.RunYearly(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"Sum"}, res.Table.Headers())
	assert.Equal(t, 0, res.Table.RowCount())
}

func TestRun_CancelledContext(t *testing.T) {
	src := newTable(t, []string{"Start", "End", "Value"},
		[]interface{}{at(7, 0), at(9, 0), 10},
	)
	s, err := NewExplicit(src, "", "Start", "End")
	require.NoError(t, err)
	require.NoError(t, s.AddSum("Value", "Sum"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.RunHourly(ctx, Options{})
	require.ErrorIs(t, err, context.Canceled)
}

func TestRun_RequiresColumns(t *testing.T) {
	src := newTable(t, []string{"Start", "End"}, []interface{}{at(7, 0), at(8, 0)})
	s, err := NewExplicit(src, "", "Start", "End")
	require.NoError(t, err)

	_, err = s.RunHourly(context.Background(), Options{})
	var cfgErr *stackerr.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
}

func TestStack_ConfigurationErrors(t *testing.T) {
	src := newTable(t, []string{"Room", "Start", "End", "Value"},
		[]interface{}{"a", at(7, 0), at(8, 0), 1},
	)

	tests := []struct {
		name   string
		build  func() error
		header string
	}{
		{
			name: "missing time header",
			build: func() error {
				_, err := NewExplicit(src, "", "Begin", "End")
				return err
			},
			header: "Begin",
		},
		{
			name: "time header holds numbers",
			build: func() error {
				_, err := NewSerial(src, "", "Value")
				return err
			},
			header: "Value",
		},
		{
			name: "missing group header",
			build: func() error {
				_, err := NewExplicit(src, "Site", "Start", "End")
				return err
			},
			header: "Site",
		},
		{
			name: "duplicate output header",
			build: func() error {
				s, err := NewExplicit(src, "", "Start", "End")
				require.NoError(t, err)
				require.NoError(t, s.AddSum("Value", "Total"))
				return s.AddMax("Value", "Total")
			},
			header: "Total",
		},
		{
			name: "unknown source header",
			build: func() error {
				s, err := NewExplicit(src, "", "Start", "End")
				require.NoError(t, err)
				return s.AddAverage("Persons", "")
			},
			header: "Persons",
		},
		{
			name: "numeric reducer on text column",
			build: func() error {
				s, err := NewExplicit(src, "", "Start", "End")
				require.NoError(t, err)
				return s.AddSum("Room", "Rooms")
			},
			header: "Room",
		},
		{
			name: "unknown template token",
			build: func() error {
				s, err := NewExplicit(src, "", "Start", "End")
				require.NoError(t, err)
				return s.AddInfoFormat("Label", "[Site] [:From]")
			},
			header: "Label",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.build()
			require.Error(t, err)
			var cfgErr *stackerr.ConfigurationError
			require.True(t, errors.As(err, &cfgErr), "got %v", err)
			assert.Equal(t, tc.header, cfgErr.Header)
		})
	}
}

func TestNewSerial_TypeMismatchIsWrapped(t *testing.T) {
	src := newTable(t, []string{"Time"}, []interface{}{"not a time"})
	_, err := NewSerial(src, "", "Time")
	require.ErrorIs(t, err, stackerr.ErrTypeMismatch)
}

func TestFromDefinition(t *testing.T) {
	def, err := aggregation.ParseDefinition([]byte(`
name: meter-usage
mode: serial
group: Meter
timestamp: Time
granularity: day
columns:
  - kind: info_group
    header: Meter
  - kind: sum
    source: Reading
    header: Usage
    accumulated: true
    factor: 1000
`))
	require.NoError(t, err)

	src := newTable(t, []string{"Meter", "Time", "Reading"},
		[]interface{}{"m1", at(0, 0), 1.5},
		[]interface{}{"m1", at(12, 0), 1.75},
		[]interface{}{"m1", time.Date(2022, 1, 2, 12, 0, 0, 0, time.UTC), 2.25},
	)
	s, err := FromDefinition(src, def)
	require.NoError(t, err)
	require.Equal(t, aggregation.ModeSerial, s.Mode())
	for _, c := range s.Columns() {
		assert.True(t, c.Serial, c.Header)
	}

	res, err := s.Run(context.Background(), OptionsFromDefinition(def, 1))
	require.NoError(t, err)
	require.Equal(t, 2, res.Table.RowCount())
	// 250 over the first 12 hours, then 500 over 24 hours split evenly
	requireDecimal(t, "500", res.Table.Get(0, "Usage"))
	requireDecimal(t, "250", res.Table.Get(1, "Usage"))
}

func TestFromDefinition_UnknownHeader(t *testing.T) {
	def := &aggregation.StackDefinition{
		Name:  "bookings",
		Mode:  aggregation.ModeExplicit,
		From:  "Start",
		To:    "Finish",
		Group: "",
	}
	src := newTable(t, []string{"Start", "End"})
	_, err := FromDefinition(src, def)
	require.ErrorContains(t, err, `stack "bookings"`)
	var cfgErr *stackerr.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "Finish", cfgErr.Header)
}
