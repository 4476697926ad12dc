package aggregation

import (
	"sort"

	stackerr "github.com/aevon-lab/timestack/internal/core/errors"
	"github.com/aevon-lab/timestack/internal/core/span"
	"github.com/shopspring/decimal"
)

// Reducer computes one output cell from a bucket.
// To add a new reducer: implement this interface and register it in Reducers.
// Returning an error wrapping ErrUndefinedAggregate yields a null cell.
type Reducer interface {
	Reduce(in *Input) (interface{}, error)
}

// Reducers is the registry of all supported reducer kinds.
var Reducers = map[Kind]Reducer{
	KindSum:             sumReducer{},
	KindAverage:         averageReducer{},
	KindAverageWeighted: weightedReducer{},
	KindFirst:           edgeReducer{last: false},
	KindLast:            edgeReducer{last: true},
	KindFirstNotNull:    firstNotNullReducer{},
	KindMin:             extremeReducer{max: false},
	KindMax:             extremeReducer{max: true},
	KindInfoFrom:        infoFromReducer{},
	KindInfoTo:          infoToReducer{},
	KindInfoGroup:       infoGroupReducer{},
	KindInfoRowCount:    infoRowCountReducer{},
	KindInfoLength:      infoLengthReducer{},
	KindInfoFormat:      infoFormatReducer{},
}

// ValidKind reports whether k is a registered reducer.
func ValidKind(k Kind) bool {
	_, ok := Reducers[k]
	return ok
}

// sumReducer adds contributions. An empty bucket sums to 0.
type sumReducer struct{}

func (sumReducer) Reduce(in *Input) (interface{}, error) {
	samples, err := in.Samples()
	if err != nil {
		return nil, err
	}
	total := decimal.Zero
	for _, s := range samples {
		total = total.Add(s.Contribution)
	}
	return total.Mul(in.Column.Scale()), nil
}

// averageReducer divides by the sample count. Accumulated columns average
// their deltas, everything else its representative values.
type averageReducer struct{}

func (averageReducer) Reduce(in *Input) (interface{}, error) {
	samples, err := in.Samples()
	if err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, stackerr.ErrUndefinedAggregate
	}
	total := decimal.Zero
	for _, s := range samples {
		if in.Column.Accumulated {
			total = total.Add(s.Contribution)
		} else {
			total = total.Add(s.Value)
		}
	}
	return total.Div(decimal.NewFromInt(int64(len(samples)))).Mul(in.Column.Scale()), nil
}

// weightedReducer divides contributions by the covered hours.
type weightedReducer struct{}

func (weightedReducer) Reduce(in *Input) (interface{}, error) {
	samples, err := in.Samples()
	if err != nil {
		return nil, err
	}
	total, weight := decimal.Zero, decimal.Zero
	for _, s := range samples {
		total = total.Add(s.Contribution)
		weight = weight.Add(s.Weight)
	}
	if weight.IsZero() {
		return nil, stackerr.ErrDivisionByZero
	}
	return total.Div(weight).Mul(in.Column.Scale()), nil
}

type extremeReducer struct{ max bool }

func (r extremeReducer) Reduce(in *Input) (interface{}, error) {
	samples, err := in.Samples()
	if err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, stackerr.ErrUndefinedAggregate
	}
	best := samples[0].Value
	for _, s := range samples[1:] {
		if (r.max && s.Value.GreaterThan(best)) || (!r.max && s.Value.LessThan(best)) {
			best = s.Value
		}
	}
	return best.Mul(in.Column.Scale()), nil
}

// edgeReducer picks the chronologically first or last assignment.
type edgeReducer struct{ last bool }

func (r edgeReducer) Reduce(in *Input) (interface{}, error) {
	ordered := in.Chronological()
	if len(ordered) == 0 {
		return nil, stackerr.ErrUndefinedAggregate
	}
	a := ordered[0]
	if r.last {
		a = ordered[len(ordered)-1]
	}

	if !in.numeric {
		row := a.Interval.Ref.Row
		if r.last && in.Column.Serial && a.Interval.Ref.Serial() {
			row = a.Interval.Ref.Next
		}
		v := in.Cell(row)
		if v == nil {
			return nil, stackerr.ErrUndefinedAggregate
		}
		return v, nil
	}

	s, ok, err := in.sample(a)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, stackerr.ErrUndefinedAggregate
	}
	return s.Value.Mul(in.Column.Scale()), nil
}

// firstNotNullReducer returns the first non-null cell among the bucket's
// assignments in source-row order. When every assigned cell is null it falls
// back to the first non-null cell of the bucket's group in the whole source.
type firstNotNullReducer struct{}

func (firstNotNullReducer) Reduce(in *Input) (interface{}, error) {
	rows := make([]int, 0, len(in.Bucket.Assignments))
	for i := range in.Bucket.Assignments {
		rows = append(rows, in.Bucket.Assignments[i].Interval.Ref.Row)
	}
	sort.Ints(rows)
	for _, row := range rows {
		if v := in.Cell(row); v != nil {
			return in.scaled(v)
		}
	}
	if v := in.groupFirst(in.Bucket.Group); v != nil {
		return in.scaled(v)
	}
	return nil, stackerr.ErrUndefinedAggregate
}

type infoFromReducer struct{}

func (infoFromReducer) Reduce(in *Input) (interface{}, error) {
	return formatTime(in.Bucket.From, in.Column.Format), nil
}

type infoToReducer struct{}

func (infoToReducer) Reduce(in *Input) (interface{}, error) {
	return formatTime(in.Bucket.To, in.Column.Format), nil
}

type infoGroupReducer struct{}

func (infoGroupReducer) Reduce(in *Input) (interface{}, error) {
	return in.Bucket.Group.Value(), nil
}

type infoRowCountReducer struct{}

func (infoRowCountReducer) Reduce(in *Input) (interface{}, error) {
	return decimal.NewFromInt(int64(len(in.Bucket.Assignments))).Mul(in.Column.Scale()), nil
}

// infoLengthReducer reports the merged coverage in hours.
type infoLengthReducer struct{}

func (infoLengthReducer) Reduce(in *Input) (interface{}, error) {
	return span.CoverageOf(in.Bucket.Assignments).Hours().Mul(in.Column.Scale()), nil
}

type infoFormatReducer struct{}

func (infoFormatReducer) Reduce(in *Input) (interface{}, error) {
	return in.template.render(in), nil
}
