package aggregation

import (
	"fmt"
	"math"

	stackerr "github.com/aevon-lab/timestack/internal/core/errors"
	"github.com/shopspring/decimal"
)

// ExtractDecimal converts a numeric table cell to an exact decimal.
// NaN, Inf and non-numeric values fail with ErrNotRepresentable; callers
// filter null cells before calling.
func ExtractDecimal(v interface{}) (decimal.Decimal, error) {
	switch val := v.(type) {
	case decimal.Decimal:
		return val, nil
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return decimal.Zero, fmt.Errorf("%w: %v", stackerr.ErrNotRepresentable, val)
		}
		return decimal.NewFromFloat(val), nil
	case float32:
		f := float64(val)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return decimal.Zero, fmt.Errorf("%w: %v", stackerr.ErrNotRepresentable, val)
		}
		return decimal.NewFromFloat32(val), nil
	case int:
		return decimal.NewFromInt(int64(val)), nil
	case int64:
		return decimal.NewFromInt(val), nil
	case int32:
		return decimal.NewFromInt(int64(val)), nil
	case string:
		d, err := decimal.NewFromString(val)
		if err != nil {
			return decimal.Zero, fmt.Errorf("%w: %q", stackerr.ErrNotRepresentable, val)
		}
		return d, nil
	}
	return decimal.Zero, fmt.Errorf("%w: %T", stackerr.ErrNotRepresentable, v)
}
