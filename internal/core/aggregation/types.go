package aggregation

import (
	"github.com/shopspring/decimal"
)

// Kind names a reducer. The string form is what stack definition files use.
type Kind string

const (
	KindSum             Kind = "sum"
	KindAverage         Kind = "average"
	KindAverageWeighted Kind = "average_weighted"
	KindFirst           Kind = "first"
	KindLast            Kind = "last"
	KindFirstNotNull    Kind = "first_not_null"
	KindMin             Kind = "min"
	KindMax             Kind = "max"

	KindInfoFrom     Kind = "info_from"
	KindInfoTo       Kind = "info_to"
	KindInfoGroup    Kind = "info_group"
	KindInfoRowCount Kind = "info_row_count"
	KindInfoLength   Kind = "info_length"
	KindInfoFormat   Kind = "info_format"
)

// NeedsSource reports whether the reducer reads a source column.
func (k Kind) NeedsSource() bool {
	switch k {
	case KindSum, KindAverage, KindAverageWeighted, KindFirst, KindLast, KindFirstNotNull, KindMin, KindMax:
		return true
	}
	return false
}

// Numeric reports whether the reducer only accepts numeric source columns.
func (k Kind) Numeric() bool {
	switch k {
	case KindSum, KindAverage, KindAverageWeighted, KindMin, KindMax:
		return true
	}
	return false
}

// OutputColumn declares one column of the stacked output.
type OutputColumn struct {
	// Source is the source header. Empty for metadata columns.
	Source string
	// Header is the output header; unique within a stack.
	Header string
	Kind   Kind
	// Format is the template of InfoFormat, or a time layout for InfoFrom/InfoTo.
	Format      string
	Accumulated bool
	Serial      bool
	// Factor scales numeric results. The zero value means 1.
	Factor decimal.Decimal
}

// Scale returns the effective factor.
func (c *OutputColumn) Scale() decimal.Decimal {
	if c.Factor.IsZero() {
		return decimal.NewFromInt(1)
	}
	return c.Factor
}
