package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrRowSkipped marks a source row that could not become an interval.
	// Non-fatal: the row is excluded and the run continues.
	ErrRowSkipped = errors.New("row skipped")

	// ErrUndefinedAggregate is returned by a reducer that has nothing to reduce.
	// The orchestrator writes a null cell for it.
	ErrUndefinedAggregate = errors.New("undefined aggregate")

	// ErrDivisionByZero is an undefined aggregate caused by a zero total weight.
	ErrDivisionByZero = fmt.Errorf("%w: division by zero", ErrUndefinedAggregate)

	// ErrNotRepresentable is returned when a value cannot be carried exactly
	// through decimal arithmetic (NaN, Inf, non-numeric cells in numeric reducers).
	ErrNotRepresentable = errors.New("value not representable")

	// ErrTypeMismatch is returned when a column is read as an incompatible type.
	ErrTypeMismatch = errors.New("column type mismatch")
)

// ConfigurationError reports a structural misconfiguration detected before any
// row is processed: missing header, wrong column type, duplicate output header.
type ConfigurationError struct {
	Header string `json:"header,omitempty"`
	Reason string `json:"reason"`
	Err    error  `json:"-"`
}

func (e *ConfigurationError) Error() string {
	if e.Header != "" {
		return fmt.Sprintf("configuration: header %q: %s", e.Header, e.Reason)
	}
	return fmt.Sprintf("configuration: %s", e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// Details returns the structured fields of the error for log attributes.
func (e *ConfigurationError) Details() map[string]interface{} {
	d := map[string]interface{}{"reason": e.Reason}
	if e.Header != "" {
		d["header"] = e.Header
	}
	return d
}

// NewConfigurationError creates a ConfigurationError for header.
func NewConfigurationError(header, format string, args ...interface{}) *ConfigurationError {
	return &ConfigurationError{Header: header, Reason: fmt.Sprintf(format, args...)}
}

// RowError describes why a single source row was skipped.
type RowError struct {
	Row    int
	Reason string
}

func (e *RowError) Error() string {
	return fmt.Sprintf("row %d: %s", e.Row, e.Reason)
}

func (e *RowError) Unwrap() error { return ErrRowSkipped }

// IsUndefined reports whether err marks an undefined aggregate.
func IsUndefined(err error) bool {
	return errors.Is(err, ErrUndefinedAggregate)
}
