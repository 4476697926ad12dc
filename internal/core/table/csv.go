package table

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/aevon-lab/timestack/internal/core/timeparse"
	"github.com/shopspring/decimal"
)

// DefaultTimeLayout is the sortable layout used when writing timestamps.
const DefaultTimeLayout = "2006-01-02T15:04:05"

// ReadOptions controls CSV import.
type ReadOptions struct {
	Comma rune
	// Dates detects timestamp cells. A fresh UTC cache is used when nil.
	Dates *timeparse.Cache
}

// ReadCSV imports a CSV stream whose first record is the header row.
// Each cell is typed independently: int, float, bool, timestamp, else string.
func ReadCSV(r io.Reader, opts ReadOptions) (*MemTable, error) {
	reader := csv.NewReader(r)
	if opts.Comma != 0 {
		reader.Comma = opts.Comma
	}
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	dates := opts.Dates
	if dates == nil {
		dates = timeparse.New(time.UTC)
	}

	header, err := reader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("csv input is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("reading csv header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	b, err := NewBuilder(header...)
	if err != nil {
		return nil, err
	}

	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("reading csv line %d: %w", line, err)
		}
		if len(record) > len(header) {
			return nil, fmt.Errorf("csv line %d has %d fields, header has %d", line, len(record), len(header))
		}

		values := make([]interface{}, len(header))
		for i, raw := range record {
			values[i] = inferCell(raw, dates)
		}
		if err := b.AppendRow(values...); err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}
	}

	t := b.Table()
	slog.Debug("[CSV] Table loaded",
		"rows", t.RowCount(),
		"columns", len(header),
		"date_layouts", dates.Learned(),
	)
	return t, nil
}

func inferCell(raw string, dates *timeparse.Cache) interface{} {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}
	i, err := strconv.ParseInt(s, 10, 64)
	if err == nil {
		return i
	}
	if errors.Is(err, strconv.ErrRange) {
		// wider than int64; keep every digit
		if d, err := decimal.NewFromString(s); err == nil {
			return d
		}
	}
	if looksNumeric(s) {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	if strings.EqualFold(s, "true") {
		return true
	}
	if strings.EqualFold(s, "false") {
		return false
	}
	if t, ok := dates.Parse(s); ok {
		return t
	}
	return s
}

// looksNumeric rejects the NaN/Inf spellings strconv.ParseFloat accepts.
func looksNumeric(s string) bool {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r == '.', r == '-', r == '+', r == 'e', r == 'E':
		default:
			return false
		}
	}
	return true
}

// WriteOptions controls CSV and JSON export.
type WriteOptions struct {
	Comma      rune
	TimeLayout string
}

func (o WriteOptions) layout() string {
	if o.TimeLayout == "" {
		return DefaultTimeLayout
	}
	return o.TimeLayout
}

// WriteCSV exports t with a header row.
func WriteCSV(w io.Writer, t Table, opts WriteOptions) error {
	writer := csv.NewWriter(w)
	if opts.Comma != 0 {
		writer.Comma = opts.Comma
	}
	headers := t.Headers()
	if err := writer.Write(headers); err != nil {
		return fmt.Errorf("writing csv header: %w", err)
	}

	record := make([]string, len(headers))
	for _, row := range t.Rows() {
		for col := range headers {
			v, _ := t.Cell(row, col)
			record[col] = FormatCell(v, opts.layout())
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("writing csv row %d: %w", row, err)
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteJSON exports t as an array of objects keeping header order.
func WriteJSON(w io.Writer, t Table, opts WriteOptions) error {
	headers := t.Headers()
	var buf bytes.Buffer
	buf.WriteString("[")
	for i, row := range t.Rows() {
		if i > 0 {
			buf.WriteString(",")
		}
		buf.WriteString("\n  {")
		for col, h := range headers {
			if col > 0 {
				buf.WriteString(", ")
			}
			key, err := json.Marshal(h)
			if err != nil {
				return fmt.Errorf("encoding header %q: %w", h, err)
			}
			v, _ := t.Cell(row, col)
			val, err := jsonCell(v, opts.layout())
			if err != nil {
				return fmt.Errorf("encoding row %d column %q: %w", row, h, err)
			}
			buf.Write(key)
			buf.WriteString(": ")
			buf.Write(val)
		}
		buf.WriteString("}")
	}
	buf.WriteString("\n]\n")
	_, err := w.Write(buf.Bytes())
	return err
}

func jsonCell(v interface{}, layout string) ([]byte, error) {
	switch val := v.(type) {
	case time.Time:
		return json.Marshal(val.Format(layout))
	case decimal.Decimal:
		// Unquoted so consumers read a JSON number.
		return []byte(val.String()), nil
	default:
		return json.Marshal(val)
	}
}

// FormatCell renders a cell as text. Null renders as the empty string.
func FormatCell(v interface{}, layout string) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case decimal.Decimal:
		return val.String()
	case time.Time:
		if layout == "" {
			layout = DefaultTimeLayout
		}
		return val.Format(layout)
	default:
		return fmt.Sprint(val)
	}
}
