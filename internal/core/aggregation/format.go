package aggregation

import (
	"regexp"
	"strings"
	"time"

	stackerr "github.com/aevon-lab/timestack/internal/core/errors"
	"github.com/aevon-lab/timestack/internal/core/table"
)

var placeholder = regexp.MustCompile(`\[(.*?)\]`)

// dotnet-style date tokens, longest first so "yyyy" wins over "yy".
var layoutTokens = strings.NewReplacer(
	"yyyy", "2006",
	"YYYY", "2006",
	"yy", "06",
	"MMMM", "January",
	"MMM", "Jan",
	"MM", "01",
	"dddd", "Monday",
	"ddd", "Mon",
	"dd", "02",
	"DD", "02",
	"HH", "15",
	"hh", "03",
	"mm", "04",
	"ss", "05",
	"tt", "PM",
)

// Layout turns a user date format into a Go time layout. Go reference
// layouts pass through; "yyyy-MM-dd HH:mm" style tokens are translated.
// Empty and "s" mean the sortable default.
func Layout(format string) string {
	if format == "" || format == "s" {
		return table.DefaultTimeLayout
	}
	for _, ref := range []string{"2006", "15", "04", "Jan", "Mon"} {
		if strings.Contains(format, ref) {
			return format
		}
	}
	return layoutTokens.Replace(format)
}

func formatTime(t time.Time, layout string) interface{} {
	if layout == "" {
		return t
	}
	return t.Format(layout)
}

type segment struct {
	literal string
	meta    string
	layout  string
	col     int
}

// template is a parsed InfoFormat string such as
// "From: [:From:yyyy-MM-dd], Data: [Data]".
type template struct {
	segments []segment
}

func parseTemplate(header, format string, src table.Table) (*template, error) {
	tpl := &template{}
	last := 0
	for _, m := range placeholder.FindAllStringSubmatchIndex(format, -1) {
		if m[0] > last {
			tpl.segments = append(tpl.segments, segment{literal: format[last:m[0]], col: -1})
		}
		last = m[1]

		token := strings.TrimSpace(format[m[2]:m[3]])
		if strings.HasPrefix(token, ":") {
			name, layout, _ := strings.Cut(token[1:], ":")
			switch name {
			case "From", "To":
				tpl.segments = append(tpl.segments, segment{meta: name, layout: Layout(layout), col: -1})
			case "Group":
				tpl.segments = append(tpl.segments, segment{meta: name, col: -1})
			default:
				return nil, stackerr.NewConfigurationError(header, "unknown placeholder [%s]", token)
			}
			continue
		}

		col, ok := src.ColumnID(token)
		if !ok {
			return nil, stackerr.NewConfigurationError(header, "placeholder [%s] names no source header", token)
		}
		tpl.segments = append(tpl.segments, segment{col: col})
	}
	if last < len(format) {
		tpl.segments = append(tpl.segments, segment{literal: format[last:], col: -1})
	}
	return tpl, nil
}

// render fills header placeholders from the bucket's first assignment.
func (t *template) render(in *Input) string {
	var sb strings.Builder
	for _, s := range t.segments {
		switch {
		case s.meta == "From":
			sb.WriteString(in.Bucket.From.Format(s.layout))
		case s.meta == "To":
			sb.WriteString(in.Bucket.To.Format(s.layout))
		case s.meta == "Group":
			sb.WriteString(in.Bucket.Group.String())
		case s.col >= 0:
			if len(in.Bucket.Assignments) == 0 {
				continue
			}
			v, _ := in.engine.src.Cell(in.Bucket.Assignments[0].Interval.Ref.Row, s.col)
			sb.WriteString(table.FormatCell(v, table.DefaultTimeLayout))
		default:
			sb.WriteString(s.literal)
		}
	}
	return sb.String()
}
