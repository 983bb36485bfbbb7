package cleaning

import (
	"fmt"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"github.com/3leaps/cleanstep/pkg/table"
)

// DatePolicy decides what happens to a value that is not a date.
type DatePolicy string

const (
	// DatePolicyStrict aborts on the first non-empty unparsable value.
	DatePolicyStrict DatePolicy = "strict"
	// DatePolicyLenient turns unparsable values into missing dates.
	DatePolicyLenient DatePolicy = "lenient"
)

// ParseDatePolicy validates s. Empty means strict.
func ParseDatePolicy(s string) (DatePolicy, error) {
	switch DatePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", DatePolicyStrict:
		return DatePolicyStrict, nil
	case DatePolicyLenient:
		return DatePolicyLenient, nil
	default:
		return "", fmt.Errorf("unknown date policy %q (want strict or lenient)", s)
	}
}

const (
	dateLayout     = "2006-01-02"
	dateTimeLayout = "2006-01-02 15:04:05"
)

// DateCoercionError identifies the value that failed strict coercion.
// Line is the value's line in the source file, or zero when the table was
// not read from one.
type DateCoercionError struct {
	Column string
	Line   int
	Value  string
}

func (e *DateCoercionError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s: line %d: %q is not a date", e.Column, e.Line, e.Value)
	}
	return fmt.Sprintf("%s: %q is not a date", e.Column, e.Value)
}

func (e *DateCoercionError) Unwrap() error { return ErrDateCoercion }

// ParseDate reads s as a date. With no layouts the format is detected
// (ISO, US month-first, named months, compact yyyymmdd, with or without a
// time of day) and zone-less values are taken as UTC. Given layouts, only
// those are tried, in order.
func ParseDate(s string, layouts []string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if len(layouts) > 0 {
		for _, layout := range layouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts, true
			}
		}
		return time.Time{}, false
	}
	// Values without a digit are never dates.
	if !strings.ContainsAny(s, "0123456789") {
		return time.Time{}, false
	}
	ts, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// CoerceDates rewrites column in place as normalized dates and marks it as a
// date column. Missing values are written as empty cells. Dates without a
// time of day render as YYYY-MM-DD; otherwise every value carries a time.
// Returns the number of missing dates.
func CoerceDates(t *table.Table, column string, policy DatePolicy, layouts []string) (int, error) {
	cells, err := t.Column(column)
	if err != nil {
		return 0, err
	}

	parsed := make([]time.Time, len(cells))
	valid := make([]bool, len(cells))
	missing := 0
	allMidnight := true

	for i, cell := range cells {
		if table.IsMissing(cell) {
			missing++
			continue
		}
		ts, ok := ParseDate(cell, layouts)
		if !ok {
			if policy == DatePolicyStrict {
				return 0, &DateCoercionError{Column: column, Line: t.Line(i), Value: cell}
			}
			missing++
			continue
		}
		parsed[i], valid[i] = ts, true
		if h, m, s := ts.Clock(); h != 0 || m != 0 || s != 0 || ts.Nanosecond() != 0 {
			allMidnight = false
		}
	}

	layout := dateLayout
	if !allMidnight {
		layout = dateTimeLayout
	}

	out := make([]string, len(cells))
	for i := range cells {
		if valid[i] {
			out[i] = parsed[i].Format(layout)
		}
	}
	if err := t.SetColumn(column, table.TypeDate, out); err != nil {
		return 0, err
	}
	return missing, nil
}
