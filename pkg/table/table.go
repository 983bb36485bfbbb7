// Package table holds a delimited-text dataset in memory.
//
// Cells are kept as the raw text read from disk so a table that is written
// back out reproduces untouched values byte for byte. Typed access (floats,
// dates) is computed per column on demand.
package table

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var (
	// ErrParse indicates the input is not valid delimited tabular text.
	ErrParse = errors.New("parse failure")

	// ErrMissingColumn indicates a required column is absent from the header.
	ErrMissingColumn = errors.New("missing column")

	// ErrNotNumeric indicates a non-missing cell could not be read as a number.
	ErrNotNumeric = errors.New("non-numeric value")
)

// ColumnType is the inferred or assigned type of a column.
type ColumnType string

const (
	TypeString ColumnType = "string"
	TypeFloat  ColumnType = "float"
	TypeDate   ColumnType = "date"
)

// naValues are cell values read as missing, matching common CSV tooling.
var naValues = map[string]struct{}{
	"":     {},
	"NA":   {},
	"N/A":  {},
	"NaN":  {},
	"nan":  {},
	"NULL": {},
	"null": {},
}

// IsMissing reports whether a raw cell value denotes a missing value.
func IsMissing(cell string) bool {
	_, ok := naValues[strings.TrimSpace(cell)]
	return ok
}

// Table is a header plus rows of raw cells. Every row has len(header) cells.
// lines[i] is the source line row i started on; it survives Filter.
type Table struct {
	header []string
	index  map[string]int
	types  map[string]ColumnType
	rows   [][]string
	lines  []int
}

// New builds a table, checking that every row matches the header width.
// Rows are numbered as if read from a file with one line per row.
func New(header []string, rows [][]string) (*Table, error) {
	lines := make([]int, len(rows))
	for i := range lines {
		lines[i] = i + 2
	}
	return newTable(header, rows, lines)
}

func newTable(header []string, rows [][]string, lines []int) (*Table, error) {
	if len(header) == 0 {
		return nil, fmt.Errorf("header is empty: %w", ErrParse)
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		if _, dup := index[name]; dup {
			return nil, fmt.Errorf("duplicate column %q: %w", name, ErrParse)
		}
		index[name] = i
	}
	for i, row := range rows {
		if len(row) != len(header) {
			return nil, &ParseError{
				Line: lines[i],
				Err:  fmt.Errorf("row has %d fields, header has %d", len(row), len(header)),
			}
		}
	}
	return &Table{
		header: append([]string(nil), header...),
		index:  index,
		types:  make(map[string]ColumnType),
		rows:   rows,
		lines:  lines,
	}, nil
}

// Header returns a copy of the column names.
func (t *Table) Header() []string {
	return append([]string(nil), t.header...)
}

// Len returns the number of data rows.
func (t *Table) Len() int {
	return len(t.rows)
}

// Line returns the source line row i started on.
func (t *Table) Line(i int) int {
	return t.lines[i]
}

// HasColumn reports whether name is in the header.
func (t *Table) HasColumn(name string) bool {
	_, ok := t.index[name]
	return ok
}

// Column returns the raw cells of a column.
func (t *Table) Column(name string) ([]string, error) {
	c, ok := t.index[name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, ErrMissingColumn)
	}
	out := make([]string, len(t.rows))
	for i, row := range t.rows {
		out[i] = row[c]
	}
	return out, nil
}

// Floats reads a column as numbers. Missing cells become NaN.
func (t *Table) Floats(name string) ([]float64, error) {
	cells, err := t.Column(name)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(cells))
	for i, cell := range cells {
		if IsMissing(cell) {
			out[i] = math.NaN()
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
		if err != nil {
			return nil, fmt.Errorf("column %q line %d: %q: %w", name, t.lines[i], cell, ErrNotNumeric)
		}
		out[i] = v
	}
	return out, nil
}

// SetColumn replaces every cell of an existing column and records its type.
func (t *Table) SetColumn(name string, typ ColumnType, cells []string) error {
	c, ok := t.index[name]
	if !ok {
		return fmt.Errorf("%q: %w", name, ErrMissingColumn)
	}
	if len(cells) != len(t.rows) {
		return fmt.Errorf("column %q: got %d values for %d rows", name, len(cells), len(t.rows))
	}
	for i := range t.rows {
		t.rows[i][c] = cells[i]
	}
	t.types[name] = typ
	return nil
}

// Type returns the column's assigned type, inferring float or string when
// none was set.
func (t *Table) Type(name string) ColumnType {
	if typ, ok := t.types[name]; ok {
		return typ
	}
	if _, err := t.Floats(name); err == nil && t.HasColumn(name) {
		return TypeFloat
	}
	return TypeString
}

// Filter returns a new table holding the rows for which keep returns true.
// The receiver is unchanged.
func (t *Table) Filter(keep func(i int) bool) *Table {
	rows := make([][]string, 0, len(t.rows))
	lines := make([]int, 0, len(t.rows))
	for i, row := range t.rows {
		if keep(i) {
			rows = append(rows, append([]string(nil), row...))
			lines = append(lines, t.lines[i])
		}
	}
	out := &Table{
		header: append([]string(nil), t.header...),
		index:  t.index,
		types:  make(map[string]ColumnType, len(t.types)),
		rows:   rows,
		lines:  lines,
	}
	for k, v := range t.types {
		out.types[k] = v
	}
	return out
}

// Between reports whether v lies in the closed interval [lo, hi].
// NaN never does.
func Between(v, lo, hi float64) bool {
	return v >= lo && v <= hi
}
