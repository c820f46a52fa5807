// Package dataset defines the in-memory tabular model the pipeline operates
// on and its spreadsheet I/O. A Table is an ordered set of named columns over
// row-major cells; every cell is Missing, a Number, or Text. Stages never
// share mutable state: operations either mutate a table they own or return a
// fresh one.
package dataset

import (
	"fmt"
	"math"
	"strconv"
)

// Kind discriminates cell contents.
type Kind uint8

const (
	KindMissing Kind = iota
	KindNumber
	KindText
)

// Value is one cell. The zero value is a missing cell.
type Value struct {
	Kind Kind
	Num  float64
	Str  string
}

// Missing is the canonical missing cell.
var Missing = Value{}

// Number returns a numeric cell. NaN and infinities are not representable
// measurements and collapse to Missing.
func Number(v float64) Value {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Missing
	}
	return Value{Kind: KindNumber, Num: v}
}

// Text returns a textual cell.
func Text(s string) Value {
	return Value{Kind: KindText, Str: s}
}

// Parse converts a raw spreadsheet cell into a Value: empty → Missing,
// numeric → Number, anything else → Text.
func Parse(raw string) Value {
	if raw == "" {
		return Missing
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return Number(f)
	}
	return Text(raw)
}

// IsMissing reports whether the cell has no usable value.
func (v Value) IsMissing() bool {
	return v.Kind == KindMissing
}

// Float returns the numeric value when the cell is a Number.
func (v Value) Float() (float64, bool) {
	if v.Kind != KindNumber {
		return 0, false
	}
	return v.Num, true
}

// Equal compares two cells by kind and content. Missing equals Missing, so
// duplicate detection treats absent values as identical.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindNumber:
		return v.Num == o.Num
	case KindText:
		return v.Str == o.Str
	}
	return true
}

// String renders the cell for display. Missing renders empty.
func (v Value) String() string {
	switch v.Kind {
	case KindNumber:
		return strconv.FormatFloat(v.Num, 'g', -1, 64)
	case KindText:
		return v.Str
	}
	return ""
}

// Table is an ordered collection of rows sharing a column schema.
type Table struct {
	cols  []string
	index map[string]int
	rows  [][]Value
}

// New creates an empty table with the given column names. When a name occurs
// twice, lookups resolve to its first position.
func New(columns []string) *Table {
	t := &Table{
		cols:  append([]string(nil), columns...),
		index: make(map[string]int, len(columns)),
	}
	for i, c := range columns {
		if _, exists := t.index[c]; !exists {
			t.index[c] = i
		}
	}
	return t
}

// Columns returns a copy of the column names in order.
func (t *Table) Columns() []string {
	return append([]string(nil), t.cols...)
}

// NumRows returns the row count.
func (t *Table) NumRows() int { return len(t.rows) }

// NumCols returns the column count.
func (t *Table) NumCols() int { return len(t.cols) }

// ColumnIndex returns the position of a named column.
func (t *Table) ColumnIndex(name string) (int, bool) {
	i, ok := t.index[name]
	return i, ok
}

// HasColumn reports whether a column exists.
func (t *Table) HasColumn(name string) bool {
	_, ok := t.index[name]
	return ok
}

// AppendRow adds one row. The cell count must match the schema.
func (t *Table) AppendRow(cells []Value) error {
	if len(cells) != len(t.cols) {
		return fmt.Errorf("row has %d cells, schema has %d columns", len(cells), len(t.cols))
	}
	t.rows = append(t.rows, cells)
	return nil
}

// Row returns the backing slice for row i. Callers that keep it must copy.
func (t *Table) Row(i int) []Value {
	return t.rows[i]
}

// Cell returns the value at (row, col).
func (t *Table) Cell(row, col int) Value {
	return t.rows[row][col]
}

// SetCell replaces the value at (row, col).
func (t *Table) SetCell(row, col int, v Value) {
	t.rows[row][col] = v
}

// Column returns a copy of the named column's cells.
func (t *Table) Column(name string) ([]Value, bool) {
	i, ok := t.index[name]
	if !ok {
		return nil, false
	}
	out := make([]Value, len(t.rows))
	for r := range t.rows {
		out[r] = t.rows[r][i]
	}
	return out, true
}

// AppendColumn adds a column on the right. The cell count must match the row
// count.
func (t *Table) AppendColumn(name string, cells []Value) error {
	if len(cells) != len(t.rows) {
		return fmt.Errorf("column %q has %d cells, table has %d rows", name, len(cells), len(t.rows))
	}
	if _, exists := t.index[name]; !exists {
		t.index[name] = len(t.cols)
	}
	t.cols = append(t.cols, name)
	for r := range t.rows {
		t.rows[r] = append(t.rows[r], cells[r])
	}
	return nil
}

// Select returns a new table holding the named columns in the given order.
func (t *Table) Select(names []string) (*Table, error) {
	idx := make([]int, len(names))
	for i, n := range names {
		j, ok := t.index[n]
		if !ok {
			return nil, fmt.Errorf("column %q not in table", n)
		}
		idx[i] = j
	}

	out := New(names)
	for r := range t.rows {
		cells := make([]Value, len(idx))
		for i, j := range idx {
			cells[i] = t.rows[r][j]
		}
		out.rows = append(out.rows, cells)
	}
	return out, nil
}

// Drop returns a new table without the named columns. Unknown names are
// ignored.
func (t *Table) Drop(names []string) *Table {
	skip := make(map[string]bool, len(names))
	for _, n := range names {
		skip[n] = true
	}

	var keep []string
	for _, c := range t.cols {
		if !skip[c] {
			keep = append(keep, c)
		}
	}
	out, _ := t.Select(keep)
	return out
}

// FilterRows returns a new table with the rows keep reports true for,
// preserving order.
func (t *Table) FilterRows(keep func(i int, row []Value) bool) *Table {
	out := New(t.cols)
	for i, row := range t.rows {
		if keep(i, row) {
			out.rows = append(out.rows, append([]Value(nil), row...))
		}
	}
	return out
}

// Clone returns a deep copy.
func (t *Table) Clone() *Table {
	out := New(t.cols)
	out.rows = make([][]Value, len(t.rows))
	for i, row := range t.rows {
		out.rows[i] = append([]Value(nil), row...)
	}
	return out
}

// IsNumeric reports whether the column at position col carries no textual
// cells. An all-missing column counts as numeric; whether it is usable is the
// caller's concern.
func (t *Table) IsNumeric(col int) bool {
	for r := range t.rows {
		if t.rows[r][col].Kind == KindText {
			return false
		}
	}
	return true
}

// NumericColumns returns the names of all numeric columns, excluding any in
// skip, in schema order.
func (t *Table) NumericColumns(skip map[string]bool) []string {
	var out []string
	for i, c := range t.cols {
		if skip[c] {
			continue
		}
		if t.IsNumeric(i) {
			out = append(out, c)
		}
	}
	return out
}

// MissingCount returns the number of missing cells in the named column.
func (t *Table) MissingCount(name string) int {
	i, ok := t.index[name]
	if !ok {
		return 0
	}
	n := 0
	for r := range t.rows {
		if t.rows[r][i].IsMissing() {
			n++
		}
	}
	return n
}
