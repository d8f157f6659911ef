package granary

import (
	"sort"

	"github.com/granary-db/granary/errors"
)

// Column is a named column of cell values. Cells are missing when nil.
type Column struct {
	Name   string
	Values []interface{}
}

// Table is a column-oriented container of rows with a fixed column order.
// All columns have the same length. A Table is the unit of exchange between
// the codecs, the partition index, and the gather and insert engines.
type Table struct {
	cols []Column
}

func NewTable(cols ...Column) (*Table, error) {
	for i := 1; i < len(cols); i++ {
		if len(cols[i].Values) != len(cols[0].Values) {
			return nil, gerr.E(gerr.Schema, "column %q has %d rows, want %d",
				cols[i].Name, len(cols[i].Values), len(cols[0].Values))
		}
	}
	return &Table{cols: cols}, nil
}

// MustNewTable is NewTable for literals in tests and constructors whose
// shape is known to be uniform.
func MustNewTable(cols ...Column) *Table {
	t, err := NewTable(cols...)
	if err != nil {
		panic(err)
	}
	return t
}

func (t *Table) NumRows() int {
	if len(t.cols) == 0 {
		return 0
	}
	return len(t.cols[0].Values)
}

func (t *Table) NumCols() int { return len(t.cols) }

// ColumnNames returns the column order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.cols))
	for i, c := range t.cols {
		names[i] = c.Name
	}
	return names
}

// Lookup returns the column with the given name, or nil.
func (t *Table) Lookup(name string) *Column {
	for i := range t.cols {
		if t.cols[i].Name == name {
			return &t.cols[i]
		}
	}
	return nil
}

func (t *Table) Columns() []Column { return t.cols }

// SetColumn replaces the values of an existing column or appends a new one.
func (t *Table) SetColumn(name string, values []interface{}) {
	if c := t.Lookup(name); c != nil {
		c.Values = values
		return
	}
	t.cols = append(t.cols, Column{Name: name, Values: values})
}

// DropColumn removes a column if present.
func (t *Table) DropColumn(name string) {
	for i := range t.cols {
		if t.cols[i].Name == name {
			t.cols = append(t.cols[:i], t.cols[i+1:]...)
			return
		}
	}
}

// Pick projects the table onto the given column order. Missing columns are
// an error; extra input columns are dropped.
func (t *Table) Pick(order []string) (*Table, error) {
	cols := make([]Column, 0, len(order))
	for _, name := range order {
		c := t.Lookup(name)
		if c == nil {
			return nil, gerr.E(gerr.Schema, "missing column %q", name)
		}
		cols = append(cols, *c)
	}
	return &Table{cols: cols}, nil
}

// Select returns a new table holding the given rows, in order. The selected
// cell slices are fresh but the cells themselves are shared.
func (t *Table) Select(rows []int) *Table {
	cols := make([]Column, len(t.cols))
	for i, c := range t.cols {
		values := make([]interface{}, len(rows))
		for j, r := range rows {
			values[j] = c.Values[r]
		}
		cols[i] = Column{Name: c.Name, Values: values}
	}
	return &Table{cols: cols}
}

// Copy returns a deep copy of the table's column structure. Cells are
// shared; they are treated as immutable throughout the library.
func (t *Table) Copy() *Table {
	cols := make([]Column, len(t.cols))
	for i, c := range t.cols {
		values := make([]interface{}, len(c.Values))
		copy(values, c.Values)
		cols[i] = Column{Name: c.Name, Values: values}
	}
	return &Table{cols: cols}
}

// Concat appends the rows of others to t, aligning on t's column order.
// Every table must contain all of t's columns; extras are dropped.
func Concat(tables ...*Table) (*Table, error) {
	var nonEmpty []*Table
	for _, t := range tables {
		if t != nil && t.NumRows() > 0 {
			nonEmpty = append(nonEmpty, t)
		}
	}
	if len(nonEmpty) == 0 {
		if len(tables) > 0 && tables[0] != nil {
			return tables[0], nil
		}
		return &Table{}, nil
	}
	order := nonEmpty[0].ColumnNames()
	cols := make([]Column, len(order))
	for i, name := range order {
		cols[i].Name = name
	}
	for _, t := range nonEmpty {
		aligned, err := t.Pick(order)
		if err != nil {
			return nil, err
		}
		for i := range cols {
			cols[i].Values = append(cols[i].Values, aligned.cols[i].Values...)
		}
	}
	return &Table{cols: cols}, nil
}

// SortDedup sorts rows ascending lexicographically across the given column
// order and removes exact duplicate rows.
func (t *Table) SortDedup(order []string) (*Table, error) {
	sorted, err := t.Pick(order)
	if err != nil {
		return nil, err
	}
	n := sorted.NumRows()
	rows := make([]int, n)
	for i := range rows {
		rows[i] = i
	}
	sort.SliceStable(rows, func(a, b int) bool {
		return sorted.compareRows(rows[a], rows[b]) < 0
	})
	keep := make([]int, 0, n)
	for i, r := range rows {
		if i > 0 && sorted.rowsEqual(keep[len(keep)-1], r) {
			continue
		}
		keep = append(keep, r)
	}
	return sorted.Select(keep), nil
}

func (t *Table) compareRows(a, b int) int {
	for i := range t.cols {
		if c := Compare(t.cols[i].Values[a], t.cols[i].Values[b]); c != 0 {
			return c
		}
	}
	return 0
}

func (t *Table) rowsEqual(a, b int) bool {
	for i := range t.cols {
		if !ValueEqual(t.cols[i].Values[a], t.cols[i].Values[b]) {
			return false
		}
	}
	return true
}

// Equal reports whether two tables have identical column order and cells.
func (t *Table) Equal(other *Table) bool {
	if t.NumCols() != other.NumCols() || t.NumRows() != other.NumRows() {
		return false
	}
	for i := range t.cols {
		if t.cols[i].Name != other.cols[i].Name {
			return false
		}
		for j := range t.cols[i].Values {
			if !ValueEqual(t.cols[i].Values[j], other.cols[i].Values[j]) {
				return false
			}
		}
	}
	return true
}
