package granary

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSortDedup(t *testing.T) {
	tbl := MustNewTable(
		Column{Name: "a", Values: []interface{}{int64(2), int64(1), int64(2), int64(1)}},
		Column{Name: "b", Values: []interface{}{"y", "x", "y", "z"}},
	)
	out, err := tbl.SortDedup([]string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{int64(1), int64(1), int64(2)}, out.Lookup("a").Values)
	assert.Equal(t, []interface{}{"x", "z", "y"}, out.Lookup("b").Values)
}

func TestSortDedupMissingLast(t *testing.T) {
	tbl := MustNewTable(
		Column{Name: "a", Values: []interface{}{nil, int64(1)}},
	)
	out, err := tbl.SortDedup([]string{"a"})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{int64(1), nil}, out.Lookup("a").Values)
}

func TestConcatAlignsAndDropsExtras(t *testing.T) {
	t1 := MustNewTable(
		Column{Name: "a", Values: []interface{}{int64(1)}},
		Column{Name: "b", Values: []interface{}{"x"}},
	)
	t2 := MustNewTable(
		Column{Name: "b", Values: []interface{}{"y"}},
		Column{Name: "a", Values: []interface{}{int64(2)}},
		Column{Name: "extra", Values: []interface{}{true}},
	)
	out, err := Concat(t1, t2)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, out.ColumnNames())
	assert.Equal(t, []interface{}{int64(1), int64(2)}, out.Lookup("a").Values)
	assert.Equal(t, []interface{}{"x", "y"}, out.Lookup("b").Values)
}

func TestConcatMissingColumn(t *testing.T) {
	t1 := MustNewTable(Column{Name: "a", Values: []interface{}{int64(1)}})
	t2 := MustNewTable(Column{Name: "b", Values: []interface{}{int64(2)}})
	_, err := Concat(t1, t2)
	require.Error(t, err)
}

func TestPick(t *testing.T) {
	tbl := MustNewTable(
		Column{Name: "a", Values: []interface{}{int64(1)}},
		Column{Name: "b", Values: []interface{}{"x"}},
	)
	out, err := tbl.Pick([]string{"b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, out.ColumnNames())

	_, err = tbl.Pick([]string{"c"})
	require.Error(t, err)
}

func TestNewTableRagged(t *testing.T) {
	_, err := NewTable(
		Column{Name: "a", Values: []interface{}{int64(1)}},
		Column{Name: "b", Values: []interface{}{}},
	)
	require.Error(t, err)
}

func TestSelectPicksRowsInOrder(t *testing.T) {
	tbl := MustNewTable(Column{Name: "a", Values: []interface{}{int64(1), int64(2), int64(3)}})
	out := tbl.Select([]int{2, 0})
	assert.Equal(t, []interface{}{int64(3), int64(1)}, out.Lookup("a").Values)
	assert.Equal(t, 3, tbl.NumRows())
}
