package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/granary-db/granary"
)

func scalarTable() *granary.Table {
	return granary.MustNewTable(
		granary.Column{Name: "ts", Values: []interface{}{int64(1577836800), int64(1577923200), nil}},
		granary.Column{Name: "value", Values: []interface{}{1.5, nil, -2.25}},
		granary.Column{Name: "name", Values: []interface{}{"a", "b", ""}},
		granary.Column{Name: "ok", Values: []interface{}{true, false, nil}},
	)
}

func TestRoundTripFormats(t *testing.T) {
	tbl := scalarTable()
	for _, format := range []Format{CSV, Arrow, Parquet} {
		for _, comp := range []Compression{None, BZ2, GZ, LZ4, ZST} {
			b, err := Encode(tbl, format, comp)
			require.NoError(t, err, "%s %s", format, comp)
			out, err := Decode(b, format, comp)
			require.NoError(t, err, "%s %s", format, comp)
			assert.Equal(t, tbl.ColumnNames(), out.ColumnNames(), "%s %s", format, comp)
			assert.Equal(t, tbl.NumRows(), out.NumRows(), "%s %s", format, comp)
			assert.Equal(t, tbl.Lookup("ts").Values, out.Lookup("ts").Values, "%s %s", format, comp)
			assert.Equal(t, tbl.Lookup("value").Values, out.Lookup("value").Values, "%s %s", format, comp)
			assert.Equal(t, tbl.Lookup("ok").Values, out.Lookup("ok").Values, "%s %s", format, comp)
		}
	}
}

func TestCSVEmptyCellIsMissing(t *testing.T) {
	tbl := granary.MustNewTable(
		granary.Column{Name: "a", Values: []interface{}{nil, "x"}},
	)
	b, err := Encode(tbl, CSV, None)
	require.NoError(t, err)
	out, err := Decode(b, CSV, None)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{nil, "x"}, out.Lookup("a").Values)
}

func TestCSVListCellsAreJSON(t *testing.T) {
	tbl := granary.MustNewTable(
		granary.Column{Name: "xs", Values: []interface{}{
			[]interface{}{int64(1), int64(2)},
			nil,
		}},
	)
	b, err := Encode(tbl, CSV, None)
	require.NoError(t, err)
	out, err := Decode(b, CSV, None)
	require.NoError(t, err)
	// The schema-agnostic reader leaves list cells as their JSON text;
	// decoding them back is the gather engine's post-processing step.
	assert.Equal(t, "[1,2]", out.Lookup("xs").Values[0])
	assert.Nil(t, out.Lookup("xs").Values[1])
}

func TestDecodeCorruptCompression(t *testing.T) {
	_, err := Decode([]byte("not gzip"), CSV, GZ)
	require.Error(t, err)
}

func TestDecodeEmptyCSV(t *testing.T) {
	_, err := Decode(nil, CSV, None)
	require.Error(t, err)
}

func TestHeaderOnlyCSV(t *testing.T) {
	out, err := Decode([]byte("a,b\n"), CSV, None)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, out.ColumnNames())
	assert.Equal(t, 0, out.NumRows())
}
