package index

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/granary-db/granary"
)

func TestKeysForRange(t *testing.T) {
	ts := TimeSeries{Key: "ts", Partition: Day}
	start := time.Date(2020, 1, 1, 23, 0, 0, 0, time.UTC)
	stop := time.Date(2020, 1, 3, 1, 0, 0, 0, time.UTC)
	keys := ts.KeysForRange(start, stop, "p", "c", "d", "csv.gz")
	require.Len(t, keys, 3)
	assert.Equal(t, "p/c/d/year=2020/1577836800.csv.gz", keys[0].Object)
	assert.Equal(t, "p/c/d/year=2020/1577923200.csv.gz", keys[1].Object)
	assert.Equal(t, "p/c/d/year=2020/1578009600.csv.gz", keys[2].Object)
}

func TestKeysForRangeSinglePartition(t *testing.T) {
	ts := TimeSeries{Key: "ts", Partition: Day}
	start := time.Date(2020, 6, 15, 1, 0, 0, 0, time.UTC)
	stop := time.Date(2020, 6, 15, 23, 59, 59, 0, time.UTC)
	keys := ts.KeysForRange(start, stop, "", "c", "d", "csv")
	require.Len(t, keys, 1)
	assert.Equal(t, "c/d/year=2020/1592179200.csv", keys[0].Object)
}

func TestKeysForRangeExactBoundaries(t *testing.T) {
	ts := TimeSeries{Key: "ts", Partition: Hour}
	start := time.Date(2020, 1, 1, 10, 0, 0, 0, time.UTC)
	stop := time.Date(2020, 1, 1, 12, 0, 0, 0, time.UTC)
	keys := ts.KeysForRange(start, stop, "p", "c", "d", "csv")
	// A stop landing exactly on a boundary still includes that bucket:
	// the range is closed.
	require.Len(t, keys, 3)
}

func TestKeysForRangeDST(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	ts := TimeSeries{Key: "ts", Partition: Day}
	// The US spring-forward gap: local midnight to local midnight is 23
	// hours, but flooring happens after conversion to UTC.
	start := time.Date(2020, 3, 8, 0, 0, 0, 0, loc)
	stop := time.Date(2020, 3, 9, 0, 0, 0, 0, loc)
	keys := ts.KeysForRange(start, stop, "p", "c", "d", "csv")
	require.Len(t, keys, 2)
	assert.Equal(t, time.Date(2020, 3, 8, 0, 0, 0, 0, time.UTC), keys[0].At)
	assert.Equal(t, time.Date(2020, 3, 9, 0, 0, 0, 0, time.UTC), keys[1].At)
}

func TestMonthAndYearFlooring(t *testing.T) {
	at := time.Date(2020, 7, 15, 13, 45, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2020, 7, 1, 0, 0, 0, 0, time.UTC),
		TimeSeries{Partition: Month}.Floor(at))
	assert.Equal(t, time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		TimeSeries{Partition: Year}.Floor(at))
}

func TestFilterRangeBoundaryHint(t *testing.T) {
	ts := TimeSeries{Key: "ts", Partition: Day}
	start := time.Date(2020, 1, 1, 12, 0, 0, 0, time.UTC)
	stop := time.Date(2020, 1, 3, 12, 0, 0, 0, time.UTC)

	mk := func(unix ...interface{}) *granary.Table {
		return granary.MustNewTable(granary.Column{Name: "ts", Values: unix})
	}

	// Boundary partition: row-level filtering applies.
	boundary := mk(int64(1577836800), int64(1577880000)) // 00:00 and 12:00 on Jan 1
	out, err := ts.FilterRange(boundary, start, stop, time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 1, out.NumRows())

	// Interior partition: kept whole without row inspection.
	interior := mk(int64(1577923200))
	out, err = ts.FilterRange(interior, start, stop, time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 1, out.NumRows())

	// Out-of-range partition: emptied without row inspection.
	outside := mk(int64(1578268800))
	out, err = ts.FilterRange(outside, start, stop, time.Date(2020, 1, 6, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 0, out.NumRows())
}

func TestFilterRangeNoHint(t *testing.T) {
	ts := TimeSeries{Key: "ts", Partition: Day}
	tbl := granary.MustNewTable(granary.Column{Name: "ts", Values: []interface{}{
		time.Date(2020, 1, 1, 1, 0, 0, 0, time.UTC),
		time.Date(2020, 1, 5, 1, 0, 0, 0, time.UTC),
	}})
	out, err := ts.FilterRange(tbl,
		time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC),
		time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 1, out.NumRows())
}

func TestPartitionRows(t *testing.T) {
	ts := TimeSeries{Key: "ts", Partition: Day}
	tbl := granary.MustNewTable(granary.Column{Name: "ts", Values: []interface{}{
		time.Date(2020, 1, 2, 1, 0, 0, 0, time.UTC),
		time.Date(2020, 1, 1, 1, 0, 0, 0, time.UTC),
		time.Date(2020, 1, 2, 5, 0, 0, 0, time.UTC),
	}})
	parts, err := ts.PartitionRows(tbl)
	require.NoError(t, err)
	require.Len(t, parts, 2)
	assert.Equal(t, time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), parts[0].At)
	assert.Equal(t, []int{1}, parts[0].Rows)
	assert.Equal(t, time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC), parts[1].At)
	assert.Equal(t, []int{0, 2}, parts[1].Rows)
}

func TestIndexJSON(t *testing.T) {
	ts := TimeSeries{Key: "target_start", Partition: Day}
	b, err := json.Marshal(ts)
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"_type":"TimeSeriesIndex","_attr":{"key":"target_start","partition_size":"DAY"}}`,
		string(b))
	var back TimeSeries
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, ts, back)

	err = json.Unmarshal([]byte(`{"_type":"HashIndex","_attr":{}}`), &back)
	require.Error(t, err)
}
