package depot

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/granary-db/granary"
	"github.com/granary-db/granary/backend"
	"github.com/granary-db/granary/config"
	"github.com/granary-db/granary/errors"
	"github.com/granary-db/granary/filecache"
	"github.com/granary-db/granary/index"
	"github.com/granary-db/granary/pkg/storage"
)

func newTestDepot(t *testing.T, refs ...config.StoreRef) (*Depot, *storage.MemEngine) {
	t.Helper()
	engine := storage.NewMemEngine()
	cache, err := filecache.New(filecache.Options{
		MaxBytes:   1 << 30,
		Decompress: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })
	registry, err := backend.NewRegistry(&config.Config{
		DisableCentralized: true,
		AdditionalStores:   refs,
	})
	require.NoError(t, err)
	d, err := New(Options{
		Engine:   engine,
		Cache:    cache,
		Registry: registry,
		Workers:  4,
	})
	require.NoError(t, err)
	return d, engine
}

func ts(day, hour int) time.Time {
	return time.Date(2020, 1, day, hour, 0, 0, 0, time.UTC)
}

func tsIndex() *index.TimeSeries {
	return &index.TimeSeries{Key: "ts", Partition: index.Day}
}

func TestInsertGatherRoundTrip(t *testing.T) {
	d, _ := newTestDepot(t, config.StoreRef{ID: "w", URI: "ffs:s3://bkt/wh"})
	ctx := context.Background()

	tbl := granary.MustNewTable(granary.Column{Name: "ts", Values: []interface{}{
		ts(1, 1), ts(1, 2), ts(2, 1), ts(1, 1),
	}})
	require.NoError(t, d.Insert(ctx, "c", "d", tbl, "w", InsertOptions{Index: tsIndex()}))

	out, desc, err := d.Gather(ctx, "c", "d", ts(1, 0), ts(2, 23), GatherOptions{StoreID: "w"})
	require.NoError(t, err)
	assert.Equal(t, []string{"ts"}, desc.ColumnOrder)

	values := out.Lookup("ts").Values
	require.Len(t, values, 3)
	for i, want := range []time.Time{ts(1, 1), ts(1, 2), ts(2, 1)} {
		got, ok := values[i].(time.Time)
		require.True(t, ok, "row %d is %T", i, values[i])
		assert.True(t, want.Equal(got), "row %d: want %s, got %s", i, want, got)
	}
}

func TestInsertTwiceIsMerge(t *testing.T) {
	d, _ := newTestDepot(t, config.StoreRef{ID: "w", URI: "ffs:s3://bkt/wh"})
	ctx := context.Background()

	t1 := granary.MustNewTable(
		granary.Column{Name: "ts", Values: []interface{}{ts(1, 1), ts(1, 3)}},
		granary.Column{Name: "v", Values: []interface{}{1.0, 3.0}},
	)
	t2 := granary.MustNewTable(
		granary.Column{Name: "ts", Values: []interface{}{ts(1, 2), ts(1, 1)}},
		granary.Column{Name: "v", Values: []interface{}{2.0, 1.0}},
	)
	require.NoError(t, d.Insert(ctx, "c", "d", t1, "w", InsertOptions{Index: tsIndex()}))
	require.NoError(t, d.Insert(ctx, "c", "d", t2, "w", InsertOptions{}))

	out, _, err := d.Gather(ctx, "c", "d", ts(1, 0), ts(1, 23), GatherOptions{StoreID: "w"})
	require.NoError(t, err)
	assert.Equal(t, 3, out.NumRows())
	assert.Equal(t, []interface{}{1.0, 2.0, 3.0}, out.Lookup("v").Values)
}

func TestInsertIdempotent(t *testing.T) {
	d, _ := newTestDepot(t, config.StoreRef{ID: "w", URI: "ffs:s3://bkt/wh"})
	ctx := context.Background()
	tbl := granary.MustNewTable(
		granary.Column{Name: "ts", Values: []interface{}{ts(1, 1), ts(2, 1)}},
		granary.Column{Name: "v", Values: []interface{}{1.0, 2.0}},
	)
	require.NoError(t, d.Insert(ctx, "c", "d", tbl, "w", InsertOptions{Index: tsIndex()}))
	require.NoError(t, d.Insert(ctx, "c", "d", tbl, "w", InsertOptions{}))
	out, _, err := d.Gather(ctx, "c", "d", ts(1, 0), ts(2, 23), GatherOptions{StoreID: "w"})
	require.NoError(t, err)
	assert.Equal(t, 2, out.NumRows())
}

func TestInsertErrors(t *testing.T) {
	d, _ := newTestDepot(t,
		config.StoreRef{ID: "w", URI: "ffs:s3://bkt/wh"},
		config.StoreRef{ID: "a", URI: "s3db:s3://bkt/arch"},
	)
	ctx := context.Background()

	err := d.Insert(ctx, "c", "d", granary.MustNewTable(), "w", InsertOptions{})
	require.Error(t, err)
	assert.True(t, gerr.IsKind(err, gerr.Schema), "empty table")

	tbl := granary.MustNewTable(granary.Column{Name: "ts", Values: []interface{}{ts(1, 1)}})
	err = d.Insert(ctx, "c", "d", tbl, "a", InsertOptions{Index: tsIndex()})
	require.Error(t, err)
	assert.True(t, gerr.IsKind(err, gerr.Schema), "read-only store")

	ints := granary.MustNewTable(granary.Column{Name: "ts", Values: []interface{}{int64(1577840400)}})
	err = d.Insert(ctx, "c", "d2", ints, "w", InsertOptions{Index: tsIndex()})
	require.Error(t, err)
	assert.True(t, gerr.IsKind(err, gerr.Schema), "index column not a zoned timestamp")
}

func TestInsertSchemaValidation(t *testing.T) {
	d, _ := newTestDepot(t, config.StoreRef{ID: "w", URI: "ffs:s3://bkt/wh"})
	ctx := context.Background()

	tbl := granary.MustNewTable(
		granary.Column{Name: "ts", Values: []interface{}{ts(1, 1)}},
		granary.Column{Name: "v", Values: []interface{}{1.5}},
	)
	require.NoError(t, d.Insert(ctx, "c", "d", tbl, "w", InsertOptions{Index: tsIndex()}))

	// Missing declared column.
	missing := granary.MustNewTable(granary.Column{Name: "ts", Values: []interface{}{ts(1, 2)}})
	err := d.Insert(ctx, "c", "d", missing, "w", InsertOptions{})
	require.Error(t, err)
	assert.True(t, gerr.IsKind(err, gerr.Schema))

	// Incompatible element type for a declared column.
	wrong := granary.MustNewTable(
		granary.Column{Name: "ts", Values: []interface{}{ts(1, 2)}},
		granary.Column{Name: "v", Values: []interface{}{"oops"}},
	)
	err = d.Insert(ctx, "c", "d", wrong, "w", InsertOptions{})
	require.Error(t, err)
	assert.True(t, gerr.IsKind(err, gerr.Schema))

	// Extra columns are allowed and dropped.
	extra := granary.MustNewTable(
		granary.Column{Name: "ts", Values: []interface{}{ts(1, 2)}},
		granary.Column{Name: "v", Values: []interface{}{2.5}},
		granary.Column{Name: "junk", Values: []interface{}{"x"}},
	)
	require.NoError(t, d.Insert(ctx, "c", "d", extra, "w", InsertOptions{}))
	out, _, err := d.Gather(ctx, "c", "d", ts(1, 0), ts(1, 23), GatherOptions{StoreID: "w"})
	require.NoError(t, err)
	assert.Nil(t, out.Lookup("junk"))
	assert.Equal(t, 2, out.NumRows())
}

func TestGatherFallbackAcrossStores(t *testing.T) {
	d, _ := newTestDepot(t,
		config.StoreRef{ID: "empty", URI: "ffs:s3://bkt/empty"},
		config.StoreRef{ID: "full", URI: "ffs:s3://bkt/full"},
	)
	ctx := context.Background()
	tbl := granary.MustNewTable(granary.Column{Name: "ts", Values: []interface{}{ts(1, 1)}})
	require.NoError(t, d.Insert(ctx, "c", "d", tbl, "full", InsertOptions{Index: tsIndex()}))

	out, _, err := d.Gather(ctx, "c", "d", ts(1, 0), ts(1, 23), GatherOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, out.NumRows())

	_, _, err = d.Gather(ctx, "c", "nope", ts(1, 0), ts(1, 23), GatherOptions{})
	require.Error(t, err)
	assert.True(t, gerr.IsMissing(err))
}

func TestGatherCutoffOnWritableRejected(t *testing.T) {
	d, _ := newTestDepot(t, config.StoreRef{ID: "w", URI: "ffs:s3://bkt/wh"})
	ctx := context.Background()
	tbl := granary.MustNewTable(granary.Column{Name: "ts", Values: []interface{}{ts(1, 1)}})
	require.NoError(t, d.Insert(ctx, "c", "d", tbl, "w", InsertOptions{Index: tsIndex()}))

	_, _, err := d.Gather(ctx, "c", "d", ts(1, 0), ts(1, 23), GatherOptions{
		StoreID: "w",
		Cutoff:  ts(1, 12),
	})
	require.Error(t, err)
	assert.True(t, gerr.IsKind(err, gerr.Schema))
}

func TestGatherUserFilter(t *testing.T) {
	d, _ := newTestDepot(t, config.StoreRef{ID: "w", URI: "ffs:s3://bkt/wh"})
	ctx := context.Background()
	tbl := granary.MustNewTable(
		granary.Column{Name: "ts", Values: []interface{}{ts(1, 1), ts(1, 2)}},
		granary.Column{Name: "node", Values: []interface{}{"a", "b"}},
	)
	require.NoError(t, d.Insert(ctx, "c", "d", tbl, "w", InsertOptions{Index: tsIndex()}))

	out, _, err := d.Gather(ctx, "c", "d", ts(1, 0), ts(1, 23), GatherOptions{
		StoreID: "w",
		Filter: func(t *granary.Table, row int) bool {
			return t.Lookup("node").Values[row] == "b"
		},
	})
	require.NoError(t, err)
	require.Equal(t, 1, out.NumRows())
	assert.Equal(t, "b", out.Lookup("node").Values[0])
}

func TestGatherSequentialWorker(t *testing.T) {
	d, _ := newTestDepot(t, config.StoreRef{ID: "w", URI: "ffs:s3://bkt/wh"})
	ctx := context.Background()
	var values []interface{}
	for day := 1; day <= 12; day++ {
		values = append(values, ts(day, 1))
	}
	tbl := granary.MustNewTable(granary.Column{Name: "ts", Values: values})
	require.NoError(t, d.Insert(ctx, "c", "d", tbl, "w", InsertOptions{Index: tsIndex()}))

	// Twelve candidate partitions exceed a single worker, exercising
	// both the prune-by-listing path and strict sequential fetching.
	out, _, err := d.Gather(ctx, "c", "d", ts(1, 0), ts(12, 23), GatherOptions{
		StoreID: "w",
		Workers: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, 12, out.NumRows())
}
