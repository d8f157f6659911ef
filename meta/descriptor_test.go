package meta

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/granary-db/granary"
	"github.com/granary-db/granary/backend"
	"github.com/granary-db/granary/codec"
	"github.com/granary-db/granary/errors"
	"github.com/granary-db/granary/filecache"
	"github.com/granary-db/granary/index"
	"github.com/granary-db/granary/pkg/storage"
)

func testDescriptor() *Descriptor {
	return &Descriptor{
		Collection:  "power",
		Dataset:     "forecasts",
		ColumnOrder: []string{"target_start", "node", "mw"},
		ColumnTypes: map[string]granary.Type{
			"target_start": granary.TypeZonedDateTime,
			"node":         granary.TypeAbstractString,
			"mw":           granary.TypeAbstractFloat,
		},
		Timezone:     "America/New_York",
		Index:        index.TimeSeries{Key: "target_start", Partition: index.Day},
		FileFormat:   codec.CSV,
		Compression:  codec.GZ,
		LastModified: time.Unix(1600000000, 0).UTC(),
		Details:      map[string]string{"source": "unit-test"},
	}
}

func TestDescriptorJSONRoundTrip(t *testing.T) {
	d := testDescriptor()
	b, err := json.Marshal(d)
	require.NoError(t, err)

	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &m))
	assert.Equal(t, "GZ", m["compression"])
	assert.Equal(t, "CSV", m["file_format"])
	assert.EqualValues(t, 1600000000, m["last_modified"])

	var back Descriptor
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, d.ColumnOrder, back.ColumnOrder)
	assert.Equal(t, d.ColumnTypes, back.ColumnTypes)
	assert.Equal(t, d.Index, back.Index)
	assert.Equal(t, d.LastModified, back.LastModified)
}

func TestDescriptorNothingCompression(t *testing.T) {
	d := testDescriptor()
	d.Compression = codec.None
	b, err := json.Marshal(d)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"compression":"nothing"`)
	var back Descriptor
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, codec.None, back.Compression)
}

func TestDescriptorValidate(t *testing.T) {
	d := testDescriptor()
	require.NoError(t, d.Validate())

	d.Index.Key = "absent"
	require.Error(t, d.Validate())

	d = testDescriptor()
	d.ColumnTypes["target_start"] = granary.TypeInt64
	require.Error(t, d.Validate())
}

func newTestStore(t *testing.T) (*Store, *storage.MemEngine) {
	t.Helper()
	engine := storage.NewMemEngine()
	cache, err := filecache.New(filecache.Options{
		MaxBytes:   1 << 30,
		Decompress: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })
	return NewStore(engine, cache), engine
}

func TestStoreGetPut(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	bk := &backend.Store{Kind: backend.WritableArchive, Bucket: "bkt", Prefix: "pre"}

	_, err := s.Get(ctx, bk, "power", "forecasts")
	require.Error(t, err)
	assert.True(t, gerr.IsMissing(err))

	d := testDescriptor()
	require.NoError(t, s.Put(ctx, bk, d))

	got, err := s.Get(ctx, bk, "power", "forecasts")
	require.NoError(t, err)
	assert.Equal(t, d.ColumnOrder, got.ColumnOrder)
	assert.Equal(t, "power", got.Collection)
}

func TestStoreReadOnlyPinsCodec(t *testing.T) {
	s, engine := newTestStore(t)
	ctx := context.Background()
	bk := &backend.Store{
		Kind:        backend.ReadOnlyArchive,
		Bucket:      "bkt",
		Prefix:      "arch",
		Format:      codec.Arrow,
		Compression: codec.ZST,
		Partition:   index.Hour,
	}
	d := testDescriptor()
	b, err := json.Marshal(d)
	require.NoError(t, err)
	require.NoError(t, engine.Put(ctx, "bkt", Key(bk, "power", "forecasts"), b))

	got, err := s.Get(ctx, bk, "power", "forecasts")
	require.NoError(t, err)
	// The URI variant pins the codec and partitioning for read-only
	// archives regardless of the stored object.
	assert.Equal(t, codec.Arrow, got.FileFormat)
	assert.Equal(t, codec.ZST, got.Compression)
	assert.Equal(t, index.Hour, got.Index.Partition)
}
