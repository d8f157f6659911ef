package depot

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/granary-db/granary/codec"
	"github.com/granary-db/granary/config"
	"github.com/granary-db/granary/index"
	"github.com/granary-db/granary/meta"
	"github.com/granary-db/granary/pkg/storage"
)

const (
	r1 = int64(1577000000)
	r2 = int64(1577100000)
	r3 = int64(1577200000)
)

func archiveDescriptor() *meta.Descriptor {
	return &meta.Descriptor{
		Collection:  "c",
		Dataset:     "d",
		ColumnOrder: []string{"release_date", "target_start", "target_end", "node_name", "tag", "value"},
		Timezone:    "UTC",
		Index:       index.TimeSeries{Key: "target_start", Partition: index.Day},
		FileFormat:  codec.CSV,
		Compression: codec.GZ,
		Details: map[string]string{
			"superkey": "release_date,target_start,target_end,node_name,tag",
		},
		TypeMap: map[string]string{
			"release_date": "datetime",
			"target_start": "datetime",
		},
	}
}

func seedArchive(t *testing.T, engine *storage.MemEngine) {
	t.Helper()
	ctx := context.Background()
	desc := archiveDescriptor()
	b, err := json.Marshal(desc)
	require.NoError(t, err)
	require.NoError(t, engine.Put(ctx, "bkt", "arch/c/d/METADATA.json", b))

	target := ts(1, 1).Unix()
	end := ts(1, 2).Unix()
	csv := "release_date,target_start,target_end,node_name,tag,value\n"
	for i, rel := range []int64{r1, r2, r3} {
		csv += fmt.Sprintf("%d,%d,%d,node-a,tag-%d,%d\n", rel, target, end, i, (i+1)*10)
	}
	zipped, err := codec.CompressBytes([]byte(csv), codec.GZ)
	require.NoError(t, err)
	key := fmt.Sprintf("arch/c/d/year=2020/%d.csv.gz", ts(1, 0).Unix())
	require.NoError(t, engine.Put(ctx, "bkt", key, zipped))
}

func TestCutoffLatestRelease(t *testing.T) {
	d, engine := newTestDepot(t, config.StoreRef{ID: "a", URI: "s3db:s3://bkt/arch"})
	seedArchive(t, engine)
	ctx := context.Background()

	gather := func(cutoff int64) []interface{} {
		out, _, err := d.Gather(ctx, "c", "d", ts(1, 0), ts(1, 23), GatherOptions{
			StoreID: "a",
			Cutoff:  time.Unix(cutoff, 0).UTC(),
		})
		require.NoError(t, err)
		col := out.Lookup("release_date")
		if col == nil {
			return nil
		}
		return col.Values
	}

	// Cutoff between r1 and r2 selects the r1 release.
	got := gather(r1 + 50000)
	require.Len(t, got, 1)
	assert.True(t, time.Unix(r1, 0).UTC().Equal(got[0].(time.Time)))

	// Cutoff at or after r3 selects the r3 release.
	got = gather(r3)
	require.Len(t, got, 1)
	assert.True(t, time.Unix(r3, 0).UTC().Equal(got[0].(time.Time)))

	// Cutoff before every release drops the group.
	got = gather(r1 - 1)
	assert.Len(t, got, 0)
}

func TestCutoffAbsentSuperkeyPassesThrough(t *testing.T) {
	d, engine := newTestDepot(t, config.StoreRef{ID: "a", URI: "s3db:s3://bkt/arch"})
	seedArchive(t, engine)
	ctx := context.Background()

	// Drop the superkey declaration: cutoff selection no longer applies.
	desc := archiveDescriptor()
	desc.Details = nil
	b, err := json.Marshal(desc)
	require.NoError(t, err)
	require.NoError(t, engine.Put(ctx, "bkt", "arch/c/d/METADATA.json", b))

	out, _, err := d.Gather(ctx, "c", "d", ts(1, 0), ts(1, 23), GatherOptions{
		StoreID: "a",
		Cutoff:  time.Unix(r2, 0).UTC(),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, out.NumRows())
}

func TestCutoffWithoutCutoffReturnsAllReleases(t *testing.T) {
	d, engine := newTestDepot(t, config.StoreRef{ID: "a", URI: "s3db:s3://bkt/arch"})
	seedArchive(t, engine)

	out, _, err := d.Gather(context.Background(), "c", "d", ts(1, 0), ts(1, 23), GatherOptions{StoreID: "a"})
	require.NoError(t, err)
	assert.Equal(t, 3, out.NumRows())
}
