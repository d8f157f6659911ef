package depot

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/granary-db/granary"
	"github.com/granary-db/granary/backend"
	"github.com/granary-db/granary/codec"
	"github.com/granary-db/granary/errors"
	"github.com/granary-db/granary/index"
	"github.com/granary-db/granary/meta"
)

// descriptorRefreshAfter bounds how stale a descriptor's last-modified
// stamp may get before an insert rewrites it even without detail changes.
const descriptorRefreshAfter = 24 * time.Hour

type InsertOptions struct {
	// Details merge element-wise into the stored descriptor details.
	Details map[string]string
	// ColumnTypes override inferred types when the insert creates the
	// dataset; on an existing dataset they are ignored with a warning.
	ColumnTypes map[string]granary.Type
	// Index, FileFormat, and Compression override the creation defaults
	// (target_start at day granularity, CSV, gzip). All three are
	// immutable once the dataset exists.
	Index       *index.TimeSeries
	FileFormat  codec.Format
	Compression *codec.Compression
	// Workers overrides the depot's fan-out bound for this call.
	Workers int
}

// Insert merges the table's rows into (collection, dataset) in the given
// writable store, partition by partition. Re-running the same insert is
// idempotent: each partition is sorted and deduplicated on rewrite.
func (d *Depot) Insert(ctx context.Context, collection, dataset string, tbl *granary.Table, storeID string, opts InsertOptions) error {
	store, err := d.registry.Lookup(storeID)
	if err != nil {
		return err
	}
	if store.ReadOnly() {
		return gerr.E(gerr.Schema, "store %q is a read-only archive", storeID)
	}
	if tbl == nil || tbl.NumRows() == 0 || tbl.NumCols() == 0 {
		return gerr.E(gerr.Schema, "refusing to insert an empty table")
	}
	desc, err := d.ensureDescriptor(ctx, store, collection, dataset, tbl, opts)
	if err != nil {
		return err
	}
	parts, err := desc.Index.PartitionRows(tbl)
	if err != nil {
		return err
	}
	workers := opts.Workers
	if workers < 1 {
		workers = d.workers
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, part := range parts {
		part := part
		g.Go(func() error {
			return d.mergePartition(gctx, store, desc, tbl, part)
		})
	}
	return g.Wait()
}

// ensureDescriptor validates the input against the stored descriptor, or
// creates and persists a descriptor when the dataset is new. Either way
// the returned descriptor is the canonical schema for the insert.
func (d *Depot) ensureDescriptor(ctx context.Context, store *backend.Store, collection, dataset string, tbl *granary.Table, opts InsertOptions) (*meta.Descriptor, error) {
	desc, err := d.meta.Get(ctx, store, collection, dataset)
	if err != nil {
		if gerr.IsMissing(err) {
			return d.createDescriptor(ctx, store, collection, dataset, tbl, opts)
		}
		return nil, err
	}
	if opts.ColumnTypes != nil {
		d.logger.Warn("ignoring column type overrides: dataset schema is locked",
			zap.String("collection", collection), zap.String("dataset", dataset))
	}
	declared := make(map[string]struct{}, len(desc.ColumnOrder))
	for _, name := range desc.ColumnOrder {
		declared[name] = struct{}{}
		col := tbl.Lookup(name)
		if col == nil {
			return nil, gerr.E(gerr.Schema, "input is missing column %q", name)
		}
		typ, ok := desc.ColumnTypes[name]
		if !ok {
			continue
		}
		observed := granary.InferColumn(col.Values)
		if !subtypeOrMissing(observed, typ) {
			return nil, gerr.E(gerr.Schema, "column %q: input type %s is not a subtype of declared %s",
				name, observed, typ)
		}
	}
	for _, name := range tbl.ColumnNames() {
		if _, ok := declared[name]; !ok {
			d.logger.Warn("dropping column not in dataset schema",
				zap.String("column", name),
				zap.String("dataset", dataset))
		}
	}
	changed := false
	if len(opts.Details) > 0 {
		merged := make(map[string]string, len(desc.Details)+len(opts.Details))
		for k, v := range desc.Details {
			merged[k] = v
		}
		for k, v := range opts.Details {
			if old, ok := merged[k]; !ok || old != v {
				changed = true
			}
			merged[k] = v
		}
		desc.Details = merged
	}
	if changed || time.Since(desc.LastModified) > descriptorRefreshAfter {
		desc.LastModified = time.Now().UTC()
		if err := d.meta.Put(ctx, store, desc); err != nil {
			return nil, err
		}
	}
	return desc, nil
}

func (d *Depot) createDescriptor(ctx context.Context, store *backend.Store, collection, dataset string, tbl *granary.Table, opts InsertOptions) (*meta.Descriptor, error) {
	order := tbl.ColumnNames()
	types := make(map[string]granary.Type, len(order))
	for _, col := range tbl.Columns() {
		types[col.Name] = granary.Sanitize(granary.InferColumn(col.Values))
	}
	for name, typ := range opts.ColumnTypes {
		col := tbl.Lookup(name)
		if col == nil {
			d.logger.Warn("ignoring type override for column not in input",
				zap.String("column", name))
			continue
		}
		observed := granary.InferColumn(col.Values)
		if !subtypeOrMissing(observed, typ) {
			return nil, gerr.E(gerr.Schema, "column %q: input type %s is incompatible with requested %s",
				name, observed, typ)
		}
		types[name] = typ
	}
	idx := index.TimeSeries{Key: "target_start", Partition: index.Day}
	if opts.Index != nil {
		idx = *opts.Index
	}
	format := codec.CSV
	if opts.FileFormat != codec.FormatUnknown {
		format = opts.FileFormat
	}
	compression := codec.GZ
	if opts.Compression != nil {
		compression = *opts.Compression
	}
	desc := &meta.Descriptor{
		Collection:   collection,
		Dataset:      dataset,
		ColumnOrder:  order,
		ColumnTypes:  types,
		Timezone:     "UTC",
		Index:        idx,
		FileFormat:   format,
		Compression:  compression,
		LastModified: time.Now().UTC(),
		Details:      opts.Details,
	}
	if col := tbl.Lookup(idx.Key); col != nil {
		if !isZonedType(types[idx.Key]) {
			return nil, gerr.E(gerr.Schema, "index column %q must hold zoned timestamps, got %s",
				idx.Key, types[idx.Key])
		}
		for _, v := range col.Values {
			if t, ok := v.(time.Time); ok {
				desc.Timezone = t.Location().String()
				break
			}
		}
	}
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	if err := d.meta.Put(ctx, store, desc); err != nil {
		return nil, err
	}
	return desc, nil
}

// mergePartition runs the read-modify-write cycle for one partition:
// fetch the existing object if any, concatenate, sort and deduplicate on
// the full column order, re-encode, and overwrite. The fetch deliberately
// bypasses the file cache: an insert must read its own prior writes, and
// a stale cached artifact would merge against old data.
func (d *Depot) mergePartition(ctx context.Context, store *backend.Store, desc *meta.Descriptor, tbl *granary.Table, part index.Partition) error {
	key := index.ObjectKey(store.Prefix, desc.Collection, desc.Dataset, part.At, desc.Ext())
	incoming, err := tbl.Select(part.Rows).Pick(desc.ColumnOrder)
	if err != nil {
		return err
	}
	incoming = incoming.Copy()
	encodeTimestamps(incoming, desc)

	merged := incoming
	existing, err := d.engine.Get(ctx, store.Bucket, key)
	if err != nil && !gerr.IsNotFound(err) {
		return err
	}
	if err == nil {
		prior, err := codec.Decode(existing, desc.FileFormat, desc.Compression)
		if err != nil {
			return err
		}
		if merged, err = granary.Concat(prior, incoming); err != nil {
			return err
		}
	}
	coerceColumns(merged, desc)
	if merged, err = merged.SortDedup(desc.ColumnOrder); err != nil {
		return err
	}
	b, err := codec.Encode(merged, desc.FileFormat, desc.Compression)
	if err != nil {
		return err
	}
	d.logger.Debug("writing partition",
		zap.String("key", key), zap.Int("rows", merged.NumRows()))
	return d.engine.Put(ctx, store.Bucket, key, b)
}

// coerceColumns aligns cells with the declared column types before dedup.
// The prior object's cells come from the schema-agnostic CSV reader and
// the incoming cells from the caller, so the same string value can arrive
// as int64(7) on one side and "7" on the other. Dedup compares numbers by
// value across kinds but treats a number and a string as different cells.
func coerceColumns(tbl *granary.Table, desc *meta.Descriptor) {
	for name, typ := range desc.ColumnTypes {
		if isZonedType(typ) {
			continue
		}
		if col := tbl.Lookup(name); col != nil {
			coerceDeclared(col, typ)
		}
	}
}

// encodeTimestamps replaces every zoned-timestamp column with Unix-second
// integers, the on-disk representation.
func encodeTimestamps(tbl *granary.Table, desc *meta.Descriptor) {
	for name, typ := range desc.ColumnTypes {
		if !isZonedType(typ) {
			continue
		}
		col := tbl.Lookup(name)
		if col == nil {
			continue
		}
		for i, v := range col.Values {
			if t, ok := v.(time.Time); ok {
				col.Values[i] = t.Unix()
			}
		}
	}
}
