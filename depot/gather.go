package depot

import (
	"context"
	"os"
	"strings"
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

type GatherOptions struct {
	// StoreID pins the gather to one store. When empty the registry is
	// tried in order and the first store returning rows wins.
	StoreID string
	// Workers overrides the depot's fan-out bound for this call.
	Workers int
	// Filter is an additional per-row include predicate applied after
	// the range filter.
	Filter func(t *granary.Table, row int) bool
	// Cutoff selects, per logical row of a read-only archive, the
	// latest release not after this instant. Zero means no selection.
	Cutoff time.Time
}

// Gather returns the rows of (collection, dataset) whose index value lies
// in the closed range [start, stop], along with the dataset's descriptor.
func (d *Depot) Gather(ctx context.Context, collection, dataset string, start, stop time.Time, opts GatherOptions) (*granary.Table, *meta.Descriptor, error) {
	if opts.StoreID != "" {
		store, err := d.registry.Lookup(opts.StoreID)
		if err != nil {
			return nil, nil, err
		}
		return d.gatherStore(ctx, store, collection, dataset, start, stop, opts)
	}
	for _, id := range d.registry.IDs() {
		store, err := d.registry.Lookup(id)
		if err != nil {
			return nil, nil, err
		}
		tbl, desc, err := d.gatherStore(ctx, store, collection, dataset, start, stop, opts)
		if err != nil {
			if gerr.IsMissing(err) {
				d.logger.Debug("dataset not in store, trying next",
					zap.String("store", id),
					zap.String("collection", collection),
					zap.String("dataset", dataset))
				continue
			}
			return nil, nil, err
		}
		if tbl.NumRows() > 0 {
			return tbl, desc, nil
		}
	}
	return nil, nil, gerr.E(gerr.Missing, "no rows for %s/%s in [%s, %s] in any store",
		collection, dataset, start, stop)
}

func (d *Depot) gatherStore(ctx context.Context, store *backend.Store, collection, dataset string, start, stop time.Time, opts GatherOptions) (*granary.Table, *meta.Descriptor, error) {
	if !opts.Cutoff.IsZero() && !store.ReadOnly() {
		return nil, nil, gerr.E(gerr.Schema, "cutoff selection applies only to read-only archives")
	}
	desc, err := d.meta.Get(ctx, store, collection, dataset)
	if err != nil {
		return nil, nil, err
	}
	keys := desc.Index.KeysForRange(start, stop, store.Prefix, collection, dataset, desc.Ext())
	workers := opts.Workers
	if workers < 1 {
		workers = d.workers
	}
	if len(keys) > workers {
		if keys, err = d.pruneKeys(ctx, store, keys); err != nil {
			return nil, nil, err
		}
	}

	results := make([]*granary.Table, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, key := range keys {
		i, key := i, key
		g.Go(func() error {
			tbl, err := d.fetchPartition(gctx, store, desc, key, start, stop, opts)
			if err != nil {
				if gerr.IsNotFound(err) {
					d.logger.Debug("partition object not found, skipping",
						zap.String("key", key.Object))
					return nil
				}
				return err
			}
			results[i] = tbl
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	var kept []*granary.Table
	for _, tbl := range results {
		if tbl != nil && tbl.NumRows() > 0 {
			kept = append(kept, tbl)
		}
	}
	if len(kept) == 0 {
		empty := emptyTable(desc)
		return empty, desc, nil
	}
	tbl, err := granary.Concat(kept...)
	if err != nil {
		return nil, nil, err
	}
	if tbl, err = d.postProcess(tbl, store, desc); err != nil {
		return nil, nil, err
	}
	return tbl, desc, nil
}

// pruneKeys drops candidate keys whose object does not exist, by listing
// each distinct parent directory once and intersecting. Worth it only
// when the candidate set exceeds the worker budget; below that the
// fetches themselves discover absence just as fast.
func (d *Depot) pruneKeys(ctx context.Context, store *backend.Store, keys []index.Key) ([]index.Key, error) {
	parents := make(map[string]struct{})
	for _, k := range keys {
		i := strings.LastIndex(k.Object, "/")
		parents[k.Object[:i+1]] = struct{}{}
	}
	existing := make(map[string]struct{})
	for parent := range parents {
		listed, err := d.engine.ListKeys(ctx, store.Bucket, parent)
		if err != nil {
			return nil, err
		}
		for _, key := range listed {
			existing[key] = struct{}{}
		}
	}
	var pruned []index.Key
	for _, k := range keys {
		if _, ok := existing[k.Object]; ok {
			pruned = append(pruned, k)
		}
	}
	return pruned, nil
}

func (d *Depot) fetchPartition(ctx context.Context, store *backend.Store, desc *meta.Descriptor, key index.Key, start, stop time.Time, opts GatherOptions) (*granary.Table, error) {
	path, err := d.cache.Get(ctx, d.engine, store.Bucket, key.Object)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	// The cache may have decompressed on ingest, so the remaining
	// compression comes from the cached file's name, not the descriptor.
	_, comp, err := codec.DetectFromFilename(path)
	if err != nil {
		return nil, err
	}
	tbl, err := codec.Decode(b, desc.FileFormat, comp)
	if err != nil {
		return nil, err
	}
	if tbl, err = desc.Index.FilterRange(tbl, start, stop, key.At); err != nil {
		return nil, err
	}
	if opts.Filter != nil {
		var rows []int
		for row := 0; row < tbl.NumRows(); row++ {
			if opts.Filter(tbl, row) {
				rows = append(rows, row)
			}
		}
		tbl = tbl.Select(rows)
	}
	if !opts.Cutoff.IsZero() && store.ReadOnly() {
		if tbl, err = latestRelease(tbl, desc, opts.Cutoff); err != nil {
			return nil, err
		}
	}
	return tbl, nil
}

func emptyTable(desc *meta.Descriptor) *granary.Table {
	cols := make([]granary.Column, len(desc.ColumnOrder))
	for i, name := range desc.ColumnOrder {
		cols[i].Name = name
	}
	return granary.MustNewTable(cols...)
}
