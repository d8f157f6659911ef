package depot

import (
	"context"
	"strings"

	"github.com/granary-db/granary/backend"
)

// ListCollections enumerates the collections in a store.
func (d *Depot) ListCollections(ctx context.Context, storeID string) ([]string, error) {
	store, err := d.registry.Lookup(storeID)
	if err != nil {
		return nil, err
	}
	return d.listChildren(ctx, store, "")
}

// ListDatasets enumerates the datasets of a collection in a store.
func (d *Depot) ListDatasets(ctx context.Context, collection, storeID string) ([]string, error) {
	store, err := d.registry.Lookup(storeID)
	if err != nil {
		return nil, err
	}
	return d.listChildren(ctx, store, collection+"/")
}

func (d *Depot) listChildren(ctx context.Context, store *backend.Store, within string) ([]string, error) {
	parent := within
	if store.Prefix != "" {
		parent = store.Prefix + "/" + within
	}
	prefixes, err := d.engine.ListPrefixes(ctx, store.Bucket, parent)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		name := strings.TrimSuffix(strings.TrimPrefix(p, parent), "/")
		if name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}
