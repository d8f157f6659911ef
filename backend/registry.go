package backend

import (
	"sync"

	"github.com/granary-db/granary/config"
	"github.com/granary-db/granary/errors"
)

// The centralized stores every process knows about. The reload operation
// only swaps the additional-stores portion from configuration; this list
// is fixed at compile time.
var centralized = []struct {
	id  string
	uri string
}{
	{"warehouse", "ffs:s3://granary-warehouse/datasets"},
	{"archive", "s3db:s3://granary-archive/v1"},
	{"archive-arrow", "s3db-arrow-zst-day:s3://granary-archive-arrow/v1"},
}

// Registry is the ordered mapping of store id to parsed store.
type Registry struct {
	mu     sync.Mutex
	ids    []string
	stores map[string]*Store
}

var (
	defaultMu       sync.Mutex
	defaultRegistry *Registry
)

// Default returns the process-wide registry, building it from the current
// configuration on first use.
func Default() (*Registry, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultRegistry == nil {
		cfg, err := config.Current()
		if err != nil {
			return nil, err
		}
		r, err := NewRegistry(cfg)
		if err != nil {
			return nil, err
		}
		defaultRegistry = r
	}
	return defaultRegistry, nil
}

// Reload invalidates the process-wide registry and the configuration
// snapshot beneath it.
func Reload() {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultRegistry = nil
	config.Reload()
}

// NewRegistry composes the built-in centralized stores with the
// configuration's additional stores. Additional stores follow the
// centralized set unless prioritize-additional-stores is set; a duplicate
// id keeps its first occurrence in merge order.
func NewRegistry(cfg *config.Config) (*Registry, error) {
	if cfg.DisableCentralized && len(cfg.AdditionalStores) == 0 {
		return nil, gerr.E(gerr.Config, "disable-centralized requires additional-stores")
	}
	r := &Registry{stores: make(map[string]*Store)}
	addCentralized := func() error {
		if cfg.DisableCentralized {
			return nil
		}
		for _, c := range centralized {
			if err := r.add(c.id, c.uri); err != nil {
				return err
			}
		}
		return nil
	}
	addAdditional := func() error {
		for _, ref := range cfg.AdditionalStores {
			if err := r.add(ref.ID, ref.URI); err != nil {
				return err
			}
		}
		return nil
	}
	first, second := addCentralized, addAdditional
	if cfg.PrioritizeAdditionalStores {
		first, second = addAdditional, addCentralized
	}
	if err := first(); err != nil {
		return nil, err
	}
	if err := second(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) add(id, uri string) error {
	if _, ok := r.stores[id]; ok {
		// First occurrence in merge order wins.
		return nil
	}
	store, err := Parse(uri)
	if err != nil {
		return err
	}
	r.ids = append(r.ids, id)
	r.stores[id] = store
	return nil
}

// IDs returns the store ids in registry order.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, len(r.ids))
	copy(ids, r.ids)
	return ids
}

// Lookup returns the store registered under id. An unregistered id is
// parsed as an ad-hoc store URI; if that fails too the id is a Config
// error.
func (r *Registry) Lookup(id string) (*Store, error) {
	r.mu.Lock()
	store, ok := r.stores[id]
	r.mu.Unlock()
	if ok {
		return store, nil
	}
	store, err := Parse(id)
	if err != nil {
		return nil, gerr.E(gerr.Config, "unknown store id %q", id)
	}
	return store, nil
}
