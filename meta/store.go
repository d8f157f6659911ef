package meta

import (
	"context"
	"encoding/json"
	"os"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/granary-db/granary/backend"
	"github.com/granary-db/granary/errors"
	"github.com/granary-db/granary/filecache"
	"github.com/granary-db/granary/pkg/storage"
)

const descriptorCacheSize = 256

// Store reads and writes dataset descriptors for a backend store.
// Descriptor reads go through the file cache like any other object read;
// a small in-process LRU short-circuits repeated lookups of the same
// dataset within a process.
type Store struct {
	engine storage.Engine
	cache  *filecache.Cache

	mu   sync.Mutex
	seen *lru.Cache[string, *Descriptor]
}

func NewStore(engine storage.Engine, cache *filecache.Cache) *Store {
	seen, _ := lru.New[string, *Descriptor](descriptorCacheSize)
	return &Store{engine: engine, cache: cache, seen: seen}
}

// Key returns the descriptor's object key within a store.
func Key(store *backend.Store, collection, dataset string) string {
	key := collection + "/" + dataset + "/" + ObjectName
	if store.Prefix != "" {
		key = store.Prefix + "/" + key
	}
	return key
}

// Get fetches the descriptor for (collection, dataset) in store. A store
// with no descriptor object is a Missing error. For read-only archives
// the index, format, and compression pinned by the store URI override
// whatever the stored object says.
func (s *Store) Get(ctx context.Context, store *backend.Store, collection, dataset string) (*Descriptor, error) {
	key := Key(store, collection, dataset)
	cacheKey := store.Bucket + "/" + key
	s.mu.Lock()
	if d, ok := s.seen.Get(cacheKey); ok {
		s.mu.Unlock()
		return d, nil
	}
	s.mu.Unlock()

	path, err := s.cache.Get(ctx, s.engine, store.Bucket, key)
	if err != nil {
		if gerr.IsNotFound(err) {
			return nil, gerr.E(gerr.Missing, "no descriptor for %s/%s in s3://%s/%s",
				collection, dataset, store.Bucket, store.Prefix)
		}
		return nil, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	d := &Descriptor{}
	if err := json.Unmarshal(b, d); err != nil {
		return nil, gerr.E(gerr.Format, "descriptor for %s/%s: %w", collection, dataset, err)
	}
	d.Collection = collection
	d.Dataset = dataset
	if store.ReadOnly() {
		d.Index.Partition = store.Partition
		d.FileFormat = store.Format
		d.Compression = store.Compression
	}
	s.mu.Lock()
	s.seen.Add(cacheKey, d)
	s.mu.Unlock()
	return d, nil
}

// Put serializes the descriptor under the fixed key. Writes bypass the
// file cache; the in-process descriptor cache is refreshed.
func (s *Store) Put(ctx context.Context, store *backend.Store, d *Descriptor) error {
	b, err := json.Marshal(d)
	if err != nil {
		return err
	}
	key := Key(store, d.Collection, d.Dataset)
	if err := s.engine.Put(ctx, store.Bucket, key, b); err != nil {
		return err
	}
	s.mu.Lock()
	s.seen.Add(store.Bucket+"/"+key, d)
	s.mu.Unlock()
	return nil
}

// Reset drops the in-process descriptor cache.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen.Purge()
}
