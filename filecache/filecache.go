// Package filecache maintains a thread-safe, size-bounded LRU of local
// files mirroring immutable objects in a remote store. Downloads are
// single-flight per key, compressed objects can be expanded on ingest, and
// a persistent cache directory is reconstructed into the LRU at startup.
package filecache

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/ksuid"
	"go.uber.org/zap"

	"github.com/granary-db/granary/codec"
	"github.com/granary-db/granary/errors"
	"github.com/granary-db/granary/pkg/storage"
)

const (
	// The artifact LRU is bounded by byte weight, not entry count; the
	// entry cap only has to be out of reach.
	maxArtifacts = 1 << 18
	// Per-key download mutexes live in their own small LRU so a
	// long-running process does not accumulate one mutex per object
	// ever fetched. Losing a mutex to eviction only costs coordination,
	// never correctness: the artifact LRU still deduplicates.
	lockTableSize = 100

	fetchRetries   = 2
	fetchBackoff   = 250 * time.Millisecond
)

type artifact struct {
	path string
	size int64
}

type Cache struct {
	dir        string
	ephemeral  bool
	maxBytes   int64
	decompress bool
	logger     *zap.Logger

	// mu guards artifacts and total. The eviction callback runs inside
	// artifact LRU operations, so it touches total and the filesystem
	// directly rather than re-locking.
	mu        sync.Mutex
	artifacts *lru.Cache[string, artifact]
	total     int64

	lockMu sync.Mutex
	locks  *lru.Cache[string, *sync.Mutex]

	hits      prometheus.Counter
	misses    prometheus.Counter
	evictions prometheus.Counter
}

type Options struct {
	// Dir, when set, makes the cache persistent: files already under it
	// are registered at construction and the directory survives Close.
	// When empty a fresh temporary directory is used.
	Dir string
	// MaxBytes is the weight ceiling for resident artifacts.
	MaxBytes int64
	// ExpireAfter prunes persistent-directory files whose mtime is older
	// at construction. Zero disables pruning.
	ExpireAfter time.Duration
	// Decompress expands objects with a known compression extension
	// before caching; the cached file and its logical key drop the
	// compression suffix.
	Decompress bool
	Logger     *zap.Logger
	Registerer prometheus.Registerer
}

func New(opts Options) (*Cache, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	registerer := opts.Registerer
	if registerer == nil {
		registerer = prometheus.NewRegistry()
	}
	factory := promauto.With(registerer)
	c := &Cache{
		dir:        opts.Dir,
		maxBytes:   opts.MaxBytes,
		decompress: opts.Decompress,
		logger:     logger,
		hits: factory.NewCounter(prometheus.CounterOpts{
			Name: "granary_cache_hits_total",
			Help: "Number of cache lookups served from a resident artifact.",
		}),
		misses: factory.NewCounter(prometheus.CounterOpts{
			Name: "granary_cache_misses_total",
			Help: "Number of cache lookups that downloaded the object.",
		}),
		evictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "granary_cache_evictions_total",
			Help: "Number of artifacts evicted to stay under the size ceiling.",
		}),
	}
	var err error
	c.artifacts, err = lru.NewWithEvict(maxArtifacts, c.onEvict)
	if err != nil {
		return nil, err
	}
	c.locks, err = lru.New[string, *sync.Mutex](lockTableSize)
	if err != nil {
		return nil, err
	}
	if c.dir == "" {
		c.dir, err = os.MkdirTemp("", "granary-cache-")
		if err != nil {
			return nil, err
		}
		c.ephemeral = true
	} else if err := c.reconstruct(opts.ExpireAfter); err != nil {
		return nil, err
	}
	return c, nil
}

// Close tears down an ephemeral cache directory. Persistent directories
// are left for the next process.
func (c *Cache) Close() error {
	if c.ephemeral {
		return os.RemoveAll(c.dir)
	}
	return nil
}

// onEvict runs inside artifact LRU mutations while c.mu is held.
func (c *Cache) onEvict(key string, art artifact) {
	c.total -= art.size
	if err := os.Remove(art.path); err != nil && !os.IsNotExist(err) {
		c.logger.Warn("cache eviction could not remove file",
			zap.String("path", art.path), zap.Error(err))
	}
	c.evictions.Inc()
	c.logger.Debug("evicted cache artifact",
		zap.String("key", key), zap.Int64("size", art.size))
}

// reconstruct registers every regular file under the persistent directory
// in ascending mtime order, deleting files older than the TTL first.
func (c *Cache) reconstruct(expireAfter time.Duration) error {
	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return err
	}
	type entry struct {
		path  string
		size  int64
		mtime time.Time
	}
	var entries []entry
	deadline := time.Now().Add(-expireAfter)
	err := filepath.Walk(c.dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		if expireAfter > 0 && info.ModTime().Before(deadline) {
			return os.Remove(path)
		}
		entries = append(entries, entry{path, info.Size(), info.ModTime()})
		return nil
	})
	if err != nil {
		return err
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].mtime.Before(entries[j].mtime)
	})
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range entries {
		rel, err := filepath.Rel(c.dir, e.path)
		if err != nil {
			return err
		}
		c.artifacts.Add(filepath.ToSlash(rel), artifact{path: e.path, size: e.size})
		c.total += e.size
	}
	c.shed()
	return nil
}

// shed evicts least-recently-used artifacts until the total weight fits.
// Called with c.mu held. The newest artifact is never shed, so a single
// object larger than the ceiling still caches.
func (c *Cache) shed() {
	for c.total > c.maxBytes && c.artifacts.Len() > 1 {
		c.artifacts.RemoveOldest()
	}
}

// logicalKey strips a recognized compression suffix when decompression on
// ingest is enabled, so "k.csv.gz" and "k.csv" name the same artifact.
func (c *Cache) logicalKey(key string) (string, codec.Compression) {
	if !c.decompress {
		return key, codec.None
	}
	_, comp, err := codec.DetectFromFilename(key)
	if err != nil || comp == codec.None {
		return key, codec.None
	}
	return strings.TrimSuffix(key, "."+comp.Ext()), comp
}

func (c *Cache) keyLock(cacheKey string) *sync.Mutex {
	c.lockMu.Lock()
	defer c.lockMu.Unlock()
	if mu, ok := c.locks.Get(cacheKey); ok {
		return mu
	}
	mu := &sync.Mutex{}
	c.locks.Add(cacheKey, mu)
	return mu
}

// Get returns the absolute local path of the cached object, downloading
// it through engine on a miss. At most one download per logical key is in
// flight at any time; concurrent callers for the same key block until the
// first completes and then observe the same artifact.
func (c *Cache) Get(ctx context.Context, engine storage.Engine, bucket, key string) (string, error) {
	logical, comp := c.logicalKey(key)
	cacheKey := bucket + "/" + strings.TrimPrefix(logical, "/")

	mu := c.keyLock(cacheKey)
	mu.Lock()
	defer mu.Unlock()

	c.mu.Lock()
	art, ok := c.artifacts.Get(cacheKey)
	c.mu.Unlock()
	if ok {
		c.hits.Inc()
		return art.path, nil
	}

	b, err := c.fetch(ctx, engine, bucket, key)
	if err != nil {
		return "", err
	}
	if comp != codec.None {
		if b, err = codec.DecompressBytes(b, comp); err != nil {
			return "", err
		}
	}
	path := filepath.Join(c.dir, bucket, filepath.FromSlash(strings.TrimPrefix(logical, "/")))
	if err := writeAtomic(path, b); err != nil {
		return "", err
	}
	c.misses.Inc()
	c.logger.Debug("cached object",
		zap.String("key", cacheKey), zap.Int("size", len(b)))

	c.mu.Lock()
	c.artifacts.Add(cacheKey, artifact{path: path, size: int64(len(b))})
	c.total += int64(len(b))
	c.shed()
	c.mu.Unlock()
	return path, nil
}

// fetch downloads with a small retry budget for transient transport
// errors. Not-found and recognized service errors surface immediately.
func (c *Cache) fetch(ctx context.Context, engine storage.Engine, bucket, key string) ([]byte, error) {
	backoff := fetchBackoff
	for attempt := 0; ; attempt++ {
		b, err := engine.Get(ctx, bucket, key)
		if err == nil || !gerr.IsTransient(err) || attempt >= fetchRetries {
			return b, err
		}
		c.logger.Debug("retrying fetch after transient error",
			zap.String("bucket", bucket), zap.String("key", key),
			zap.Int("attempt", attempt), zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

func writeAtomic(path string, b []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp := path + "." + ksuid.New().String()
	if err := os.WriteFile(tmp, b, 0666); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Len and Size report the resident artifact count and weight, for tests
// and introspection.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.artifacts.Len()
}

func (c *Cache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}
