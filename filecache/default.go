package filecache

import (
	"sync"
	"time"

	"github.com/granary-db/granary/config"
)

var (
	defaultMu    sync.Mutex
	defaultCache *Cache
)

// Default returns the process-wide cache, constructing it lazily from the
// current configuration.
func Default() (*Cache, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultCache == nil {
		cfg, err := config.Current()
		if err != nil {
			return nil, err
		}
		c, err := New(Options{
			Dir:         cfg.CacheDir,
			MaxBytes:    cfg.CacheSizeMB * 1000 * 1000,
			ExpireAfter: time.Duration(cfg.CacheExpireAfterDays) * 24 * time.Hour,
			Decompress:  cfg.CacheDecompressEnabled(),
		})
		if err != nil {
			return nil, err
		}
		defaultCache = c
	}
	return defaultCache, nil
}

// Reset tears down the process-wide cache so the next Default rebuilds it.
// Tests inject their own cache instead of relying on this.
func Reset() error {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultCache == nil {
		return nil
	}
	err := defaultCache.Close()
	defaultCache = nil
	return err
}
