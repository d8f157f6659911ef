// Package config loads the library configuration from an optional YAML
// file and the environment. The loaded snapshot is immutable and process
// wide; Reload replaces it atomically.
package config

import (
	"os"
	"strconv"
	"sync"

	"github.com/granary-db/granary/errors"
	"gopkg.in/yaml.v3"
)

const (
	DefaultCacheSizeMB         = 20000
	DefaultCacheExpireDays     = 90
	EnvConfigPath              = "GRANARY_CONFIG"
	envCacheDir                = "DATA_CACHE_DIR"
	envCacheSizeMB             = "DATA_CACHE_SIZE_MB"
	envCacheExpireDays         = "DATA_CACHE_EXPIRE_AFTER_DAYS"
	envCacheDecompress         = "DATA_CACHE_DECOMPRESS"
)

// StoreRef is one entry of the additional-stores list: a store id mapped
// to its URI. The YAML form is a sequence of single-key mappings so that
// insertion order is preserved.
type StoreRef struct {
	ID  string
	URI string
}

func (s *StoreRef) UnmarshalYAML(node *yaml.Node) error {
	var m map[string]string
	if err := node.Decode(&m); err != nil {
		return err
	}
	if len(m) != 1 {
		return gerr.E(gerr.Config, "additional-stores entries must be single-key mappings")
	}
	for id, uri := range m {
		s.ID = id
		s.URI = uri
	}
	return nil
}

type Config struct {
	AdditionalStores           []StoreRef `yaml:"additional-stores"`
	DisableCentralized         bool       `yaml:"disable-centralized"`
	PrioritizeAdditionalStores bool       `yaml:"prioritize-additional-stores"`
	CacheDir                   string     `yaml:"DATA_CACHE_DIR"`
	CacheSizeMB                int64      `yaml:"DATA_CACHE_SIZE_MB"`
	CacheExpireAfterDays       int        `yaml:"DATA_CACHE_EXPIRE_AFTER_DAYS"`
	CacheDecompress            *bool      `yaml:"DATA_CACHE_DECOMPRESS"`
}

// CacheDecompressEnabled returns the decompress-on-ingest setting, which
// defaults to true.
func (c *Config) CacheDecompressEnabled() bool {
	if c.CacheDecompress == nil {
		return true
	}
	return *c.CacheDecompress
}

// Parse builds a Config from YAML bytes and then applies environment
// variable overrides.
func Parse(b []byte) (*Config, error) {
	c := &Config{
		CacheSizeMB:          DefaultCacheSizeMB,
		CacheExpireAfterDays: DefaultCacheExpireDays,
	}
	if len(b) > 0 {
		if err := yaml.Unmarshal(b, c); err != nil {
			return nil, gerr.E(gerr.Config, err)
		}
	}
	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	if c.DisableCentralized && len(c.AdditionalStores) == 0 {
		return nil, gerr.E(gerr.Config, "disable-centralized requires additional-stores")
	}
	return c, nil
}

func (c *Config) applyEnv() error {
	if v, ok := os.LookupEnv(envCacheDir); ok {
		c.CacheDir = v
	}
	if v, ok := os.LookupEnv(envCacheSizeMB); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return gerr.E(gerr.Config, "%s: %w", envCacheSizeMB, err)
		}
		c.CacheSizeMB = n
	}
	if v, ok := os.LookupEnv(envCacheExpireDays); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return gerr.E(gerr.Config, "%s: %w", envCacheExpireDays, err)
		}
		c.CacheExpireAfterDays = n
	}
	if v, ok := os.LookupEnv(envCacheDecompress); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return gerr.E(gerr.Config, "%s: %w", envCacheDecompress, err)
		}
		c.CacheDecompress = &b
	}
	return nil
}

// Load reads the config file named by GRANARY_CONFIG, if any, and applies
// environment overrides. A missing file is not an error; the defaults
// apply.
func Load() (*Config, error) {
	var b []byte
	if path := os.Getenv(EnvConfigPath); path != "" {
		var err error
		b, err = os.ReadFile(path)
		if err != nil {
			return nil, gerr.E(gerr.Config, "%s: %w", path, err)
		}
	}
	return Parse(b)
}

var (
	mu       sync.Mutex
	snapshot *Config
)

// Current returns the process-wide configuration snapshot, loading it on
// first use.
func Current() (*Config, error) {
	mu.Lock()
	defer mu.Unlock()
	if snapshot == nil {
		c, err := Load()
		if err != nil {
			return nil, err
		}
		snapshot = c
	}
	return snapshot, nil
}

// Reload drops the snapshot so the next Current reloads from disk and the
// environment.
func Reload() {
	mu.Lock()
	defer mu.Unlock()
	snapshot = nil
}

// Set installs a snapshot directly, for tests.
func Set(c *Config) {
	mu.Lock()
	defer mu.Unlock()
	snapshot = c
}
