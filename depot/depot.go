// Package depot implements the public operations of the dataset
// warehouse: Gather (range query), Insert (append-merge-store), and the
// listing calls. It ties the backend registry, metadata store, partition
// index, codecs, and file cache together into the two pipelines.
package depot

import (
	"go.uber.org/zap"

	"github.com/granary-db/granary/backend"
	"github.com/granary-db/granary/filecache"
	"github.com/granary-db/granary/meta"
	"github.com/granary-db/granary/pkg/storage"
)

// DefaultWorkers is the fan-out bound of the gather and insert pipelines.
const DefaultWorkers = 8

type Depot struct {
	engine   storage.Engine
	cache    *filecache.Cache
	meta     *meta.Store
	registry *backend.Registry
	logger   *zap.Logger
	workers  int
}

type Options struct {
	// Engine defaults to the S3 engine built from the ambient AWS
	// environment.
	Engine storage.Engine
	// Cache defaults to the process-wide cache built from configuration.
	Cache *filecache.Cache
	// Registry defaults to the process-wide registry.
	Registry *backend.Registry
	Logger   *zap.Logger
	// Workers bounds pipeline fan-out; a value of 1 makes both
	// pipelines strictly sequential.
	Workers int
}

func New(opts Options) (*Depot, error) {
	engine := opts.Engine
	if engine == nil {
		engine = storage.NewS3()
	}
	cache := opts.Cache
	if cache == nil {
		var err error
		if cache, err = filecache.Default(); err != nil {
			return nil, err
		}
	}
	registry := opts.Registry
	if registry == nil {
		var err error
		if registry, err = backend.Default(); err != nil {
			return nil, err
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	workers := opts.Workers
	if workers < 1 {
		workers = DefaultWorkers
	}
	return &Depot{
		engine:   engine,
		cache:    cache,
		meta:     meta.NewStore(engine, cache),
		registry: registry,
		logger:   logger,
		workers:  workers,
	}, nil
}
