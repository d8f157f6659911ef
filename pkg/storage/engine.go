package storage

import (
	"context"
)

// Engine is the object-store adapter the library consumes. Objects are
// addressed by (bucket, key). Implementations map the not-found condition
// to a gerr.NotFound error so callers can branch on it without knowing the
// transport.
type Engine interface {
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	Put(ctx context.Context, bucket, key string, b []byte) error
	ListKeys(ctx context.Context, bucket, prefix string) ([]string, error)
	// ListPrefixes returns the immediate child prefixes of parent,
	// delimited by "/".
	ListPrefixes(ctx context.Context, bucket, parent string) ([]string, error)
}
