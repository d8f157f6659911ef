// Package backend parses store URIs into typed store descriptors and
// maintains the ordered process-wide registry used for fallback lookup.
package backend

import (
	"strings"

	"github.com/granary-db/granary/codec"
	"github.com/granary-db/granary/errors"
	"github.com/granary-db/granary/index"
)

type Kind int

const (
	// ReadOnlyArchive is populated by external systems; its format,
	// compression, and partition size are pinned by the URI variant.
	ReadOnlyArchive Kind = iota
	// WritableArchive is populated by this library's insert path; the
	// codec and index live in per-dataset metadata.
	WritableArchive
)

// Store is a parsed store descriptor. Format, Compression, and Partition
// are meaningful only for read-only archives.
type Store struct {
	Kind        Kind
	Bucket      string
	Prefix      string
	Format      codec.Format
	Compression codec.Compression
	Partition   index.Granularity
}

func (s *Store) ReadOnly() bool { return s.Kind == ReadOnlyArchive }

// Parse converts a URI of the form <type>:<bucket_spec> into a Store.
// The first dotted token of <type> selects the variant: "ffs" is a
// writable archive and "s3db" a read-only archive with CSV/gzip/day
// defaults, overridable as s3db-<format>-<compression>-<partition>.
// The bucket spec must be s3://<bucket>[/<prefix>].
func Parse(uri string) (*Store, error) {
	tag, spec, ok := strings.Cut(uri, ":")
	if !ok {
		return nil, gerr.E(gerr.Config, "store uri %q has no type tag", uri)
	}
	store, err := parseTag(tag)
	if err != nil {
		return nil, err
	}
	bucket, prefix, err := parseBucketSpec(spec)
	if err != nil {
		return nil, err
	}
	store.Bucket = bucket
	store.Prefix = prefix
	return store, nil
}

func parseTag(tag string) (*Store, error) {
	head, _, _ := strings.Cut(tag, ".")
	switch {
	case head == "ffs":
		return &Store{Kind: WritableArchive}, nil
	case head == "s3db":
		return &Store{
			Kind:        ReadOnlyArchive,
			Format:      codec.CSV,
			Compression: codec.GZ,
			Partition:   index.Day,
		}, nil
	case strings.HasPrefix(head, "s3db-"):
		parts := strings.Split(head, "-")
		if len(parts) != 4 {
			return nil, gerr.E(gerr.Config, "unknown store type %q", tag)
		}
		format, err := codec.ParseFormat(parts[1])
		if err != nil {
			return nil, gerr.E(gerr.Config, "store type %q: unknown format %q", tag, parts[1])
		}
		comp, err := codec.ParseCompression(parts[2])
		if err != nil {
			return nil, gerr.E(gerr.Config, "store type %q: unknown compression %q", tag, parts[2])
		}
		partition, err := index.ParseGranularity(parts[3])
		if err != nil {
			return nil, gerr.E(gerr.Config, "store type %q: unknown partition size %q", tag, parts[3])
		}
		return &Store{
			Kind:        ReadOnlyArchive,
			Format:      format,
			Compression: comp,
			Partition:   partition,
		}, nil
	}
	return nil, gerr.E(gerr.Config, "unknown store type %q", tag)
}

func parseBucketSpec(spec string) (bucket, prefix string, err error) {
	if !strings.HasPrefix(spec, "s3://") {
		return "", "", gerr.E(gerr.Config, "bucket spec %q is not an s3:// location", spec)
	}
	rest := strings.TrimPrefix(spec, "s3://")
	bucket, prefix, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", gerr.E(gerr.Config, "bucket spec %q has no bucket", spec)
	}
	return bucket, strings.TrimSuffix(prefix, "/"), nil
}
