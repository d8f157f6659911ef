package storage

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/granary-db/granary/errors"
)

// FileSystem implements Engine over a local directory tree, mapping a
// bucket to a directory under root. It exists for local development and
// for exercising the pipelines without an object store.
type FileSystem struct {
	root string
	perm os.FileMode
}

var _ Engine = (*FileSystem)(nil)

func NewFileSystem(root string) *FileSystem {
	return &FileSystem{root: root, perm: 0666}
}

func (f *FileSystem) path(bucket, key string) string {
	return filepath.Join(f.root, bucket, filepath.FromSlash(key))
}

func (f *FileSystem) Get(_ context.Context, bucket, key string) ([]byte, error) {
	b, err := os.ReadFile(f.path(bucket, key))
	if os.IsNotExist(err) {
		return nil, gerr.E(gerr.NotFound, "%s/%s", bucket, key)
	}
	return b, err
}

func (f *FileSystem) Put(_ context.Context, bucket, key string, b []byte) error {
	path := f.path(bucket, key)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, b, f.perm)
}

func (f *FileSystem) ListKeys(_ context.Context, bucket, prefix string) ([]string, error) {
	root := filepath.Join(f.root, bucket)
	var keys []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	sort.Strings(keys)
	return keys, err
}

func (f *FileSystem) ListPrefixes(ctx context.Context, bucket, parent string) ([]string, error) {
	keys, err := f.ListKeys(ctx, bucket, parent)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var prefixes []string
	for _, key := range keys {
		rest := strings.TrimPrefix(key, parent)
		i := strings.Index(rest, "/")
		if i < 0 {
			continue
		}
		p := parent + rest[:i+1]
		if _, ok := seen[p]; !ok {
			seen[p] = struct{}{}
			prefixes = append(prefixes, p)
		}
	}
	sort.Strings(prefixes)
	return prefixes, nil
}
