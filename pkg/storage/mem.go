package storage

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/granary-db/granary/errors"
)

// MemEngine is an in-memory Engine for tests. It is safe for concurrent
// use and counts Get calls so tests can assert on fetch behavior.
type MemEngine struct {
	mu      sync.Mutex
	objects map[string][]byte
	gets    map[string]int
	// GetHook, if set, runs before each Get with the lock released.
	GetHook func(bucket, key string)
}

var _ Engine = (*MemEngine)(nil)

func NewMemEngine() *MemEngine {
	return &MemEngine{
		objects: make(map[string][]byte),
		gets:    make(map[string]int),
	}
}

func objectName(bucket, key string) string {
	return bucket + "/" + strings.TrimPrefix(key, "/")
}

func (m *MemEngine) Get(_ context.Context, bucket, key string) ([]byte, error) {
	if m.GetHook != nil {
		m.GetHook(bucket, key)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	name := objectName(bucket, key)
	m.gets[name]++
	b, ok := m.objects[name]
	if !ok {
		return nil, gerr.E(gerr.NotFound, "%s", name)
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

func (m *MemEngine) Put(_ context.Context, bucket, key string, b []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := make([]byte, len(b))
	copy(stored, b)
	m.objects[objectName(bucket, key)] = stored
	return nil
}

func (m *MemEngine) ListKeys(_ context.Context, bucket, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lead := bucket + "/"
	var keys []string
	for name := range m.objects {
		if !strings.HasPrefix(name, lead) {
			continue
		}
		key := strings.TrimPrefix(name, lead)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *MemEngine) ListPrefixes(ctx context.Context, bucket, parent string) ([]string, error) {
	keys, err := m.ListKeys(ctx, bucket, parent)
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

// GetCount returns how many Get calls have been made for bucket/key.
func (m *MemEngine) GetCount(bucket, key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gets[objectName(bucket, key)]
}

// TotalGets returns the total number of Get calls across all objects.
func (m *MemEngine) TotalGets() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int
	for _, c := range m.gets {
		n += c
	}
	return n
}
