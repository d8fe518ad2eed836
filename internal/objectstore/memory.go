package objectstore

import (
	"context"
	"io"
	"sort"
	"sync"

	"gitlab.com/tozd/go/errors"

	"github.com/leaselab/image-sync/internal/models"
)

// Memory is an in-process Store used for dry runs and tests
type Memory struct {
	mu      sync.Mutex
	objects map[string]memoryObject
	heads   int
	puts    int

	// FailPut, when set, is consulted before every Put
	FailPut func(key string) error
}

type memoryObject struct {
	data        []byte
	contentType string
	meta        map[string]string
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{objects: make(map[string]memoryObject)}
}

// Head implements Store
func (m *Memory) Head(ctx context.Context, key string) (*models.ObjectMeta, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.heads++

	obj, ok := m.objects[key]
	if !ok {
		return nil, ErrNotFound
	}
	return metaFromCustom(obj.meta, obj.contentType, int64(len(obj.data))), nil
}

// Put implements Store
func (m *Memory) Put(ctx context.Context, key string, body io.ReadSeeker, size int64, contentType string, meta map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.FailPut != nil {
		if err := m.FailPut(key); err != nil {
			return err
		}
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return errors.Errorf("failed to read body for %s: %w", key, err)
	}
	if int64(len(data)) != size {
		return errors.Errorf("size mismatch for %s: expected %d, got %d", key, size, len(data))
	}

	copied := make(map[string]string, len(meta))
	for k, v := range meta {
		copied[k] = v
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts++
	m.objects[key] = memoryObject{data: data, contentType: contentType, meta: copied}
	return nil
}

// Get returns the stored bytes at key
func (m *Memory) Get(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	return obj.data, ok
}

// Keys returns every stored key in sorted order
func (m *Memory) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Puts returns the number of successful Put calls
func (m *Memory) Puts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.puts
}

// Heads returns the number of Head calls
func (m *Memory) Heads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.heads
}
