package blobstore

import (
	"bytes"
	"context"
	"io"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
)

// MemoryStore keeps blobs in a map. It backs tests and scenes exported for
// the lifetime of a process.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
	reads atomic.Int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: map[string][]byte{}}
}

func (m *MemoryStore) get(name string) ([]byte, bool) {
	m.mu.RLock()
	data, ok := m.blobs[name]
	m.mu.RUnlock()
	return data, ok
}

func (m *MemoryStore) Open(_ context.Context, name string) (Blob, error) {
	data, ok := m.get(name)
	if !ok {
		return nil, ErrNotFound
	}
	// Put replaces slices, it never writes into them.
	return &memoryBlob{data: data, reads: &m.reads}, nil
}

func (m *MemoryStore) Create(_ context.Context, name string) (WritableBlob, error) {
	return &memoryWriter{store: m, name: name}, nil
}

func (m *MemoryStore) Put(_ context.Context, name string, data []byte) error {
	m.store(name, append([]byte{}, data...))
	return nil
}

func (m *MemoryStore) store(name string, data []byte) {
	m.mu.Lock()
	m.blobs[name] = data
	m.mu.Unlock()
}

func (m *MemoryStore) Delete(_ context.Context, name string) error {
	m.mu.Lock()
	delete(m.blobs, name)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	names := make([]string, 0, len(m.blobs))
	for name := range m.blobs {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	m.mu.RUnlock()
	slices.Sort(names)
	return names, nil
}

// Len returns the number of blobs.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}

// Reads counts ReadAt calls against the store's blobs.
func (m *MemoryStore) Reads() int64 {
	return m.reads.Load()
}

type memoryBlob struct {
	data  []byte
	reads *atomic.Int64
}

func (b *memoryBlob) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	b.reads.Add(1)
	if off >= b.Size() {
		return 0, io.EOF
	}
	n := copy(p, b.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (b *memoryBlob) ReadRange(ctx context.Context, off, length int64) (io.ReadCloser, error) {
	return newSectionReader(ctx, b, off, length), nil
}

func (b *memoryBlob) Size() int64 { return int64(len(b.data)) }

func (b *memoryBlob) Close() error { return nil }

// memoryWriter publishes its buffer on Close.
type memoryWriter struct {
	bytes.Buffer
	store *MemoryStore
	name  string
}

func (w *memoryWriter) Sync() error { return nil }

func (w *memoryWriter) Close() error {
	w.store.store(w.name, append([]byte{}, w.Bytes()...))
	return nil
}
