// Package octreetest builds octree scenes for tests of the packages that
// query them.
package octreetest

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/pointq/blobstore"
	"github.com/hupe1980/pointq/codec"
	"github.com/hupe1980/pointq/octree"
)

// ErrInjected is returned by FailingStore for failing blobs.
var ErrInjected = errors.New("octreetest: injected failure")

// Cloud is one cloud of a test scene.
type Cloud struct {
	Name   string
	Offset r3.Vector
	Points []codec.Record
}

// Build creates an in-memory scene.
func Build(t testing.TB, clouds []Cloud, opts ...octree.Option) *octree.Scene {
	t.Helper()
	s := octree.NewScene(opts...)
	for _, c := range clouds {
		_, err := s.AddCloud(c.Name, c.Offset, c.Points)
		require.NoError(t, err)
	}
	return s
}

// Remote exports s into a memory store and reopens it with remote voxels.
// Extra options apply to the reopened scene.
func Remote(t testing.TB, s *octree.Scene, opts ...octree.Option) (*octree.Scene, *FailingStore) {
	t.Helper()
	ctx := context.Background()

	store := NewFailingStore(blobstore.NewMemoryStore())
	_, err := octree.Export(ctx, s, store)
	require.NoError(t, err)

	opened, err := octree.Open(ctx, store, append([]octree.Option{octree.WithRemote(true)}, opts...)...)
	require.NoError(t, err)
	return opened, store
}

// FailingStore wraps a store and fails Open for selected blobs.
type FailingStore struct {
	blobstore.BlobStore

	mu    sync.Mutex
	fail  map[string]bool
	opens map[string]int
}

// NewFailingStore wraps inner.
func NewFailingStore(inner blobstore.BlobStore) *FailingStore {
	return &FailingStore{
		BlobStore: inner,
		fail:      make(map[string]bool),
		opens:     make(map[string]int),
	}
}

// Fail makes every later Open of name fail with ErrInjected.
func (s *FailingStore) Fail(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail[name] = true
}

// Opens returns how often name was opened.
func (s *FailingStore) Opens(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens[name]
}

func (s *FailingStore) Open(ctx context.Context, name string) (blobstore.Blob, error) {
	s.mu.Lock()
	s.opens[name]++
	fail := s.fail[name]
	s.mu.Unlock()

	if fail {
		return nil, ErrInjected
	}
	return s.BlobStore.Open(ctx, name)
}
