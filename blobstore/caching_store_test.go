package blobstore

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/pointq/internal/cache"
)

func TestCachingStore_ReadThrough(t *testing.T) {
	ctx := t.Context()
	inner := NewMemoryStore()
	data := make([]byte, 1000)
	for i := range data {
		data[i] = byte(i)
	}
	require.NoError(t, inner.Put(ctx, "voxels/1", data))

	s := NewCachingStore(inner, cache.NewLRU(1<<20, nil), WithBlockSize(100))
	b, err := s.Open(ctx, "voxels/1")
	require.NoError(t, err)
	defer b.Close()

	buf := make([]byte, 250)
	n, err := b.ReadAt(ctx, buf, 150)
	require.NoError(t, err)
	assert.Equal(t, 250, n)
	assert.Equal(t, data[150:400], buf)
	// Blocks 1..3 are one contiguous run.
	assert.Equal(t, int64(1), inner.Reads())

	n, err = b.ReadAt(ctx, buf[:50], 200)
	require.NoError(t, err)
	assert.Equal(t, 50, n)
	assert.Equal(t, data[200:250], buf[:50])
	assert.Equal(t, int64(1), inner.Reads(), "served from cache")
	assert.Equal(t, int64(1), s.Cache().Stats().Hits)

	// Tail read past the end.
	n, err = b.ReadAt(ctx, buf, 900)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 100, n)
	assert.Equal(t, data[900:], buf[:100])

	_, err = b.ReadAt(ctx, buf, 5000)
	assert.ErrorIs(t, err, io.EOF)
}

func TestCachingStore_PutInvalidates(t *testing.T) {
	ctx := t.Context()
	inner := NewMemoryStore()
	require.NoError(t, inner.Put(ctx, "m", []byte("aaaa")))

	s := NewCachingStore(inner, cache.NewLRU(1<<20, nil))
	got, err := ReadAll(ctx, s, "m")
	require.NoError(t, err)
	assert.Equal(t, "aaaa", string(got))

	require.NoError(t, s.Put(ctx, "m", []byte("bbbb")))
	got, err = ReadAll(ctx, s, "m")
	require.NoError(t, err)
	assert.Equal(t, "bbbb", string(got))

	names, err := s.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"m"}, names)

	require.NoError(t, s.Delete(ctx, "m"))
	_, err = s.Open(ctx, "m")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCachingBlob_ReadRange(t *testing.T) {
	ctx := t.Context()
	inner := NewMemoryStore()
	require.NoError(t, inner.Put(ctx, "r", []byte("hello world")))

	s := NewCachingStore(inner, cache.NewSharded(1<<20, 4, nil), WithBlockSize(4), WithFillParallelism(2))
	b, err := s.Open(ctx, "r")
	require.NoError(t, err)

	rc, err := b.ReadRange(ctx, 6, 100)
	require.NoError(t, err)
	out, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "world", string(out))
}
