package blobstore

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	ctx := t.Context()
	m := NewMemoryStore()

	w, err := m.Create(ctx, "voxels/2")
	require.NoError(t, err)
	_, err = w.Write([]byte("abc"))
	require.NoError(t, err)
	_, err = m.Open(ctx, "voxels/2")
	assert.ErrorIs(t, err, ErrNotFound, "not visible before Close")
	require.NoError(t, w.Sync())
	require.NoError(t, w.Close())

	src := []byte("xyz")
	require.NoError(t, m.Put(ctx, "voxels/1", src))
	src[0] = 'q'
	require.NoError(t, m.Put(ctx, "manifest.json", nil))
	assert.Equal(t, 3, m.Len())

	names, err := m.List(ctx, "voxels/")
	require.NoError(t, err)
	assert.Equal(t, []string{"voxels/1", "voxels/2"}, names)

	got, err := ReadAll(ctx, m, "voxels/1")
	require.NoError(t, err)
	assert.Equal(t, "xyz", string(got))

	b, err := m.Open(ctx, "voxels/2")
	require.NoError(t, err)
	buf := make([]byte, 5)
	n, err := b.ReadAt(ctx, buf, 1)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, "bc", string(buf[:n]))
	assert.Equal(t, int64(1), m.Reads())

	empty, err := ReadAll(ctx, m, "manifest.json")
	require.NoError(t, err)
	assert.Empty(t, empty)

	require.NoError(t, m.Delete(ctx, "voxels/1"))
	require.NoError(t, m.Delete(ctx, "missing"))
	assert.Equal(t, 2, m.Len())
}
