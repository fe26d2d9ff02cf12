package blobstore

import (
	"context"
	"errors"
	"io"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/pointq/internal/cache"
)

const (
	// DefaultBlockSize is the cache block size of a CachingStore.
	DefaultBlockSize = 64 << 10
	// DefaultFillParallelism bounds the concurrent backend reads of one ReadAt.
	DefaultFillParallelism = 16
)

// CachingOption configures a CachingStore.
type CachingOption func(*CachingStore)

// WithBlockSize sets the cache block size in bytes.
func WithBlockSize(n int64) CachingOption {
	return func(s *CachingStore) {
		if n > 0 {
			s.blockSize = n
		}
	}
}

// WithFillParallelism bounds the concurrent backend reads that fill the
// missing blocks of one read.
func WithFillParallelism(n int) CachingOption {
	return func(s *CachingStore) {
		if n > 0 {
			s.parallelism = n
		}
	}
}

// CachingStore serves blob reads from a block cache in front of another
// store. Writes go to the inner store and drop the cached blocks of the blob.
type CachingStore struct {
	inner       BlobStore
	cache       cache.BlockCache
	blockSize   int64
	parallelism int
}

// NewCachingStore wraps inner with c.
func NewCachingStore(inner BlobStore, c cache.BlockCache, optFns ...CachingOption) *CachingStore {
	s := &CachingStore{
		inner:       inner,
		cache:       c,
		blockSize:   DefaultBlockSize,
		parallelism: DefaultFillParallelism,
	}
	for _, fn := range optFns {
		fn(s)
	}
	return s
}

// Cache returns the block cache.
func (s *CachingStore) Cache() cache.BlockCache { return s.cache }

func (s *CachingStore) Open(ctx context.Context, name string) (Blob, error) {
	b, err := s.inner.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	return &cachedBlob{Blob: b, store: s, name: name}, nil
}

func (s *CachingStore) Create(ctx context.Context, name string) (WritableBlob, error) {
	s.cache.Drop(name)
	return s.inner.Create(ctx, name)
}

func (s *CachingStore) Put(ctx context.Context, name string, data []byte) error {
	s.cache.Drop(name)
	return s.inner.Put(ctx, name, data)
}

func (s *CachingStore) Delete(ctx context.Context, name string) error {
	s.cache.Drop(name)
	return s.inner.Delete(ctx, name)
}

func (s *CachingStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.inner.List(ctx, prefix)
}

// cachedBlob reads whole blocks through the cache. Close and Size come from
// the inner blob.
type cachedBlob struct {
	Blob
	store *CachingStore
	name  string
}

// ReadAt collects the blocks covering p, reading each run of missing blocks
// from the inner blob with one request.
func (b *cachedBlob) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	size := b.Size()
	if off >= size {
		return 0, io.EOF
	}

	bs := b.store.blockSize
	end := min(off+int64(len(p)), size)
	first := off / bs
	blocks := make([][]byte, (end-1)/bs-first+1)
	if err := b.fill(ctx, first, blocks); err != nil {
		return 0, err
	}

	n := 0
	for i, data := range blocks {
		start := (first + int64(i)) * bs
		from := max(start, off) - start
		if from >= int64(len(data)) {
			break
		}
		n += copy(p[n:], data[from:])
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (b *cachedBlob) ReadRange(ctx context.Context, off, length int64) (io.ReadCloser, error) {
	return newSectionReader(ctx, b, off, length), nil
}

// fill sets blocks[i] to block first+i, from the cache or the inner blob.
func (b *cachedBlob) fill(ctx context.Context, first int64, blocks [][]byte) error {
	type run struct{ from, to int }
	var missing []run
	for i := range blocks {
		if data, ok := b.store.cache.Get(cache.Key{Blob: b.name, Block: first + int64(i)}); ok {
			blocks[i] = data
			continue
		}
		if k := len(missing) - 1; k >= 0 && missing[k].to == i {
			missing[k].to++
		} else {
			missing = append(missing, run{i, i + 1})
		}
	}
	if len(missing) == 0 {
		return nil
	}

	bs := b.store.blockSize
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.store.parallelism)
	for _, r := range missing {
		g.Go(func() error {
			start := (first + int64(r.from)) * bs
			buf := make([]byte, min(int64(r.to-r.from)*bs, b.Size()-start))
			n, err := b.Blob.ReadAt(gctx, buf, start)
			if err != nil && !errors.Is(err, io.EOF) {
				return err
			}
			buf = buf[:n]
			for i := r.from; i < r.to; i++ {
				lo := int64(i-r.from) * bs
				if lo >= int64(len(buf)) {
					break
				}
				// Each block gets its own copy so the cache does not pin the run.
				data := append([]byte(nil), buf[lo:min(lo+bs, int64(len(buf)))]...)
				blocks[i] = data
				b.store.cache.Put(cache.Key{Blob: b.name, Block: first + int64(i)}, data)
			}
			return nil
		})
	}
	return g.Wait()
}
