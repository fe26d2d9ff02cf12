package blobstore

import (
	"context"
	"io"
	"os"
)

// ErrNotFound matches, through errors.Is, the error of opening a missing blob.
var ErrNotFound = os.ErrNotExist

// BlobStore holds the immutable blobs of exported scenes: voxel payloads,
// manifests and the CURRENT pointer.
type BlobStore interface {
	Open(ctx context.Context, name string) (Blob, error)
	// Create creates a blob for streaming writes; it becomes visible on Close.
	Create(ctx context.Context, name string) (WritableBlob, error)
	// Put replaces name with data in one step.
	Put(ctx context.Context, name string, data []byte) error
	// Delete removes a blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, name string) error
	// List returns the sorted names of blobs with the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Blob is an open blob.
type Blob interface {
	// ReadAt reads len(p) bytes at off. Short reads at the end of the blob
	// return io.EOF.
	ReadAt(ctx context.Context, p []byte, off int64) (int, error)
	// ReadRange returns a reader over [off, off+length).
	ReadRange(ctx context.Context, off, length int64) (io.ReadCloser, error)
	io.Closer
	Size() int64
}

// WritableBlob is a blob being written.
type WritableBlob interface {
	io.Writer
	io.Closer
	Sync() error
}

// ReadAll reads a whole blob.
func ReadAll(ctx context.Context, s BlobStore, name string) ([]byte, error) {
	b, err := s.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer b.Close()

	buf := make([]byte, b.Size())
	n, err := b.ReadAt(ctx, buf, 0)
	if n == len(buf) {
		return buf, nil
	}
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	return nil, err
}

// sectionReader adapts Blob.ReadAt to io.Reader over a byte range.
type sectionReader struct {
	ctx   context.Context
	blob  Blob
	off   int64
	limit int64
}

func newSectionReader(ctx context.Context, b Blob, off, length int64) io.ReadCloser {
	return io.NopCloser(&sectionReader{ctx: ctx, blob: b, off: off, limit: min(off+length, b.Size())})
}

func (r *sectionReader) Read(p []byte) (int, error) {
	if r.off >= r.limit {
		return 0, io.EOF
	}
	if remaining := r.limit - r.off; int64(len(p)) > remaining {
		p = p[:remaining]
	}
	n, err := r.blob.ReadAt(r.ctx, p, r.off)
	r.off += int64(n)
	if err == io.EOF && n > 0 {
		err = nil
	}
	return n, err
}
