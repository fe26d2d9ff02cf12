package blobstore

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
	"sync"
)

// Prefix places blob names under a root key of an object store bucket.
type Prefix string

// Key returns the object key of name.
func (p Prefix) Key(name string) string {
	return path.Join(string(p), name)
}

// ListKey returns the object key prefix that lists the blobs starting with
// prefix. A trailing slash is kept so "voxels/" does not match "voxels2".
func (p Prefix) ListKey(prefix string) string {
	k := p.Key(prefix)
	if k != "" && (strings.HasSuffix(prefix, "/") || prefix == "") {
		k += "/"
	}
	return k
}

// Name returns the blob name of an object key listed under p.
func (p Prefix) Name(key string) string {
	root := strings.Trim(string(p), "/")
	if root == "" {
		return key
	}
	return strings.TrimPrefix(strings.TrimPrefix(key, root), "/")
}

// GetRange opens bytes [off, end] of a remote object. end is inclusive, as in
// an HTTP Range header.
type GetRange func(ctx context.Context, off, end int64) (io.ReadCloser, error)

// NewRemoteBlob returns a blob of size bytes that serves every read with one
// ranged request.
func NewRemoteBlob(size int64, get GetRange) Blob {
	return &remoteBlob{size: size, get: get}
}

type remoteBlob struct {
	size int64
	get  GetRange
}

func (b *remoteBlob) Size() int64 { return b.size }

func (b *remoteBlob) Close() error { return nil }

func (b *remoteBlob) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	switch {
	case len(p) == 0:
		return 0, nil
	case off >= b.size:
		return 0, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	want := min(int64(len(p)), b.size-off)
	body, err := b.get(ctx, off, off+want-1)
	if err != nil {
		return 0, err
	}
	defer body.Close()

	n, err := io.ReadFull(body, p[:want])
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return n, io.EOF
	}
	if err == nil && want < int64(len(p)) {
		err = io.EOF
	}
	return n, err
}

func (b *remoteBlob) ReadRange(ctx context.Context, off, length int64) (io.ReadCloser, error) {
	if off >= b.size || length <= 0 {
		return io.NopCloser(strings.NewReader("")), nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return b.get(ctx, off, min(off+length, b.size)-1)
}

// Upload streams writes into a background upload. The blob is committed by
// Close, which waits for the upload to finish.
type Upload struct {
	pw   *io.PipeWriter
	done chan error

	mu     sync.Mutex
	closed bool
	err    error
}

// NewUpload starts send in its own goroutine. send reads the written bytes
// until EOF; an error it returns fails pending writes and Close.
func NewUpload(send func(r io.Reader) error) *Upload {
	pr, pw := io.Pipe()
	u := &Upload{pw: pw, done: make(chan error, 1)}
	go func() {
		err := send(pr)
		_ = pr.CloseWithError(err)
		u.done <- err
	}()
	return u
}

func (u *Upload) Write(p []byte) (int, error) {
	return u.pw.Write(p)
}

// Sync is a no-op. Data is committed on Close.
func (u *Upload) Sync() error { return nil }

func (u *Upload) Close() error {
	return u.finish(nil)
}

// Abort cancels the upload. Nothing is committed.
func (u *Upload) Abort() error {
	return u.finish(context.Canceled)
}

func (u *Upload) finish(cause error) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return u.err
	}
	u.closed = true

	if cause != nil {
		_ = u.pw.CloseWithError(cause)
		<-u.done
		return nil
	}
	if u.err = u.pw.Close(); u.err != nil {
		return u.err
	}
	u.err = <-u.done
	return u.err
}
