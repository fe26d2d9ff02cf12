package mmap

import (
	"errors"
	"io"
	"os"
	"sync/atomic"
)

var (
	// ErrClosed is returned by reads after Close.
	ErrClosed = errors.New("mmap: file closed")
	// ErrRange is returned for a range that does not start inside the file.
	ErrRange = errors.New("mmap: range outside file")
	// ErrTooLarge is returned for files that do not fit the address space.
	ErrTooLarge = errors.New("mmap: file too large")
)

// Advice is a paging hint for a range of a File.
type Advice uint8

const (
	// Random disables read-ahead. Chunks are read in traversal order, not
	// file order.
	Random Advice = iota
	// WillNeed starts reading a range in the background.
	WillNeed
	// DontNeed lets the kernel drop the pages of a range.
	DontNeed
)

// File is a read-only mapped file.
type File struct {
	data   []byte
	unmap  func() error
	closed atomic.Bool
}

// Open maps the file at path.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := fi.Size()
	if int64(int(size)) != size {
		return nil, ErrTooLarge
	}
	if size == 0 {
		return &File{}, nil
	}

	data, unmap, err := osMap(f, int(size))
	if err != nil {
		return nil, err
	}
	return &File{data: data, unmap: unmap}, nil
}

// Len returns the file size in bytes.
func (f *File) Len() int64 { return int64(len(f.data)) }

// Close unmaps the file. Calling it again is a no-op.
func (f *File) Close() error {
	if f.closed.Swap(true) || f.unmap == nil {
		return nil
	}
	return f.unmap()
}

// Range returns [off, off+n) without copying, cut at the end of the file.
func (f *File) Range(off, n int64) ([]byte, error) {
	if f.closed.Load() {
		return nil, ErrClosed
	}
	if off < 0 || n < 0 || off > f.Len() {
		return nil, ErrRange
	}
	end := min(off+n, f.Len())
	return f.data[off:end:end], nil
}

// ReadAt implements io.ReaderAt.
func (f *File) ReadAt(p []byte, off int64) (int, error) {
	b, err := f.Range(off, int64(len(p)))
	if errors.Is(err, ErrRange) && off >= 0 {
		return 0, io.EOF
	}
	if err != nil {
		return 0, err
	}
	n := copy(p, b)
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Advise applies a to the pages holding [off, off+n). Hints are best
// effort; platforms without them ignore the call.
func (f *File) Advise(a Advice, off, n int64) error {
	if f.closed.Load() {
		return ErrClosed
	}
	if off < 0 || n <= 0 || off >= f.Len() {
		return nil
	}
	page := int64(os.Getpagesize())
	start := off &^ (page - 1)
	end := min(off+n, f.Len())
	return osAdvise(f.data[start:end], a)
}
