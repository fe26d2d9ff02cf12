package blobstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/hupe1980/pointq/internal/mmap"
)

// LocalStore keeps blobs as files under a directory. Reads go through a
// read-only mmap. A written blob appears under its name only once complete.
type LocalStore struct {
	root string
}

func NewLocalStore(root string) *LocalStore {
	return &LocalStore{root: root}
}

func (s *LocalStore) path(name string) string {
	return filepath.Join(s.root, filepath.FromSlash(name))
}

func (s *LocalStore) Open(_ context.Context, name string) (Blob, error) {
	f, err := mmap.Open(s.path(name))
	if err != nil {
		return nil, err
	}
	_ = f.Advise(mmap.Random, 0, f.Len())
	return &localBlob{f: f}, nil
}

// Create writes to a hidden temporary file that Close renames into place.
func (s *LocalStore) Create(_ context.Context, name string) (WritableBlob, error) {
	return s.create(name)
}

func (s *LocalStore) create(name string) (*localWriter, error) {
	dst := s.path(name)
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	f, err := os.CreateTemp(dir, tmpPrefix+filepath.Base(dst)+"-*")
	if err != nil {
		return nil, err
	}
	return &localWriter{File: f, dst: dst}, nil
}

func (s *LocalStore) Put(_ context.Context, name string, data []byte) error {
	w, err := s.create(name)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		w.discard()
		return err
	}
	return w.Close()
}

func (s *LocalStore) Delete(_ context.Context, name string) error {
	if err := os.Remove(s.path(name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// List walks the directory. Unfinished writes are skipped.
func (s *LocalStore) List(_ context.Context, prefix string) ([]string, error) {
	var names []string
	err := fs.WalkDir(os.DirFS(s.root), ".", func(name string, d fs.DirEntry, err error) error {
		switch {
		case errors.Is(err, fs.ErrNotExist):
			return nil
		case err != nil:
			return err
		case d.IsDir(), strings.HasPrefix(d.Name(), tmpPrefix):
			return nil
		}
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Sort(names)
	return names, nil
}

const tmpPrefix = ".tmp-"

type localBlob struct {
	f *mmap.File
}

func (b *localBlob) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}
	return b.f.ReadAt(p, off)
}

// ReadRange serves the range straight from the mapping and prefetches its
// pages, since a range is a run of payload chunks read front to back.
func (b *localBlob) ReadRange(ctx context.Context, off, length int64) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := b.f.Range(off, length)
	if err != nil {
		return nil, err
	}
	_ = b.f.Advise(mmap.WillNeed, off, length)
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (b *localBlob) Close() error {
	return b.f.Close()
}

func (b *localBlob) Size() int64 {
	return b.f.Len()
}

// localWriter is a temporary file renamed to dst on Close.
type localWriter struct {
	*os.File
	dst string
}

func (w *localWriter) Close() error {
	if err := w.Sync(); err != nil {
		w.discard()
		return err
	}
	if err := w.File.Close(); err != nil {
		_ = os.Remove(w.Name())
		return err
	}
	return os.Rename(w.Name(), w.dst)
}

func (w *localWriter) discard() {
	_ = w.File.Close()
	_ = os.Remove(w.Name())
}
