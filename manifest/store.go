package manifest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/pointq/blobstore"
	"github.com/hupe1980/pointq/codec"
)

// Store manages manifest blobs and the CURRENT pointer.
type Store struct {
	store blobstore.BlobStore
	codec codec.Codec
	mu    sync.Mutex
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithCodec selects the codec used to write manifests. Defaults to codec.Default.
func WithCodec(c codec.Codec) StoreOption {
	return func(s *Store) {
		if c != nil {
			s.codec = c
		}
	}
}

// NewStore creates a manifest store on top of a blob store.
func NewStore(store blobstore.BlobStore, opts ...StoreOption) *Store {
	s := &Store{
		store: store,
		codec: codec.Default,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// FileName returns the blob name of manifest version id.
func FileName(id uint64) string {
	return fmt.Sprintf("%s-%06d.json", ManifestPrefix, id)
}

// Load returns the manifest CURRENT points to.
func (s *Store) Load(ctx context.Context) (*Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name, err := s.current(ctx)
	if err != nil {
		return nil, err
	}
	return s.load(ctx, name)
}

// LoadVersion returns a specific manifest version.
func (s *Store) LoadVersion(ctx context.Context, id uint64) (*Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.load(ctx, FileName(id))
}

// ListVersions returns the IDs of all stored manifests in ascending order.
func (s *Store) ListVersions(ctx context.Context) ([]uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	names, err := s.store.List(ctx, ManifestPrefix+"-")
	if err != nil {
		return nil, err
	}

	ids := make([]uint64, 0, len(names))
	for _, n := range names {
		var id uint64
		if _, err := fmt.Sscanf(n, ManifestPrefix+"-%d.json", &id); err != nil {
			continue // foreign blob
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Save commits m as the next version and updates CURRENT. On success m.ID,
// m.Version, m.Codec and m.CreatedAt reflect the committed manifest.
func (s *Store) Save(ctx context.Context, m *Manifest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if name, err := s.current(ctx); err == nil {
		var prev uint64
		if _, err := fmt.Sscanf(name, ManifestPrefix+"-%d.json", &prev); err == nil && prev >= m.ID {
			m.ID = prev
		}
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	m.Version = CurrentVersion
	m.ID++
	m.Codec = s.codec.Name()
	m.CreatedAt = time.Now().UTC()

	data, err := s.codec.Marshal(m)
	if err != nil {
		return fmt.Errorf("manifest: marshal: %w", err)
	}

	filename := FileName(m.ID)
	if err := s.store.Put(ctx, filename, data); err != nil {
		return fmt.Errorf("manifest: write %s: %w", filename, err)
	}

	return s.store.Put(ctx, CurrentFileName, []byte(filename))
}

// DeleteVersion removes the manifest blob of version id.
func (s *Store) DeleteVersion(ctx context.Context, id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.store.Delete(ctx, FileName(id))
}

func (s *Store) current(ctx context.Context) (string, error) {
	data, err := blobstore.ReadAll(ctx, s.store, CurrentFileName)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func (s *Store) load(ctx context.Context, name string) (*Manifest, error) {
	data, err := blobstore.ReadAll(ctx, s.store, name)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, err
	}

	m := &Manifest{}
	if err := s.codec.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("manifest: decode %s: %w", name, err)
	}
	if m.Codec != "" {
		if _, err := codec.Lookup(m.Codec); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
		}
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}
