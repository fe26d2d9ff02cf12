package minio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"slices"

	"github.com/minio/minio-go/v7"

	"github.com/hupe1980/pointq/blobstore"
)

var _ blobstore.BlobStore = (*Store)(nil)

// Store keeps blobs as objects of one bucket under a key prefix.
type Store struct {
	client *minio.Client
	bucket string
	prefix blobstore.Prefix
}

func NewStore(client *minio.Client, bucket, prefix string) *Store {
	return &Store{client: client, bucket: bucket, prefix: blobstore.Prefix(prefix)}
}

// Open learns the object size with a stat. Reads are ranged GETs.
func (s *Store) Open(ctx context.Context, name string) (blobstore.Blob, error) {
	key := s.prefix.Key(name)
	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return nil, notFound(err)
	}

	return blobstore.NewRemoteBlob(info.Size, func(ctx context.Context, off, end int64) (io.ReadCloser, error) {
		var opts minio.GetObjectOptions
		if err := opts.SetRange(off, end); err != nil {
			return nil, err
		}
		obj, err := s.client.GetObject(ctx, s.bucket, key, opts)
		if err != nil {
			return nil, notFound(err)
		}
		return obj, nil
	}), nil
}

// Create streams writes into a PutObject of unknown size.
func (s *Store) Create(ctx context.Context, name string) (blobstore.WritableBlob, error) {
	key := s.prefix.Key(name)
	return blobstore.NewUpload(func(r io.Reader) error {
		_, err := s.client.PutObject(ctx, s.bucket, key, r, -1, minio.PutObjectOptions{})
		return err
	}), nil
}

func (s *Store) Put(ctx context.Context, name string, data []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, s.prefix.Key(name), bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{})
	return err
}

func (s *Store) Delete(ctx context.Context, name string) error {
	err := s.client.RemoveObject(ctx, s.bucket, s.prefix.Key(name), minio.RemoveObjectOptions{})
	if err != nil && !isNotFound(err) {
		return err
	}
	return nil
}

func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	opts := minio.ListObjectsOptions{Prefix: s.prefix.ListKey(prefix), Recursive: true}

	var names []string
	for obj := range s.client.ListObjects(ctx, s.bucket, opts) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		if name := s.prefix.Name(obj.Key); name != "" {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names, nil
}

func isNotFound(err error) bool {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NotFound":
		return true
	}
	return false
}

func notFound(err error) error {
	if isNotFound(err) {
		return fmt.Errorf("%w: %w", blobstore.ErrNotFound, err)
	}
	return err
}
