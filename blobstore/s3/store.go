package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/hupe1980/pointq/blobstore"
)

var _ blobstore.BlobStore = (*Store)(nil)

// Store keeps blobs as objects of one bucket under a key prefix.
type Store struct {
	client   Client
	bucket   string
	prefix   blobstore.Prefix
	checksum bool
	uploader *manager.Uploader
}

type options struct {
	prefix  string
	region  string
	upload  UploadConfig
	awsOpts []func(*config.LoadOptions) error
}

// Option configures New.
type Option func(*options)

// WithPrefix roots every blob name under prefix.
func WithPrefix(prefix string) Option {
	return func(o *options) { o.prefix = prefix }
}

// WithRegion overrides the region of the shared AWS configuration.
func WithRegion(region string) Option {
	return func(o *options) { o.region = region }
}

func WithUploadConfig(cfg UploadConfig) Option {
	return func(o *options) { o.upload = cfg }
}

// WithAWSConfigOptions adds options for config.LoadDefaultConfig.
func WithAWSConfigOptions(fns ...func(*config.LoadOptions) error) Option {
	return func(o *options) { o.awsOpts = append(o.awsOpts, fns...) }
}

// New returns a store for bucket using the default AWS credential chain.
func New(ctx context.Context, bucket string, optFns ...Option) (*Store, error) {
	o := options{upload: DefaultUploadConfig()}
	for _, fn := range optFns {
		fn(&o)
	}
	if o.region != "" {
		o.awsOpts = append(o.awsOpts, config.WithRegion(o.region))
	}

	cfg, err := config.LoadDefaultConfig(ctx, o.awsOpts...)
	if err != nil {
		return nil, fmt.Errorf("s3: load aws config: %w", err)
	}
	return newStore(s3.NewFromConfig(cfg), bucket, o.prefix, o.upload), nil
}

// NewStore wraps an existing client with DefaultUploadConfig.
func NewStore(client Client, bucket, prefix string) *Store {
	return newStore(client, bucket, prefix, DefaultUploadConfig())
}

func newStore(client Client, bucket, prefix string, upload UploadConfig) *Store {
	return &Store{
		client:   client,
		bucket:   bucket,
		prefix:   blobstore.Prefix(prefix),
		checksum: upload.Checksum,
		uploader: upload.uploader(client),
	}
}

func (s *Store) checksumAlgorithm() types.ChecksumAlgorithm {
	if s.checksum {
		return types.ChecksumAlgorithmCrc32c
	}
	return ""
}

// Open learns the object size with a HEAD. Reads are ranged GETs.
func (s *Store) Open(ctx context.Context, name string) (blobstore.Blob, error) {
	key := s.prefix.Key(name)
	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, notFound(err)
	}

	return blobstore.NewRemoteBlob(aws.ToInt64(head.ContentLength), func(ctx context.Context, off, end int64) (io.ReadCloser, error) {
		out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
			Range:  aws.String(fmt.Sprintf("bytes=%d-%d", off, end)),
		})
		if err != nil {
			return nil, notFound(err)
		}
		return out.Body, nil
	}), nil
}

// Create streams writes into a multipart upload.
func (s *Store) Create(ctx context.Context, name string) (blobstore.WritableBlob, error) {
	input := &s3.PutObjectInput{
		Bucket:            aws.String(s.bucket),
		Key:               aws.String(s.prefix.Key(name)),
		ChecksumAlgorithm: s.checksumAlgorithm(),
	}
	return blobstore.NewUpload(func(r io.Reader) error {
		input.Body = r
		_, err := s.uploader.Upload(ctx, input)
		return err
	}), nil
}

// Put uploads data with a single PUT.
func (s *Store) Put(ctx context.Context, name string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:            aws.String(s.bucket),
		Key:               aws.String(s.prefix.Key(name)),
		Body:              bytes.NewReader(data),
		ContentLength:     aws.Int64(int64(len(data))),
		ChecksumAlgorithm: s.checksumAlgorithm(),
	})
	return err
}

func (s *Store) Delete(ctx context.Context, name string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.prefix.Key(name)),
	})
	if errors.Is(notFound(err), blobstore.ErrNotFound) {
		return nil
	}
	return err
}

func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	pages := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix.ListKey(prefix)),
	})

	var names []string
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			names = append(names, s.prefix.Name(aws.ToString(obj.Key)))
		}
	}
	slices.Sort(names)
	return names, nil
}

// notFound maps the S3 missing-object errors to blobstore.ErrNotFound.
func notFound(err error) error {
	var (
		nf  *types.NotFound
		nsk *types.NoSuchKey
	)
	if errors.As(err, &nf) || errors.As(err, &nsk) {
		return fmt.Errorf("%w: %w", blobstore.ErrNotFound, err)
	}
	return err
}
