package manifest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/hupe1980/pointq/blobstore"
)

// DDBClient is the part of the DynamoDB API that DynamoStore calls.
type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Attribute names of the commit table. The table is keyed by scene (string
// partition key) and version (number sort key):
//
//	aws dynamodb create-table \
//	  --table-name pointq-commits \
//	  --attribute-definitions AttributeName=scene,AttributeType=S AttributeName=version,AttributeType=N \
//	  --key-schema AttributeName=scene,KeyType=HASH AttributeName=version,KeyType=RANGE \
//	  --billing-mode PAY_PER_REQUEST
const (
	attrScene    = "scene"
	attrVersion  = "version"
	attrManifest = "manifest"
)

// DynamoStore keeps the CURRENT pointer of a scene as versioned DynamoDB
// items and every other blob in the wrapped store. A commit is a conditional
// put of the next version, so of two writers racing for it only one wins.
type DynamoStore struct {
	blobstore.BlobStore

	client DDBClient
	table  string
	scene  string
}

// NewDynamoStore wraps inner. scene names the scene in the table, e.g. its
// bucket URI.
func NewDynamoStore(inner blobstore.BlobStore, client DDBClient, table, scene string) *DynamoStore {
	return &DynamoStore{BlobStore: inner, client: client, table: table, scene: scene}
}

// commit is one item of the commit table.
type commit struct {
	version  uint64
	manifest string
}

func (s *DynamoStore) Open(ctx context.Context, name string) (blobstore.Blob, error) {
	if name != CurrentFileName {
		return s.BlobStore.Open(ctx, name)
	}
	c, err := s.head(ctx)
	if err != nil {
		return nil, err
	}
	if c.version == 0 {
		return nil, blobstore.ErrNotFound
	}
	return blobstore.NewRemoteBlob(int64(len(c.manifest)), func(_ context.Context, off, end int64) (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(c.manifest[off : end+1])), nil
	}), nil
}

func (s *DynamoStore) Put(ctx context.Context, name string, data []byte) error {
	if name != CurrentFileName {
		return s.BlobStore.Put(ctx, name, data)
	}
	c, err := s.head(ctx)
	if err != nil {
		return err
	}
	return s.put(ctx, commit{version: c.version + 1, manifest: string(data)})
}

// Latest returns the newest committed version, or zero.
func (s *DynamoStore) Latest(ctx context.Context) (uint64, error) {
	c, err := s.head(ctx)
	return c.version, err
}

func (s *DynamoStore) head(ctx context.Context) (commit, error) {
	out, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		KeyConditionExpression: aws.String(attrScene + " = :scene"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":scene": &types.AttributeValueMemberS{Value: s.scene},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return commit{}, fmt.Errorf("manifest: query commits: %w", err)
	}
	if len(out.Items) == 0 {
		return commit{}, nil
	}
	return parseCommit(out.Items[0])
}

func parseCommit(item map[string]types.AttributeValue) (commit, error) {
	v, ok := item[attrVersion].(*types.AttributeValueMemberN)
	if !ok {
		return commit{}, fmt.Errorf("%w: commit without %s", ErrInvalid, attrVersion)
	}
	m, ok := item[attrManifest].(*types.AttributeValueMemberS)
	if !ok {
		return commit{}, fmt.Errorf("%w: commit without %s", ErrInvalid, attrManifest)
	}
	version, err := strconv.ParseUint(v.Value, 10, 64)
	if err != nil {
		return commit{}, fmt.Errorf("%w: commit version %q", ErrInvalid, v.Value)
	}
	return commit{version: version, manifest: m.Value}, nil
}

func (s *DynamoStore) put(ctx context.Context, c commit) error {
	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item: map[string]types.AttributeValue{
			attrScene:    &types.AttributeValueMemberS{Value: s.scene},
			attrVersion:  &types.AttributeValueMemberN{Value: strconv.FormatUint(c.version, 10)},
			attrManifest: &types.AttributeValueMemberS{Value: c.manifest},
		},
		ConditionExpression: aws.String("attribute_not_exists(" + attrVersion + ")"),
	})
	var conflict *types.ConditionalCheckFailedException
	switch {
	case errors.As(err, &conflict):
		return fmt.Errorf("%w: version %d", ErrConcurrentModification, c.version)
	case err != nil:
		return fmt.Errorf("manifest: commit version %d: %w", c.version, err)
	}
	return nil
}
