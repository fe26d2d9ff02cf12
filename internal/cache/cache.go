// Package cache holds the block caches behind blobstore.CachingStore. Voxel
// payloads are immutable once exported, so cached blocks are only dropped
// when their blob is rewritten or deleted, or to make room.
package cache

// Key identifies a block of a blob.
type Key struct {
	Blob  string
	Block int64
}

// Stats counts cache activity.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
}

// BlockCache caches immutable blocks of blobs. Returned slices are
// read-only and stay valid after eviction.
type BlockCache interface {
	Get(key Key) ([]byte, bool)
	// Put caches b. The cache keeps b; callers must not modify it.
	Put(key Key, b []byte)
	// Drop removes every block of blob.
	Drop(blob string)
	Stats() Stats
	Close() error
}
