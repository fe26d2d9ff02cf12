package cache

import (
	"hash/maphash"

	"github.com/hupe1980/pointq/resource"
)

// DefaultShards is the shard count of NewSharded when none is given.
const DefaultShards = 64

var _ BlockCache = (*Sharded)(nil)

// Sharded spreads blobs over independent LRUs so parallel fetches of
// different voxels do not contend on one mutex. All blocks of a blob live in
// the same shard, which keeps Drop to a single shard.
type Sharded struct {
	shards []*LRU
	seed   maphash.Seed
}

// NewSharded creates a cache of capacity bytes split evenly over shards LRUs.
func NewSharded(capacity int64, shards int, rc *resource.Controller) *Sharded {
	if shards <= 0 {
		shards = DefaultShards
	}
	s := &Sharded{
		shards: make([]*LRU, shards),
		seed:   maphash.MakeSeed(),
	}
	for i := range s.shards {
		s.shards[i] = NewLRU(max(capacity/int64(shards), 1), rc)
	}
	return s
}

func (s *Sharded) shard(blob string) *LRU {
	return s.shards[maphash.String(s.seed, blob)%uint64(len(s.shards))]
}

func (s *Sharded) Get(key Key) ([]byte, bool) { return s.shard(key.Blob).Get(key) }

func (s *Sharded) Put(key Key, b []byte) { s.shard(key.Blob).Put(key, b) }

func (s *Sharded) Drop(blob string) { s.shard(blob).Drop(blob) }

// Stats sums the shard statistics.
func (s *Sharded) Stats() Stats {
	var total Stats
	for _, sh := range s.shards {
		st := sh.Stats()
		total.Hits += st.Hits
		total.Misses += st.Misses
		total.Evictions += st.Evictions
	}
	return total
}

func (s *Sharded) Close() error {
	for _, sh := range s.shards {
		_ = sh.Close()
	}
	return nil
}

// Size returns the cached bytes over all shards.
func (s *Sharded) Size() int64 {
	var n int64
	for _, sh := range s.shards {
		n += sh.Size()
	}
	return n
}
