package octree

import (
	"context"
	"fmt"

	"github.com/hupe1980/pointq/blobstore"
	"github.com/hupe1980/pointq/codec"
	"github.com/hupe1980/pointq/index"
	"github.com/hupe1980/pointq/internal/cache"
	"github.com/hupe1980/pointq/manifest"
)

// Open loads the current manifest from store and returns a scene whose voxel
// payloads are read from store on demand.
func Open(ctx context.Context, store blobstore.BlobStore, optFns ...Option) (*Scene, error) {
	m, err := manifest.NewStore(store).Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("octree: load manifest: %w", err)
	}
	return FromManifest(m, store, optFns...)
}

// FromManifest builds an out-of-core scene from m. No payload is read.
func FromManifest(m *manifest.Manifest, store blobstore.BlobStore, optFns ...Option) (*Scene, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	s := NewScene(optFns...)
	if s.opts.cacheBytes > 0 {
		// At least 16 blocks per shard.
		shards := int(min(max(s.opts.cacheBytes/(16*blobstore.DefaultBlockSize), 1), cache.DefaultShards))
		cs := blobstore.NewCachingStore(store, cache.NewSharded(s.opts.cacheBytes, shards, s.opts.rc))
		s.cache = cs.Cache()
		store = cs
	}
	for _, mc := range m.Clouds {
		c := &Cloud{id: mc.ID, name: mc.Name, offset: manifest.Vec(mc.Offset)}
		c.root = s.attach(c, mc.Root, store)
		s.clouds = append(s.clouds, c)
	}

	s.opts.logger.Debug("scene opened", "manifest", m.ID, "clouds", len(s.clouds), "voxels", len(s.voxels), "remote", s.opts.remote)
	return s, nil
}

func (s *Scene) attach(c *Cloud, mn *manifest.Node, store blobstore.BlobStore) index.Node {
	s.nextID = max(s.nextID, mn.ID+1)

	if mn.IsLeaf() {
		v := newVoxel(mn.ID, c, mn.Points, codec.ChannelMask(mn.Channels))
		v.bounds = mn.Bounds()
		v.rc = s.opts.rc
		if mn.Payload != "" {
			v.src = &source{store: store, key: mn.Payload, remote: s.opts.remote}
			v.SetFlag(index.FlagOutOfCore, true)
		} else {
			v.current.Store(1)
			v.request.Store(1)
			v.previous.Store(1)
		}
		s.voxels[v.id] = v
		return v
	}

	n := &Node{base: base{id: mn.ID, cloud: c, bounds: mn.Bounds()}}
	for _, ch := range mn.Children {
		n.setChild(ch.Octant, s.attach(c, ch, store))
	}
	return n
}
