package octree

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/pointq/blobstore"
	"github.com/hupe1980/pointq/codec"
	"github.com/hupe1980/pointq/index"
	"github.com/hupe1980/pointq/manifest"
	"github.com/hupe1980/pointq/resource"
)

const exportParallelism = 4

// PayloadKey returns the blob name of a voxel payload.
func PayloadKey(cloudID uint32, voxelID uint64) string {
	return fmt.Sprintf("voxels/%d/%d.pqv", cloudID, voxelID)
}

// Export writes one payload blob per voxel and commits a manifest describing
// the scene. Out-of-core voxels are loaded fully for the duration of the
// write and restored afterwards.
func Export(ctx context.Context, s *Scene, store blobstore.BlobStore, optFns ...Option) (*manifest.Manifest, error) {
	opts := applyOptions(optFns)

	m := &manifest.Manifest{
		Compression: opts.compression,
		ChunkPoints: opts.chunkPoints,
	}

	var leaves []*Voxel
	for _, c := range s.Clouds() {
		m.Clouds = append(m.Clouds, manifest.Cloud{
			ID:     c.id,
			Name:   c.name,
			Offset: manifest.Array(c.offset),
			Root:   describe(c.root, -1, &leaves),
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(exportParallelism)
	for _, v := range leaves {
		g.Go(func() error {
			return exportVoxel(gctx, v, store, opts)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := manifest.NewStore(store).Save(ctx, m); err != nil {
		return nil, err
	}

	opts.logger.Info("scene exported", "manifest", m.ID, "clouds", len(m.Clouds), "voxels", len(leaves))
	return m, nil
}

func describe(n index.Node, octant int, leaves *[]*Voxel) *manifest.Node {
	out := &manifest.Node{
		ID:     n.ID(),
		Octant: max(octant, 0),
		Points: n.FullPointCount(),
	}
	out.SetBounds(n.Extents(index.SpaceCloud))

	if v, ok := n.(*Voxel); ok {
		out.Channels = uint8(v.channels)
		if v.full > 0 {
			out.Payload = PayloadKey(v.CloudID(), v.id)
			*leaves = append(*leaves, v)
		}
		return out
	}

	for i := range 8 {
		if c := n.Child(i); c != nil {
			out.Children = append(out.Children, describe(c, i, leaves))
		}
	}
	return out
}

func exportVoxel(ctx context.Context, v *Voxel, store blobstore.BlobStore, opts options) (err error) {
	v.Lock()
	prev := v.CurrentLOD()
	if err := v.LoadLOD(ctx, 1); err != nil {
		v.Unlock()
		return err
	}
	recs := v.Records()
	v.UnloadLOD(prev)
	v.Unlock()

	data, err := codec.EncodePayload(recs, v.bounds.Min, codec.PayloadOptions{
		Compression: opts.compression,
		Channels:    v.channels,
		ChunkPoints: opts.chunkPoints,
	})
	if err != nil {
		return fmt.Errorf("octree: encode voxel %d: %w", v.id, err)
	}

	w, err := store.Create(ctx, PayloadKey(v.CloudID(), v.id))
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, w.Close())
	}()

	_, err = io.Copy(resource.Throttle(ctx, w, opts.rc), bytes.NewReader(data))
	return err
}
