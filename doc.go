// Package pointq is an out-of-core point cloud query engine.
//
// A scene holds one or more point clouds organised as octrees of voxels.
// Voxel payloads are stored level-of-detail ordered, so any prefix of a voxel
// is a uniform sample of it, and may live in memory, in local files or in a
// remote blob store (S3, MinIO). Queries stream the points they accept into
// caller-owned buffers a batch at a time and resume where the previous batch
// stopped.
//
// # Quick Start
//
//	scene := octree.NewScene()
//	scene.AddCloud("scan", r3.Vector{}, points)
//
//	e := pointq.New(scene)
//	defer e.Close()
//
//	h, _ := e.CreateQuery(pointq.QueryBox, pointq.QueryArgs{Box: box})
//	buf := &query.Buffers{Geometry: make([]float64, 3*4096)}
//	for {
//		n, err := e.RunQuery(ctx, h, 4096, buf)
//		if err != nil || n == 0 {
//			break
//		}
//		consume(buf.Geometry[:3*n])
//	}
//
// # Out-of-core Scenes
//
// Export writes one payload blob per voxel plus a manifest; Open rebuilds the
// tree with no payload resident. Remote voxels are fetched in batches by a
// stream manager shared between queries:
//
//	store, _ := s3.New(ctx, "scans", s3.WithPrefix("site-a/"))
//	scene, _ := octree.Open(ctx, store, octree.WithRemote(true))
//	e := pointq.New(scene, pointq.WithStreamManager(stream.New(stream.WithParallelism(16))))
//
// # Density
//
// Every query reads a fraction of each voxel chosen by its density:
//
//	e.SetDensity(h, density.Full, 0.25)    // a quarter of every voxel
//	e.SetDensity(h, density.View, 1)       // what the renderer has resident
//	e.SetDensity(h, density.Limit, 100000) // about 100k points in total
//	e.SetDensity(h, density.Spatial, 0.05) // one point per 5cm cell
//
// Changing density, scope or layers restarts the query.
//
// # Nearest Neighbours
//
//	h, _ := e.CreateKNNQuery(vertices, 8)
//	sizes := make([]int, len(vertices))
//	n, _ := e.RunKNNQuery(ctx, h, 8, sizes, geometry)
//
// # Selection and User Channels
//
// SelectQueryPoints marks the accepted points as selected; a "selected"
// query returns them. User channels attach application data to points:
// RunDetailedQuery reads them and SubmitChannelUpdate writes the values for
// the points of the last run.
//
// # Observability
//
// Logging uses log/slog through Logger; metrics go to a MetricsCollector.
// Package prom provides a Prometheus collector.
package pointq
