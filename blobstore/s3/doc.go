// Package s3 stores scene blobs in Amazon S3.
//
//	store, err := s3.New(ctx, "point-clouds",
//		s3.WithPrefix("scenes/site-a"),
//		s3.WithRegion("eu-central-1"),
//	)
//	scene, err := octree.Open(ctx, store, octree.WithRemote(true))
//
// Voxel reads are ranged GETs, so a level-of-detail prefix costs one request
// for the bytes it needs. Create streams exports through multipart uploads
// with CRC32C checksums.
package s3
