// Package minio stores scene blobs in MinIO or another S3-compatible service
// through the MinIO client, without the AWS SDK.
//
//	client, err := minio.New("localhost:9000", &minio.Options{
//		Creds: credentials.NewStaticV4("minioadmin", "minioadmin", ""),
//	})
//	store := minioblob.NewStore(client, "point-clouds", "scenes/site-a")
//	scene, err := octree.Open(ctx, store, octree.WithRemote(true))
package minio
