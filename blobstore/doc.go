// Package blobstore abstracts where voxel payloads and scene manifests live.
//
// A BlobStore hands out read-only Blobs with context-aware ranged reads, so a
// voxel can be loaded to a level of detail by fetching only a prefix of its
// payload. Implementations must be safe for concurrent use.
//
// # Built-in Implementations
//
//   - MemoryStore: in-process map, used by tests and scratch scenes
//   - LocalStore: local directory, reads through read-only mmap
//   - CachingStore: block cache in front of any store
//   - s3.Store: Amazon S3 (subpackage s3)
//   - minio.Store: MinIO and S3-compatible services (subpackage minio)
//
// Remote stores are the ones the stream manager batches fetches for; wrap
// them in a CachingStore so header and chunk reads of the same payload hit
// the backend once.
package blobstore
