// Package manifest persists the catalogue of an exported point scene.
//
// # Overview
//
// A manifest lists the clouds of a scene, their project-space offsets and the
// full octree of each cloud: node bounds, full point counts and, for leaves,
// the key of the voxel payload blob. Opening a scene only needs the manifest;
// voxel payloads are read lazily by level of detail.
//
// # Atomic Protocol
//
// Save follows a two-phase commit:
//
//  1. Write the manifest blob to manifest-NNNNNN.json (N is the version ID)
//  2. Update the CURRENT pointer blob to reference the new manifest
//
// On local filesystems step 2 uses atomic rename. On S3 the pointer update can
// race between writers; DynamoStore replaces the CURRENT blob with a DynamoDB
// conditional write so concurrent commits fail with ErrConcurrentModification.
package manifest
