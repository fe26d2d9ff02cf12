// Package mmap maps local voxel payload files read-only. Payload chunks are
// served as zero-copy ranges of the mapping, and the pages of a range can be
// prefetched or dropped as the traversal moves through a voxel.
//
// A File is safe for concurrent reads. Ranges obtained from it must not be
// used after Close.
package mmap
