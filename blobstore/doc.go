// Package blobstore provides the storage abstraction for evidence
// checkpoints.
//
// BlobStore is the interface for reading and writing checkpoint blobs.
// Implementations must be safe for concurrent use. Writes are
// all-or-nothing: a blob never becomes visible under its final name
// until its content is complete.
//
// # Built-in Implementations
//
//   - LocalStore: local filesystem, atomic rename on commit
//   - MemoryStore: in-memory, for tests
//   - RateLimitedStore: wraps any store with a byte-rate limit for
//     background checkpoint uploads
//   - s3.Store: Amazon S3 with managed multipart uploads
//   - minio.Store: MinIO and other S3-compatible object stores
package blobstore
