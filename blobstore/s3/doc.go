// Package s3 implements blobstore.BlobStore for Amazon S3, plus a
// DynamoDB-backed registry that tracks the latest committed checkpoint
// per run so that concurrent accumulator hosts never clobber each other.
package s3
