// Package checkpoint persists and restores the complete state of an
// evidence accumulator, so accumulation can resume after a process
// restart without re-processing any previously consumed chain.
//
// The on-disk format is a self-describing little-endian binary record: a
// fixed header carrying a magic number, format version, compression
// codec, model variant tag and dimensions, followed by a
// CRC32-protected body holding the fitted model parameters and the
// ordered per-chain statistics. Any structural violation surfaces as
// ErrCorruptCheckpoint; the format never silently truncates.
//
// Checkpoints are written through a blobstore.BlobStore, so the same
// code paths serve local files, S3 and MinIO. Save and Load are the
// plain-file convenience entry points.
package checkpoint
